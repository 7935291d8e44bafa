package chunker

import (
	"fmt"
	"strings"

	"pdfchat/internal/model"
)

// Chunker cuts page text into overlapping fixed-size windows. Windows never
// cross a page boundary, so every chunk is attributed to exactly one page:
// the page containing its start offset.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window geometry up front. An overlap equal to or larger
// than the window size would make the cursor stand still or walk backwards,
// so that is rejected here rather than at split time.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunker: overlap must be non-negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunker: overlap (%d) must be smaller than size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split windows every page in order. Consecutive chunks drawn from the same
// page share exactly overlap runes: the trailing overlap of chunk i equals
// the leading overlap of chunk i+1. A page shorter than the window yields a
// single chunk with the page's full text; a blank page yields none.
// Chunk.Index is the ordinal across the whole document.
func (c *Chunker) Split(pages []model.Page) []model.Chunk {
	var chunks []model.Chunk
	index := 0
	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		runes := []rune(page.Text)
		stride := c.size - c.overlap
		for start := 0; start < len(runes); start += stride {
			end := start + c.size
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, model.Chunk{
				Text:  string(runes[start:end]),
				Page:  page.Number,
				Index: index,
			})
			index++
			if end == len(runes) {
				break
			}
		}
	}
	return chunks
}
