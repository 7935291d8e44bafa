package model

// Page is one page of extracted PDF text. Numbers are 0-based and need not
// be contiguous: the loader skips pages with no extractable text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// DocumentPages is a loaded document ready for ingestion: the original
// filename plus its extracted pages, in page order.
type DocumentPages struct {
	Filename string `json:"filename"`
	Pages    []Page `json:"pages"`
}

// Chunk is a bounded-length text window cut from one page. Index is the
// chunk's ordinal within the whole document, so (document, Index) names a
// chunk uniquely.
type Chunk struct {
	Text  string `json:"text"`
	Page  int    `json:"page"`
	Index int    `json:"index"`
}

// VectorRecord is the persisted unit in the vector index. Chunk is the
// document-wide chunk ordinal; together with Source it names the record's
// deterministic identity.
type VectorRecord struct {
	ID     string    `json:"id"`
	Values []float32 `json:"values"`
	Text   string    `json:"text"`
	Source string    `json:"source"`
	Page   int       `json:"page"`
	Chunk  int       `json:"chunk"`
}

// Match is one similarity-query result. Ephemeral; never persisted.
type Match struct {
	ID     string  `json:"id"`
	Score  float32 `json:"score"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Page   int     `json:"page"`
}

// IndexStats mirrors the vector index's describe call.
type IndexStats struct {
	TotalVectorCount uint64 `json:"total_vector_count"`
	Dimension        uint64 `json:"dimension"`
}

// AnswerResult is the outcome of one retrieval + synthesis call. Answered is
// false when the index returned no matches, which is a normal outcome and
// not an error.
type AnswerResult struct {
	Answer   string  `json:"answer"`
	Answered bool    `json:"answered"`
	Matches  []Match `json:"matches"`
}
