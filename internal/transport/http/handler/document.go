package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/app"
	"pdfchat/internal/model"
	"pdfchat/internal/platform/rabbitmq"
	"pdfchat/internal/repository"
	"pdfchat/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

// DocumentRegistry is the registry surface the upload path consumes.
type DocumentRegistry interface {
	Create(doc *model.Document) error
	GetByFilename(filename string) (*model.Document, error)
	MarkPending(id uint) error
	MarkFailed(id uint, cause string) error
}

// IngestQueue enqueues one spooled upload for the worker.
type IngestQueue interface {
	Publish(ctx context.Context, job rabbitmq.IngestJob) error
}

type DocumentHandler struct {
	docService *app.DocumentService
	repo       DocumentRegistry
	publisher  IngestQueue
	uploadDir  string
}

func NewDocumentHandler(
	docService *app.DocumentService,
	repo DocumentRegistry,
	publisher IngestQueue,
	uploadDir string,
) *DocumentHandler {
	return &DocumentHandler{
		docService: docService,
		repo:       repo,
		publisher:  publisher,
		uploadDir:  uploadDir,
	}
}

// Upload accepts a multipart form with "file" (PDF), spools it to disk,
// registers the document as pending, and enqueues an ingest job. Returns
// 202: ingestion happens on the worker.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are allowed")
		return
	}

	filename := filepath.Base(strings.TrimSpace(file.Filename))
	existing, err := h.repo.GetByFilename(filename)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "lookup document failed")
		return
	}
	if existing != nil && existing.Status != model.DocumentStatusFailed {
		response.Error(c, http.StatusConflict, response.CodeDuplicateDocument,
			fmt.Sprintf("document %s is already %s", filename, existing.Status))
		return
	}

	spoolPath, err := h.spool(file)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "store upload failed: "+err.Error())
		return
	}

	doc := existing
	if doc == nil {
		doc = &model.Document{Filename: filename, Status: model.DocumentStatusPending}
		if err := h.repo.Create(doc); err != nil {
			_ = os.Remove(spoolPath)
			// A concurrent upload of the same filename can win the race
			// between the lookup above and this insert.
			if errors.Is(err, repository.ErrDuplicateFilename) {
				response.Error(c, http.StatusConflict, response.CodeDuplicateDocument,
					fmt.Sprintf("document %s is already registered", filename))
				return
			}
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register document failed")
			return
		}
	} else if err := h.repo.MarkPending(doc.ID); err != nil {
		_ = os.Remove(spoolPath)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register document failed")
		return
	}

	job := rabbitmq.IngestJob{
		DocumentID: doc.ID,
		Filename:   filename,
		Path:       spoolPath,
	}
	if err := h.publisher.Publish(c.Request.Context(), job); err != nil {
		_ = os.Remove(spoolPath)
		_ = h.repo.MarkFailed(doc.ID, "enqueue failed: "+err.Error())
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "enqueue ingest job failed")
		return
	}

	response.Accepted(c, gin.H{
		"document_id": doc.ID,
		"filename":    filename,
		"status":      model.DocumentStatusPending,
	})
}

func (h *DocumentHandler) spool(file *multipart.FileHeader) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(h.uploadDir, "pdfchat-upload-*.pdf")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docService.List()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	filename := strings.TrimSpace(c.Param("filename"))
	if filename == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing filename")
		return
	}
	if err := h.docService.Delete(c.Request.Context(), filename); err != nil {
		switch {
		case errors.Is(err, app.ErrDocumentNotFound):
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted": filename})
}
