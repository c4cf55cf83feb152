package handlers

import (
	"net/http"

	"documerge/internal/services"

	"github.com/gin-gonic/gin"
)

type DocumentHandler struct {
	docs *services.GoogleDocsClient
}

func NewDocumentHandler(docs *services.GoogleDocsClient) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

type DocumentRequest struct {
	GoogleDocURL string `json:"google_doc_url"`
}

func (h *DocumentHandler) GetPlaceholders(c *gin.Context) {
	var req DocumentRequest
	if !bindJSON(c, &req) {
		return
	}

	placeholders, err := h.docs.GetPlaceholders(c.Request.Context(), req.GoogleDocURL)
	if err != nil {
		respondError(c, err)
		return
	}
	if placeholders == nil {
		placeholders = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"placeholders": placeholders, "count": len(placeholders)})
}

// ValidateDocument answers 200 for reachable and unreachable documents
// alike; the verdict is in the body.
func (h *DocumentHandler) ValidateDocument(c *gin.Context) {
	var req DocumentRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.docs.ValidateDocument(c.Request.Context(), req.GoogleDocURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *DocumentHandler) SharingInstructions(c *gin.Context) {
	c.JSON(http.StatusOK, h.docs.SharingInstructions())
}
