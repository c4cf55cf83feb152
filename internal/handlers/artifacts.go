package handlers

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"documerge/internal/storage"

	"github.com/gin-gonic/gin"
)

type ArtifactHandler struct {
	store storage.ArtifactStore
}

func NewArtifactHandler(store storage.ArtifactStore) *ArtifactHandler {
	return &ArtifactHandler{store: store}
}

// Download streams a stored PDF. The route uses a catch-all so object names
// keep their generation prefix.
func (h *ArtifactHandler) Download(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")

	rc, err := h.store.Open(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", path.Base(name)),
	}
	c.DataFromReader(http.StatusOK, -1, "application/pdf", rc, headers)
}
