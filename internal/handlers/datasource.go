package handlers

import (
	"context"
	"errors"
	"net/http"

	"documerge/internal/models"
	"documerge/internal/services"

	"github.com/gin-gonic/gin"
)

type DataSourceHandler struct {
	airtable        *services.AirtableClient
	templateService *services.TemplateService
}

func NewDataSourceHandler(airtable *services.AirtableClient, templateService *services.TemplateService) *DataSourceHandler {
	return &DataSourceHandler{
		airtable:        airtable,
		templateService: templateService,
	}
}

// DataSourceRequest is a connection config. TemplateID lets the wizard send
// back the masked key of a saved template.
type DataSourceRequest struct {
	TemplateID string `json:"template_id"`
	models.AirtableConfig
}

func (h *DataSourceHandler) config(c *gin.Context) (*models.AirtableConfig, bool) {
	var req DataSourceRequest
	if !bindJSON(c, &req) {
		return nil, false
	}
	cfg := req.AirtableConfig
	if err := h.templateService.ResolveConfig(c.Request.Context(), req.TemplateID, &cfg); err != nil {
		respondError(c, err)
		return nil, false
	}
	return &cfg, true
}

// TestConnection reports upstream failures in the result body; only bad
// input is an HTTP error.
func (h *DataSourceHandler) TestConnection(c *gin.Context) {
	cfg, ok := h.config(c)
	if !ok {
		return
	}

	res, err := h.airtable.TestConnection(c.Request.Context(), cfg)
	if err != nil && (errors.Is(err, models.ErrConfiguration) ||
		errors.Is(err, models.ErrValidation) ||
		errors.Is(err, context.Canceled)) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *DataSourceHandler) ListFields(c *gin.Context) {
	cfg, ok := h.config(c)
	if !ok {
		return
	}

	fields, err := h.airtable.ListFields(c.Request.Context(), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": fields, "total": len(fields)})
}

func (h *DataSourceHandler) ListRecords(c *gin.Context) {
	cfg, ok := h.config(c)
	if !ok {
		return
	}

	records, err := h.airtable.ListRecords(c.Request.Context(), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
}
