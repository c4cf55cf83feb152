package handlers

import (
	"net/http"

	"documerge/internal/models"
	"documerge/internal/services"

	"github.com/gin-gonic/gin"
)

type MappingHandler struct {
	mappingService  *services.MappingService
	templateService *services.TemplateService
}

func NewMappingHandler(mappingService *services.MappingService, templateService *services.TemplateService) *MappingHandler {
	return &MappingHandler{
		mappingService:  mappingService,
		templateService: templateService,
	}
}

type AutoMapRequest struct {
	Placeholders []string               `json:"placeholders"`
	Fields       []models.ExternalField `json:"fields"`
	Existing     []models.FieldMapping  `json:"existing"`
}

// AutoMap resolves mappings from data the client already has.
func (h *MappingHandler) AutoMap(c *gin.Context) {
	var req AutoMapRequest
	if !bindJSON(c, &req) {
		return
	}
	mappings := h.mappingService.AutoMap(req.Placeholders, req.Fields, req.Existing)
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

// Propose fetches fields and placeholders and auto-maps them. A newer
// proposal on the same wizard session answers this one with 409.
func (h *MappingHandler) Propose(c *gin.Context) {
	var req services.ProposeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.templateService.ResolveConfig(c.Request.Context(), req.TemplateID, req.AirtableConfig); err != nil {
		respondError(c, err)
		return
	}

	proposal, err := h.mappingService.Propose(c.Request.Context(), c.GetHeader(SessionHeader), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}
