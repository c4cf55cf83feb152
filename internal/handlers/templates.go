package handlers

import (
	"net/http"

	"documerge/internal/models"
	"documerge/internal/services"

	"github.com/gin-gonic/gin"
)

type TemplateHandler struct {
	templateService *services.TemplateService
}

func NewTemplateHandler(templateService *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templateService: templateService}
}

func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.templateService.ListTemplates(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]services.TemplateView, 0, len(templates))
	for i := range templates {
		views = append(views, services.NewTemplateView(&templates[i]))
	}
	c.JSON(http.StatusOK, gin.H{"templates": views, "total": len(views)})
}

func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	t, err := h.templateService.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.NewTemplateView(t))
}

func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var t models.Template
	if !bindJSON(c, &t) {
		return
	}

	created, err := h.templateService.CreateTemplate(c.Request.Context(), &t)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, services.NewTemplateView(created))
}

func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	var t models.Template
	if !bindJSON(c, &t) {
		return
	}

	updated, err := h.templateService.UpdateTemplate(c.Request.Context(), c.Param("id"), &t)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, services.NewTemplateView(updated))
}

func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	if err := h.templateService.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Template deleted"})
}

type ValidateStepRequest struct {
	Step     int             `json:"step"`
	Template models.Template `json:"template"`
}

// ValidateStep checks one wizard step without saving anything.
func (h *TemplateHandler) ValidateStep(c *gin.Context) {
	var req ValidateStepRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.templateService.ValidateStep(c.Request.Context(), &req.Template, req.Step); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid": true,
		"step":  req.Step,
		"stage": req.Template.Stage(),
	})
}

func (h *TemplateHandler) ListMappings(c *gin.Context) {
	mappings, err := h.templateService.ListMappings(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if mappings == nil {
		mappings = []models.FieldMapping{}
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

type ReplaceMappingsRequest struct {
	Mappings []models.FieldMapping `json:"mappings"`
}

func (h *TemplateHandler) ReplaceMappings(c *gin.Context) {
	var req ReplaceMappingsRequest
	if !bindJSON(c, &req) {
		return
	}

	saved, err := h.templateService.ReplaceMappings(c.Request.Context(), c.Param("id"), req.Mappings)
	if err != nil {
		respondError(c, err)
		return
	}
	if saved == nil {
		saved = []models.FieldMapping{}
	}
	c.JSON(http.StatusOK, gin.H{"mappings": saved})
}

func (h *TemplateHandler) DeleteMapping(c *gin.Context) {
	if err := h.templateService.DeleteMapping(c.Request.Context(), c.Param("id"), c.Query("placeholder")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Mapping deleted"})
}

// AutoMap re-maps a saved template against its live table and document.
func (h *TemplateHandler) AutoMap(c *gin.Context) {
	proposal, err := h.templateService.AutoMapTemplate(c.Request.Context(), c.GetHeader(SessionHeader), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

func (h *TemplateHandler) ListRecords(c *gin.Context) {
	records, err := h.templateService.ListTemplateRecords(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
}
