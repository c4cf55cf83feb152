package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"documerge/internal/models"
	"documerge/internal/services"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type GenerationHandler struct {
	generationService *services.GenerationService
}

func NewGenerationHandler(generationService *services.GenerationService) *GenerationHandler {
	return &GenerationHandler{generationService: generationService}
}

func generationFilter(c *gin.Context) models.GenerationFilter {
	return models.GenerationFilter{
		Status:     models.GenerationStatus(c.Query("status")),
		TemplateID: c.Query("template_id"),
	}
}

func (h *GenerationHandler) ListGenerations(c *gin.Context) {
	p := parsePaging(c, 50, 1000)
	filter := generationFilter(c)
	filter.Limit, filter.Offset = p.Limit, p.Offset

	generations, total, err := h.generationService.ListGenerations(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if generations == nil {
		generations = []models.Generation{}
	}

	c.JSON(http.StatusOK, gin.H{
		"generations": generations,
		"total":       total,
		"page":        p.Page,
		"limit":       p.Limit,
		"total_pages": p.totalPages(total),
	})
}

func (h *GenerationHandler) GetGeneration(c *gin.Context) {
	gen, err := h.generationService.GetGeneration(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gen)
}

// Generate renders one record synchronously. A failed render still answers
// with the failed generation next to the error.
func (h *GenerationHandler) Generate(c *gin.Context) {
	var req services.GenerateRequest
	if !bindJSON(c, &req) {
		return
	}

	gen, err := h.generationService.Generate(c.Request.Context(), req)
	if err != nil {
		if gen != nil {
			respondErrorWith(c, err, gin.H{"generation": gen})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gen)
}

type UpdateStatusRequest struct {
	Status models.GenerationStatus `json:"status"`
	models.GenerationOutcome
}

func (h *GenerationHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	gen, err := h.generationService.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, req.GenerationOutcome)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gen)
}

func (h *GenerationHandler) DeleteGeneration(c *gin.Context) {
	if err := h.generationService.DeleteGeneration(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Generation deleted"})
}

// Export downloads the filtered history as a spreadsheet. The workbook is
// built in memory so a failure can still be reported as JSON.
func (h *GenerationHandler) Export(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.generationService.ExportXLSX(c.Request.Context(), generationFilter(c), &buf); err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("generations_%s.xlsx", time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *GenerationHandler) DashboardStats(c *gin.Context) {
	stats, err := h.generationService.Stats(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
