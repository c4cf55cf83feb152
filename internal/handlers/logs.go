package handlers

import (
	"encoding/json"
	"net/http"

	"documerge/internal/models"
	"documerge/internal/services"

	"github.com/gin-gonic/gin"
)

const historySize = 100

type LogsHandler struct {
	activityLogService *services.ActivityLogService
}

func NewLogsHandler(activityLogService *services.ActivityLogService) *LogsHandler {
	return &LogsHandler{
		activityLogService: activityLogService,
	}
}

type LogsResponse struct {
	Logs       []models.ActivityLog `json:"logs"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"total_pages"`
}

// GetAllLogs returns activity logs with pagination, optionally filtered by
// method and path.
func (h *LogsHandler) GetAllLogs(c *gin.Context) {
	p := parsePaging(c, 50, 1000)

	logs, total, err := h.activityLogService.ListLogs(c.Request.Context(), models.ActivityLogFilter{
		Method: c.Query("method"),
		Path:   c.Query("path"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []models.ActivityLog{}
	}

	c.JSON(http.StatusOK, LogsResponse{
		Logs:       logs,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.totalPages(total),
	})
}

func (h *LogsHandler) GetLogStats(c *gin.Context) {
	stats, err := h.activityLogService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetHistory returns recent writes that carried a body, with the body
// decoded when it is JSON.
func (h *LogsHandler) GetHistory(c *gin.Context) {
	logs, _, err := h.activityLogService.ListLogs(c.Request.Context(), models.ActivityLogFilter{
		Method: http.MethodPost,
		Limit:  historySize,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	history := make([]gin.H, 0, len(logs))
	for _, log := range logs {
		if log.RequestBody == "" {
			continue
		}
		entry := gin.H{
			"timestamp":     log.CreatedAt,
			"path":          log.Path,
			"template_id":   log.TemplateID,
			"status_code":   log.StatusCode,
			"ip_address":    log.IPAddress,
			"user_agent":    log.UserAgent,
			"response_time": log.ResponseTime,
		}
		var userData any
		if err := json.Unmarshal([]byte(log.RequestBody), &userData); err == nil {
			entry["user_data"] = userData
		} else {
			entry["raw_body"] = log.RequestBody
		}
		history = append(history, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"total":   len(history),
	})
}
