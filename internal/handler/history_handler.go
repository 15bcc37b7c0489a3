package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"health-coach-go/internal/middleware"
	"health-coach-go/internal/model"
	"health-coach-go/internal/service"
	"health-coach-go/pkg/log"
)

// HistoryHandler 处理对话历史查询。
type HistoryHandler struct {
	service service.HistoryService
}

// NewHistoryHandler 创建一个新的 HistoryHandler。
func NewHistoryHandler(service service.HistoryService) *HistoryHandler {
	return &HistoryHandler{service: service}
}

// GetThread 返回当前用户在某个线程内的历史记录，按时间正序。
func (h *HistoryHandler) GetThread(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		middleware.AbortWithError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	threadID := strings.TrimSpace(c.Param("threadId"))
	if threadID == "" || len(threadID) > model.MaxThreadIDLength {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid thread id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.service.ListThread(c.Request.Context(), claims.UserID, threadID, limit)
	if err != nil {
		log.Errorw("查询对话历史失败", "requestId", middleware.RequestIDFrom(c), "error", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, "failed to retrieve conversation history")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":      http.StatusOK,
		"message":   "success",
		"data":      items,
		"requestId": middleware.RequestIDFrom(c),
	})
}
