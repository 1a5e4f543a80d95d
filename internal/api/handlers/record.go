package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/service"
)

// CorrectOdometerRequest 里程修正请求。修正值用指针，里程表 0 是合法读数
type CorrectOdometerRequest struct {
	Value  *float64 `json:"value" binding:"required"`
	Reason string   `json:"reason"`
}

// GetRecord 获取某天的里程记录
// GET /api/records/:date
func (h *Handler) GetRecord(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format, expected YYYY-MM-DD"})
		return
	}

	rec, err := h.mileageService.Get(c.Request.Context(), date)
	if err != nil {
		if errors.Is(err, service.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		h.logger.Error("Failed to load record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// ListRecords 按日期区间列出里程记录
// GET /api/records?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) ListRecords(c *gin.Context) {
	start, end, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.mileageService.GetHistory(c.Request.Context(), start, end)
	if err != nil {
		h.logger.Error("Failed to list records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

// CorrectStart 修正起始里程
// PUT /api/records/:date/start
func (h *Handler) CorrectStart(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format, expected YYYY-MM-DD"})
		return
	}

	var req CorrectOdometerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.mileageService.CorrectStart(c.Request.Context(), date, *req.Value, req.Reason)
	if err != nil {
		h.respondTripError(c, err)
		return
	}

	h.wsHub.BroadcastRecordUpdate(rec)
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// CorrectEnd 修正结束里程
// PUT /api/records/:date/end
func (h *Handler) CorrectEnd(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format, expected YYYY-MM-DD"})
		return
	}

	var req CorrectOdometerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.mileageService.CorrectEnd(c.Request.Context(), date, *req.Value, req.Reason)
	if err != nil {
		if errors.Is(err, service.ErrRecordNotEnded) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.respondTripError(c, err)
		return
	}

	h.wsHub.BroadcastRecordUpdate(rec)
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// ListAnomalies 区间异常检测报告
// GET /api/anomalies?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) ListAnomalies(c *gin.Context) {
	start, end, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reports, err := h.mileageService.DetectAnomalies(c.Request.Context(), start, end)
	if err != nil {
		h.logger.Error("Failed to detect anomalies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to detect anomalies"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": reports})
}

// GetStats 区间里程统计
// GET /api/stats?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) GetStats(c *gin.Context) {
	start, end, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	totalKm, count, err := h.recordRepo.GetStats(c.Request.Context(), start, end)
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"total_km":     totalKm,
			"record_count": count,
		},
	})
}

// parseDateRange 解析区间查询参数；缺省为最近 30 天
func parseDateRange(c *gin.Context) (start, end time.Time, err error) {
	end = time.Now()
	start = end.AddDate(0, 0, -30)

	if s := c.Query("start"); s != "" {
		start, err = time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, errors.New("invalid start date, expected YYYY-MM-DD")
		}
	}
	if s := c.Query("end"); s != "" {
		end, err = time.Parse("2006-01-02", s)
		if err != nil {
			return start, end, errors.New("invalid end date, expected YYYY-MM-DD")
		}
	}
	return start, end, nil
}
