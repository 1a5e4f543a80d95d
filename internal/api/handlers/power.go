package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UpdateBatteryRequest 电池状态上报请求
type UpdateBatteryRequest struct {
	Level    *float64 `json:"level" binding:"required"` // 0-100
	Charging bool     `json:"charging"`
}

// SetPowerModeRequest 功耗模式设置请求
type SetPowerModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SetThresholdRequest 自动降级阈值设置请求
type SetThresholdRequest struct {
	Threshold *float64 `json:"threshold" binding:"required"`
}

// SetAdaptiveRequest 自适应间隔开关请求
type SetAdaptiveRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// UpdateBattery 设备上报电池状态
// POST /api/device/battery
func (h *Handler) UpdateBattery(c *gin.Context) {
	var req UpdateBatteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if *req.Level < 0 || *req.Level > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Battery level out of range"})
		return
	}

	h.powerController.UpdateBattery(*req.Level, req.Charging)
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"battery":          h.powerController.Battery(),
			"next_interval_ms": h.powerController.EffectiveInterval().Milliseconds(),
		},
	})
}

// GetPower 获取功耗配置和电池状态
// GET /api/power
func (h *Handler) GetPower(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"config":           h.powerController.Config(),
			"battery":          h.powerController.Battery(),
			"next_interval_ms": h.powerController.EffectiveInterval().Milliseconds(),
		},
	})
}

// SetPowerMode 设置功耗模式
// PUT /api/power/mode
func (h *Handler) SetPowerMode(c *gin.Context) {
	var req SetPowerModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.powerController.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.powerController.Config()})
}

// SetBatteryThreshold 设置自动降级阈值
// PUT /api/power/threshold
func (h *Handler) SetBatteryThreshold(c *gin.Context) {
	var req SetThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.powerController.SetBatteryThreshold(*req.Threshold); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": h.powerController.Config()})
}

// SetAdaptive 开关按车速自适应间隔
// PUT /api/power/adaptive
func (h *Handler) SetAdaptive(c *gin.Context) {
	var req SetAdaptiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.powerController.SetAdaptiveEnabled(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"data": h.powerController.Config()})
}

// GetRecommendation 根据近期里程给出功耗模式建议
// GET /api/power/recommendation
func (h *Handler) GetRecommendation(c *gin.Context) {
	start, end, err := parseDateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.mileageService.GetHistory(c.Request.Context(), start, end)
	if err != nil {
		h.logger.Error("Failed to load record history for recommendation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load record history"})
		return
	}

	var dailyKm []float64
	for _, rec := range records {
		if rec.IsComplete {
			dailyKm = append(dailyKm, rec.DistanceKm)
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": h.powerController.Recommend(dailyKm)})
}
