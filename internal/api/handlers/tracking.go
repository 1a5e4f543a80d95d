package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/location"
	"github.com/langchou/drivelog/internal/models"
	"github.com/langchou/drivelog/internal/service"
	"github.com/langchou/drivelog/internal/tracker"
	"github.com/langchou/drivelog/pkg/ws"
)

// StartTripRequest 开始行程请求。数值字段用指针区分缺失和合法的零值
type StartTripRequest struct {
	StartOdometer *float64 `json:"start_odometer" binding:"required"`
	GpsEnabled    bool     `json:"gps_enabled"`
	Date          string   `json:"date"` // YYYY-MM-DD，缺省为今天
}

// EndTripRequest 结束行程请求
type EndTripRequest struct {
	EndOdometer *float64 `json:"end_odometer"` // GPS 行程可省略
	Date        string   `json:"date"`
}

// UploadFixRequest 定位点上报请求。经纬度用指针，赤道/本初子午线上的 0 是合法坐标
type UploadFixRequest struct {
	Latitude  *float64  `json:"latitude" binding:"required"`
	Longitude *float64  `json:"longitude" binding:"required"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorStatusRequest 传感器状态上报请求
type SensorStatusRequest struct {
	Status string `json:"status" binding:"required"` // permission_denied / service_disabled
}

// StartTrip 开始当日行程
// POST /api/trip/start
func (h *Handler) StartTrip(c *gin.Context) {
	var req StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format, expected YYYY-MM-DD"})
		return
	}

	rec, err := h.trackingService.StartTrip(c.Request.Context(), date, *req.StartOdometer, req.GpsEnabled)
	if err != nil {
		h.respondTripError(c, err)
		return
	}

	h.wsHub.BroadcastRecordUpdate(rec)
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// EndTrip 结束当日行程
// POST /api/trip/end
func (h *Handler) EndTrip(c *gin.Context) {
	var req EndTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	date, err := parseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format, expected YYYY-MM-DD"})
		return
	}

	rec, err := h.trackingService.EndTrip(c.Request.Context(), date, req.EndOdometer)
	if err != nil {
		h.respondTripError(c, err)
		return
	}

	h.wsHub.BroadcastRecordUpdate(rec)
	c.JSON(http.StatusOK, gin.H{"data": rec})
}

// GetTripState 获取当前行程状态
// GET /api/trip/state
func (h *Handler) GetTripState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"tracking":    h.trackingService.IsTracking(),
			"distance_km": h.trackingService.CurrentDistance(),
			"quality":     h.trackingService.CurrentQuality(),
		},
	})
}

// UploadFix 设备上报定位点。
// 响应携带设备下次上报前应等待的间隔，设备据此自行调整采样频率。
// POST /api/device/fix
func (h *Handler) UploadFix(c *gin.Context) {
	var req UploadFixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	accepted := h.deviceSource.PushFix(models.RawFix{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		Timestamp: ts,
	})
	if !accepted {
		h.logger.Warn("Fix dropped, source buffer full")
	}

	c.JSON(http.StatusOK, gin.H{
		"accepted":         accepted,
		"next_interval_ms": h.powerController.EffectiveInterval().Milliseconds(),
	})
}

// ReportSensorStatus 设备上报传感器状态（权限被拒/服务关闭）
// POST /api/device/sensor
func (h *Handler) ReportSensorStatus(c *gin.Context) {
	var req SensorStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sensorErr := location.ErrorForStatus(req.Status)
	if sensorErr == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown sensor status"})
		return
	}

	h.deviceSource.ReportError(sensorErr)
	h.logger.Warn("Device reported sensor failure", zap.String("status", req.Status))
	c.JSON(http.StatusOK, gin.H{"message": "Sensor status recorded"})
}

// respondTripError 行程错误到 HTTP 状态码的映射
func (h *Handler) respondTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidOdometer):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, tracker.ErrTrackingAlreadyActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPersistence):
		h.logger.Error("Trip persistence failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist record, data retained in memory"})
	default:
		h.logger.Error("Trip operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Trip operation failed"})
	}
}

// parseDate 解析 YYYY-MM-DD；空串返回今天
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	return time.Parse("2006-01-02", s)
}

// InitData 构造 WebSocket 初始数据
func (h *Handler) InitData() *ws.InitData {
	return &ws.InitData{
		Tracking: gin.H{
			"tracking":    h.trackingService.IsTracking(),
			"distance_km": h.trackingService.CurrentDistance(),
			"quality":     h.trackingService.CurrentQuality(),
		},
		Power: gin.H{
			"config":  h.powerController.Config(),
			"battery": h.powerController.Battery(),
		},
	}
}
