package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/location"
	"github.com/langchou/drivelog/internal/power"
	"github.com/langchou/drivelog/internal/repository"
	"github.com/langchou/drivelog/internal/service"
	"github.com/langchou/drivelog/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger          *zap.Logger
	trackingService *service.TrackingService
	mileageService  *service.MileageService
	powerController *power.Controller
	deviceSource    *location.DeviceSource
	recordRepo      *repository.RecordRepository
	wsHub           *ws.Hub
	upgrader        websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	trackingService *service.TrackingService,
	mileageService *service.MileageService,
	powerController *power.Controller,
	deviceSource *location.DeviceSource,
	recordRepo *repository.RecordRepository,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:          logger,
		trackingService: trackingService,
		mileageService:  mileageService,
		powerController: powerController,
		deviceSource:    deviceSource,
		recordRepo:      recordRepo,
		wsHub:           wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 行程跟踪
		api.POST("/trip/start", h.StartTrip)
		api.POST("/trip/end", h.EndTrip)
		api.GET("/trip/state", h.GetTripState)

		// 设备上报
		api.POST("/device/fix", h.UploadFix)
		api.POST("/device/sensor", h.ReportSensorStatus)
		api.POST("/device/battery", h.UpdateBattery)

		// 里程记录
		api.GET("/records", h.ListRecords)
		api.GET("/records/:date", h.GetRecord)
		api.PUT("/records/:date/start", h.CorrectStart)
		api.PUT("/records/:date/end", h.CorrectEnd)
		api.GET("/stats", h.GetStats)
		api.GET("/anomalies", h.ListAnomalies)

		// 功耗
		api.GET("/power", h.GetPower)
		api.PUT("/power/mode", h.SetPowerMode)
		api.PUT("/power/threshold", h.SetBatteryThreshold)
		api.PUT("/power/adaptive", h.SetAdaptive)
		api.GET("/power/recommendation", h.GetRecommendation)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"tracking":   h.trackingService.IsTracking(),
		"ws_clients": h.wsHub.ClientCount(),
	})
}
