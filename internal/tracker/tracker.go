package tracker

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/config"
	"github.com/langchou/drivelog/internal/models"
	"github.com/langchou/drivelog/pkg/geo"
)

var (
	// ErrTrackingAlreadyActive 同一上下文已有活跃会话时拒绝再次启动，防止重复计程
	ErrTrackingAlreadyActive = errors.New("tracking already active")
)

// SpeedObserver 接收车速估计（由功耗控制器实现，用于自适应间隔）
type SpeedObserver interface {
	ObserveSpeed(speedKmh float64)
	ResetSpeed()
}

// FinalSnapshot 会话结束快照
type FinalSnapshot struct {
	SessionID  string                `json:"session_id"`
	DistanceKm float64               `json:"distance_km"`
	Quality    models.QualityMetrics `json:"quality"`
}

// Accumulator 距离累计器：消费有效定位点，维护累计距离和质量指标。
// 会话的唯一写入方，定位点按到达顺序处理。
type Accumulator struct {
	logger   *zap.Logger
	cfg      *config.Config
	speedObs SpeedObserver

	mu       sync.Mutex
	session  *models.TrackingSession
	lastStop FinalSnapshot // 上一次停止的快照，停止操作幂等

	subscribers  []chan models.TrackingUpdate
	lastNotified float64
}

// New 创建距离累计器
func New(logger *zap.Logger, cfg *config.Config, speedObs SpeedObserver) *Accumulator {
	return &Accumulator{
		logger:   logger,
		cfg:      cfg,
		speedObs: speedObs,
	}
}

// Start 打开跟踪会话；已有活跃会话时返回 ErrTrackingAlreadyActive
func (a *Accumulator) Start(startOdometer float64) (models.TrackingSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return models.TrackingSession{}, ErrTrackingAlreadyActive
	}

	a.session = &models.TrackingSession{
		ID:            uuid.New().String(),
		StartTime:     time.Now(),
		StartOdometer: startOdometer,
	}
	a.lastNotified = 0

	a.logger.Info("Tracking session started",
		zap.String("session_id", a.session.ID),
		zap.Float64("start_odometer", startOdometer))

	a.notifyLocked()
	return *a.session, nil
}

// HandleFix 处理通过精度过滤的定位点：速度门限后累计距离。
// 首个定位点没有前一点可比较，贡献零距离。
func (a *Accumulator) HandleFix(fix models.RawFix) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return
	}

	s := a.session
	s.TotalFixes++

	if s.LastFix != nil {
		dt := fix.Timestamp.Sub(*s.LastFixAt)
		dist := geo.HaversineKm(s.LastFix.Latitude, s.LastFix.Longitude, fix.Latitude, fix.Longitude)

		// 非正时间差或不合理瞬时速度视为 GPS 跳点，按精度失败处理：
		// 计入观测数但不计入有效数，不累计距离
		if dt <= 0 {
			a.logger.Debug("Rejected fix with non-positive time delta", zap.Duration("dt", dt))
			return
		}
		speedKmh := dist / dt.Hours()
		if speedKmh > a.cfg.MaxPlausibleSpeed {
			a.logger.Debug("Rejected implausible fix",
				zap.Float64("speed_kmh", speedKmh),
				zap.Float64("max_kmh", a.cfg.MaxPlausibleSpeed))
			return
		}

		s.DistanceKm += dist
		if a.speedObs != nil {
			a.speedObs.ObserveSpeed(speedKmh)
		}
	}

	s.AcceptedFixes++
	f := fix
	t := fix.Timestamp
	s.LastFix = &f
	s.LastFixAt = &t

	// 距离变化超过 epsilon 才通知观察者，避免每个定位点都唤醒消费者
	if s.DistanceKm-a.lastNotified > a.cfg.DistanceEpsilonKm {
		a.notifyLocked()
		a.lastNotified = s.DistanceKm
	}
}

// HandleRejected 记录被精度过滤拒绝的定位点（只计观测数，降低有效率）
func (a *Accumulator) HandleRejected(fix models.RawFix, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return
	}
	a.session.TotalFixes++
}

// Stop 结束会话并返回最终快照；幂等，未启动时返回零值快照
func (a *Accumulator) Stop() FinalSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return a.lastStop
	}

	a.lastStop = FinalSnapshot{
		SessionID:  a.session.ID,
		DistanceKm: a.session.DistanceKm,
		Quality:    a.session.Quality(),
	}
	a.session = nil
	if a.speedObs != nil {
		a.speedObs.ResetSpeed()
	}

	a.logger.Info("Tracking session stopped",
		zap.String("session_id", a.lastStop.SessionID),
		zap.Float64("distance_km", a.lastStop.DistanceKm),
		zap.Int("total_fixes", a.lastStop.Quality.TotalFixes),
		zap.Int("accepted_fixes", a.lastStop.Quality.AcceptedFixes))

	a.notifyLocked()
	return a.lastStop
}

// CurrentDistance 当前累计距离（只读）
func (a *Accumulator) CurrentDistance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return 0
	}
	return a.session.DistanceKm
}

// IsTracking 是否处于活跃会话（只读）
func (a *Accumulator) IsTracking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// Quality 当前质量指标（只读）
func (a *Accumulator) Quality() models.QualityMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return a.lastStop.Quality
	}
	return a.session.Quality()
}

// Snapshot 活跃会话的一致性快照；无活跃会话时返回 false
func (a *Accumulator) Snapshot() (models.TrackingSession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return models.TrackingSession{}, false
	}
	return *a.session, true
}

// Subscribe 订阅去抖后的跟踪状态更新
func (a *Accumulator) Subscribe() <-chan models.TrackingUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan models.TrackingUpdate, 10)
	a.subscribers = append(a.subscribers, ch)
	return ch
}

// notifyLocked 通知所有订阅者（跳过慢消费者）；调用方需持锁
func (a *Accumulator) notifyLocked() {
	update := models.TrackingUpdate{}
	if a.session != nil {
		update.SessionID = a.session.ID
		update.Tracking = true
		update.DistanceKm = a.session.DistanceKm
		update.Quality = a.session.Quality()
	} else {
		update.SessionID = a.lastStop.SessionID
		update.DistanceKm = a.lastStop.DistanceKm
		update.Quality = a.lastStop.Quality
	}

	for _, ch := range a.subscribers {
		select {
		case ch <- update:
		default:
			// 跳过慢消费者
		}
	}
}
