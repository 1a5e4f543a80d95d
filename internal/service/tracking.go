package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/location"
	"github.com/langchou/drivelog/internal/models"
	"github.com/langchou/drivelog/internal/tracker"
)

// TrackingService 将采样器、距离累计器和里程核对引擎串成一次行程：
// 开始行程时记录起始里程并激活采样，结束时停止采样并核对结束里程。
type TrackingService struct {
	logger      *zap.Logger
	sampler     *location.Sampler
	accumulator *tracker.Accumulator
	mileage     *MileageService

	mu         sync.Mutex
	activeDate time.Time
	active     bool
}

// NewTrackingService 创建行程跟踪服务
func NewTrackingService(logger *zap.Logger, sampler *location.Sampler, accumulator *tracker.Accumulator, mileage *MileageService) *TrackingService {
	return &TrackingService{
		logger:      logger,
		sampler:     sampler,
		accumulator: accumulator,
		mileage:     mileage,
	}
}

// StartTrip 开始当日行程：记录起始里程；启用 GPS 时打开跟踪会话并激活采样。
// 采样激活失败不是致命错误，行程转入手动录入模式继续。
func (t *TrackingService) StartTrip(ctx context.Context, date time.Time, startOdometer float64, gpsEnabled bool) (*models.MileageRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		return nil, tracker.ErrTrackingAlreadyActive
	}

	rec, err := t.mileage.RecordStart(ctx, date, startOdometer, gpsEnabled)
	if err != nil {
		return nil, err
	}

	if !gpsEnabled {
		return rec, nil
	}

	if _, err := t.accumulator.Start(startOdometer); err != nil {
		return nil, err
	}

	day := date
	cb := location.Callbacks{
		OnFix:      t.accumulator.HandleFix,
		OnRejected: t.accumulator.HandleRejected,
		OnError:    func(sensorErr error) { t.handleSensorError(day, sensorErr) },
	}
	// 采样生命周期跟随行程而不是本次调用，不能绑定请求级 context
	if err := t.sampler.Activate(context.Background(), cb); err != nil {
		// 传感器不可用，保留已打开的会话进度并回退到手动录入
		t.logger.Warn("Sampler activation failed, falling back to manual entry", zap.Error(err))
		snap := t.accumulator.Stop()
		if fallbackErr := t.mileage.HandleGpsLoss(ctx, day, snap, err); fallbackErr != nil {
			t.logger.Error("GPS loss fallback failed", zap.Error(fallbackErr))
		}
		return rec, nil
	}

	t.active = true
	t.activeDate = day
	return rec, nil
}

// EndTrip 结束当日行程。有活跃 GPS 会话时用最终快照核对结束里程，
// 否则要求手动结束里程表读数。
func (t *TrackingService) EndTrip(ctx context.Context, date time.Time, endOdometer *float64) (*models.MileageRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		t.sampler.Deactivate()
		t.active = false
		snap := t.accumulator.Stop()
		return t.mileage.RecordEnd(ctx, date, endOdometer, &snap)
	}

	return t.mileage.RecordEnd(ctx, date, endOdometer, nil)
}

// handleSensorError 采样回调里的传感器错误处理。
// 回调在采样循环的 goroutine 上执行，Deactivate 会等待该 goroutine 退出，
// 必须另起 goroutine 做回退，否则死锁。
func (t *TrackingService) handleSensorError(date time.Time, sensorErr error) {
	if !isFatalSensorError(sensorErr) {
		return
	}

	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if !t.active {
			return
		}
		t.sampler.Deactivate()
		t.active = false

		snap := t.accumulator.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.mileage.HandleGpsLoss(ctx, date, snap, sensorErr); err != nil {
			t.logger.Error("GPS loss fallback failed", zap.Error(err))
		}
	}()
}

// Shutdown 进程退出前同步落盘活跃会话的进度，避免丢失行程数据
func (t *TrackingService) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return nil
	}

	session, ok := t.accumulator.Snapshot()
	if !ok {
		return nil
	}

	if err := t.mileage.FlushProgress(ctx, t.activeDate, session); err != nil {
		return err
	}

	t.sampler.Deactivate()
	t.active = false
	t.accumulator.Stop()
	return nil
}

// IsTracking 是否有活跃行程会话
func (t *TrackingService) IsTracking() bool {
	return t.accumulator.IsTracking()
}

// CurrentDistance 当前行程累计距离
func (t *TrackingService) CurrentDistance() float64 {
	return t.accumulator.CurrentDistance()
}

// CurrentQuality 当前会话质量指标
func (t *TrackingService) CurrentQuality() models.QualityMetrics {
	return t.accumulator.Quality()
}

// isFatalSensorError 判断是否需要回退到手动录入的传感器错误
func isFatalSensorError(err error) bool {
	return errors.Is(err, location.ErrPermissionDenied) ||
		errors.Is(err, location.ErrServiceDisabled) ||
		errors.Is(err, location.ErrFixTimeout)
}
