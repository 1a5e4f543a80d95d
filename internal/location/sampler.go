package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/models"
)

// 拒绝原因
const (
	RejectAccuracy = "accuracy"
)

// ErrSamplerActive 采样器已激活时重复激活
var ErrSamplerActive = errors.New("sampler already active")

// IntervalProvider 提供当前生效的采样间隔
type IntervalProvider interface {
	EffectiveInterval() time.Duration
}

// Callbacks 采样回调
type Callbacks struct {
	OnFix      func(fix models.RawFix)                // 通过精度过滤的定位点
	OnRejected func(fix models.RawFix, reason string) // 被拒绝的定位点
	OnError    func(err error)                        // 传感器错误（权限/服务/超时）
}

// Sampler 定位采样器：包装定位源，应用精度过滤，监控定位超时
type Sampler struct {
	logger            *zap.Logger
	source            Source
	intervals         IntervalProvider
	accuracyThreshold float64       // 米
	fixTimeout        time.Duration // 超时下限，实际取 max(fixTimeout, 3×间隔)

	mu        sync.Mutex
	active    bool
	cancel    context.CancelFunc
	done      chan struct{}
	callbacks Callbacks
	rejected  int
}

// NewSampler 创建采样器
func NewSampler(logger *zap.Logger, source Source, intervals IntervalProvider, accuracyThresholdM float64, fixTimeout time.Duration) *Sampler {
	return &Sampler{
		logger:            logger,
		source:            source,
		intervals:         intervals,
		accuracyThreshold: accuracyThresholdM,
		fixTimeout:        fixTimeout,
	}
}

// Activate 开始采样；重复激活返回 ErrSamplerActive
func (s *Sampler) Activate(ctx context.Context, cb Callbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrSamplerActive
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.active = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.callbacks = cb
	s.rejected = 0

	go s.run(runCtx)

	s.logger.Info("Location sampler activated",
		zap.Float64("accuracy_threshold_m", s.accuracyThreshold),
		zap.Duration("interval", s.intervals.EffectiveInterval()))
	return nil
}

// Deactivate 停止采样；未激活时为空操作（幂等）
func (s *Sampler) Deactivate() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Location sampler deactivated", zap.Int("rejected_fixes", s.RejectedCount()))
}

// IsActive 是否正在采样
func (s *Sampler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// RejectedCount 精度过滤拒绝的定位点数
func (s *Sampler) RejectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// run 采样循环：转发定位点，监控超时
func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.timeoutWindow())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case fix := <-s.source.Fixes():
			// 任何定位点都说明传感器活着，重置超时窗口
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(s.timeoutWindow())
			s.handleFix(fix)

		case err := <-s.source.Errors():
			s.logger.Warn("Location source reported error", zap.Error(err))
			if s.callbacks.OnError != nil {
				s.callbacks.OnError(err)
			}

		case <-timer.C:
			s.logger.Warn("Fix timeout, no position within window",
				zap.Duration("window", s.timeoutWindow()))
			if s.callbacks.OnError != nil {
				s.callbacks.OnError(ErrFixTimeout)
			}
			timer.Reset(s.timeoutWindow())
		}
	}
}

// handleFix 应用精度过滤
func (s *Sampler) handleFix(fix models.RawFix) {
	if fix.Accuracy > s.accuracyThreshold {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()

		s.logger.Debug("Rejected fix by accuracy",
			zap.Float64("accuracy_m", fix.Accuracy),
			zap.Float64("threshold_m", s.accuracyThreshold))
		if s.callbacks.OnRejected != nil {
			s.callbacks.OnRejected(fix, RejectAccuracy)
		}
		return
	}

	if s.callbacks.OnFix != nil {
		s.callbacks.OnFix(fix)
	}
}

// timeoutWindow 超时窗口：至少 fixTimeout，且不小于 3 倍当前采样间隔
func (s *Sampler) timeoutWindow() time.Duration {
	window := 3 * s.intervals.EffectiveInterval()
	if window < s.fixTimeout {
		window = s.fixTimeout
	}
	return window
}
