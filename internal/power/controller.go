package power

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/config"
	"github.com/langchou/drivelog/internal/models"
)

// ErrUnknownMode 未知功耗模式
type ErrUnknownMode struct {
	Mode string
}

func (e *ErrUnknownMode) Error() string {
	return fmt.Sprintf("unknown power mode: %s", e.Mode)
}

// Controller 功耗模式控制器：维护电池状态和功耗配置，计算生效采样间隔
type Controller struct {
	logger *zap.Logger
	cfg    *config.Config

	mu        sync.RWMutex
	power     models.PowerConfig
	battery   models.BatteryStatus
	speedKmh  float64 // 最近两个有效定位点估算的车速
	haveSpeed bool
}

// NewController 创建控制器
func NewController(logger *zap.Logger, cfg *config.Config) *Controller {
	c := &Controller{
		logger: logger,
		cfg:    cfg,
		power: models.PowerConfig{
			Mode:             models.PowerModeBalanced,
			BatteryThreshold: cfg.BatteryThreshold,
			AdaptiveInterval: cfg.AdaptiveInterval,
		},
		battery: models.BatteryStatus{
			Level:      100,
			ActiveMode: models.PowerModeBalanced,
		},
	}
	return c
}

// UpdateBattery 更新电池状态并重新计算生效模式
func (c *Controller) UpdateBattery(level float64, charging bool) {
	c.mu.Lock()
	c.battery.Level = level
	c.battery.Charging = charging
	prev := c.battery.ActiveMode
	c.battery.ActiveMode = c.resolveModeLocked()
	mode := c.battery.ActiveMode
	c.mu.Unlock()

	if mode != prev {
		c.logger.Info("Power mode switched",
			zap.String("from", prev),
			zap.String("to", mode),
			zap.Float64("battery_level", level),
			zap.Bool("charging", charging))
	}
}

// SetMode 设置用户选择的功耗模式
func (c *Controller) SetMode(mode string) error {
	switch mode {
	case models.PowerModeHighAccuracy, models.PowerModeBalanced, models.PowerModePowerSaver:
	default:
		return &ErrUnknownMode{Mode: mode}
	}

	c.mu.Lock()
	c.power.Mode = mode
	c.battery.ActiveMode = c.resolveModeLocked()
	active := c.battery.ActiveMode
	c.mu.Unlock()

	c.logger.Info("Power mode set", zap.String("mode", mode), zap.String("active_mode", active))
	return nil
}

// SetBatteryThreshold 设置自动降级阈值
func (c *Controller) SetBatteryThreshold(threshold float64) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("battery threshold out of range: %v", threshold)
	}

	c.mu.Lock()
	c.power.BatteryThreshold = threshold
	c.battery.ActiveMode = c.resolveModeLocked()
	c.mu.Unlock()
	return nil
}

// SetAdaptiveEnabled 开关按车速自适应间隔
func (c *Controller) SetAdaptiveEnabled(enabled bool) {
	c.mu.Lock()
	c.power.AdaptiveInterval = enabled
	c.mu.Unlock()
}

// ObserveSpeed 记录最近估算车速（由距离累计器在每个有效定位点后调用）
func (c *Controller) ObserveSpeed(speedKmh float64) {
	c.mu.Lock()
	c.speedKmh = speedKmh
	c.haveSpeed = true
	c.mu.Unlock()
}

// ResetSpeed 清除车速估计（会话结束时调用）
func (c *Controller) ResetSpeed() {
	c.mu.Lock()
	c.haveSpeed = false
	c.speedKmh = 0
	c.mu.Unlock()
}

// EffectiveInterval 当前生效的采样间隔
func (c *Controller) EffectiveInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	interval := c.baseInterval(c.battery.ActiveMode)

	if c.power.AdaptiveInterval && c.haveSpeed {
		switch {
		case c.speedKmh < c.cfg.SlowSpeedKmh:
			// 近似静止：降低采样频率省电
			interval *= 2
		case c.speedKmh > c.cfg.FastSpeedKmh:
			// 高速行驶：加密采样
			interval /= 2
		}
	}

	// 钳制在 [高精度间隔, 省电间隔×2]
	if interval < c.cfg.IntervalHighAccuracy {
		interval = c.cfg.IntervalHighAccuracy
	}
	if max := c.cfg.IntervalPowerSaver * 2; interval > max {
		interval = max
	}

	return interval
}

// Config 功耗配置快照
func (c *Controller) Config() models.PowerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.power
}

// Battery 电池状态快照
func (c *Controller) Battery() models.BatteryStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.battery
}

// resolveModeLocked 计算生效模式：电量低且未充电时强制省电，充电时恢复用户选择
func (c *Controller) resolveModeLocked() string {
	if c.battery.Level <= c.power.BatteryThreshold && !c.battery.Charging {
		return models.PowerModePowerSaver
	}
	return c.power.Mode
}

// baseInterval 模式对应的基础采样间隔
func (c *Controller) baseInterval(mode string) time.Duration {
	switch mode {
	case models.PowerModeHighAccuracy:
		return c.cfg.IntervalHighAccuracy
	case models.PowerModePowerSaver:
		return c.cfg.IntervalPowerSaver
	default:
		return c.cfg.IntervalBalanced
	}
}
