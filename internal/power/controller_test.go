package power

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/config"
	"github.com/langchou/drivelog/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		IntervalHighAccuracy: 5 * time.Second,
		IntervalBalanced:     15 * time.Second,
		IntervalPowerSaver:   30 * time.Second,
		BatteryThreshold:     20,
		AdaptiveInterval:     true,
		SlowSpeedKmh:         5,
		FastSpeedKmh:         60,
	}
}

func TestControllerLowBatteryForcesPowerSaver(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())

	if err := c.SetMode(models.PowerModeHighAccuracy); err != nil {
		t.Fatalf("set mode: %v", err)
	}

	// 电量 15% 未充电：强制省电，间隔 30s
	c.UpdateBattery(15, false)
	if mode := c.Battery().ActiveMode; mode != models.PowerModePowerSaver {
		t.Fatalf("expected power_saver, got %s", mode)
	}
	if iv := c.EffectiveInterval(); iv != 30*time.Second {
		t.Fatalf("expected 30s interval, got %v", iv)
	}

	// 用户选择不被覆盖写掉
	if cfg := c.Config(); cfg.Mode != models.PowerModeHighAccuracy {
		t.Fatalf("user mode overwritten: %s", cfg.Mode)
	}

	// 充电后恢复用户选择
	c.UpdateBattery(15, true)
	if mode := c.Battery().ActiveMode; mode != models.PowerModeHighAccuracy {
		t.Fatalf("expected high_accuracy while charging, got %s", mode)
	}
	if iv := c.EffectiveInterval(); iv != 5*time.Second {
		t.Fatalf("expected 5s interval, got %v", iv)
	}
}

func TestControllerBaseIntervals(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())

	cases := []struct {
		mode string
		want time.Duration
	}{
		{models.PowerModeHighAccuracy, 5 * time.Second},
		{models.PowerModeBalanced, 15 * time.Second},
		{models.PowerModePowerSaver, 30 * time.Second},
	}
	for _, tc := range cases {
		if err := c.SetMode(tc.mode); err != nil {
			t.Fatalf("set mode %s: %v", tc.mode, err)
		}
		if iv := c.EffectiveInterval(); iv != tc.want {
			t.Fatalf("mode %s: expected %v, got %v", tc.mode, tc.want, iv)
		}
	}
}

func TestControllerUnknownModeRejected(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())
	if err := c.SetMode("turbo"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestControllerAdaptiveInterval(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())
	c.SetMode(models.PowerModeBalanced)

	// 近似静止：间隔翻倍
	c.ObserveSpeed(2)
	if iv := c.EffectiveInterval(); iv != 30*time.Second {
		t.Fatalf("expected doubled interval 30s, got %v", iv)
	}

	// 高速行驶：间隔减半
	c.ObserveSpeed(90)
	if iv := c.EffectiveInterval(); iv != 7500*time.Millisecond {
		t.Fatalf("expected halved interval 7.5s, got %v", iv)
	}

	// 会话结束后回到基础间隔
	c.ResetSpeed()
	if iv := c.EffectiveInterval(); iv != 15*time.Second {
		t.Fatalf("expected base interval 15s, got %v", iv)
	}
}

func TestControllerAdaptiveClamped(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())

	// 高精度模式下高速行驶：减半后低于高精度下限，被钳制回 5s
	c.SetMode(models.PowerModeHighAccuracy)
	c.ObserveSpeed(90)
	if iv := c.EffectiveInterval(); iv != 5*time.Second {
		t.Fatalf("expected clamped 5s, got %v", iv)
	}

	// 省电模式近似静止：翻倍恰为上限 60s
	c.SetMode(models.PowerModePowerSaver)
	c.ObserveSpeed(2)
	if iv := c.EffectiveInterval(); iv != 60*time.Second {
		t.Fatalf("expected clamped 60s, got %v", iv)
	}
}

func TestControllerAdaptiveDisabled(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())
	c.SetAdaptiveEnabled(false)

	c.ObserveSpeed(90)
	if iv := c.EffectiveInterval(); iv != 15*time.Second {
		t.Fatalf("expected base interval with adaptive off, got %v", iv)
	}
}

func TestControllerThresholdValidation(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())
	if err := c.SetBatteryThreshold(150); err == nil {
		t.Fatalf("expected error for threshold above 100")
	}
	if err := c.SetBatteryThreshold(-1); err == nil {
		t.Fatalf("expected error for negative threshold")
	}

	if err := c.SetBatteryThreshold(50); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	c.UpdateBattery(40, false)
	if mode := c.Battery().ActiveMode; mode != models.PowerModePowerSaver {
		t.Fatalf("expected downgrade under raised threshold, got %s", mode)
	}
}

func TestRecommend(t *testing.T) {
	c := NewController(zap.NewNop(), testConfig())

	// 低电量未充电：省电
	c.UpdateBattery(10, false)
	if r := c.Recommend(nil); r.Mode != models.PowerModePowerSaver {
		t.Fatalf("expected power_saver recommendation, got %s", r.Mode)
	}

	// 充电中：高精度
	c.UpdateBattery(50, true)
	if r := c.Recommend(nil); r.Mode != models.PowerModeHighAccuracy {
		t.Fatalf("expected high_accuracy while charging, got %s", r.Mode)
	}

	// 长途为主：省电
	c.UpdateBattery(80, false)
	if r := c.Recommend([]float64{300, 250, 280}); r.Mode != models.PowerModePowerSaver {
		t.Fatalf("expected power_saver for long drives, got %s", r.Mode)
	}

	// 短途为主：高精度
	if r := c.Recommend([]float64{10, 15, 8}); r.Mode != models.PowerModeHighAccuracy {
		t.Fatalf("expected high_accuracy for short trips, got %s", r.Mode)
	}

	// 中等里程：均衡
	r := c.Recommend([]float64{60, 70, 80})
	if r.Mode != models.PowerModeBalanced {
		t.Fatalf("expected balanced, got %s", r.Mode)
	}
	if len(r.Reasons) == 0 {
		t.Fatalf("expected reasons in recommendation")
	}
}
