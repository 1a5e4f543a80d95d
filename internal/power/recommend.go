package power

import (
	"fmt"

	"github.com/langchou/drivelog/internal/models"
)

// Recommend 根据当前电池状态和近期日里程给出功耗模式建议；只建议，不改变状态
func (c *Controller) Recommend(recentDailyKm []float64) models.PowerRecommendation {
	c.mu.RLock()
	battery := c.battery
	threshold := c.power.BatteryThreshold
	c.mu.RUnlock()

	var reasons []string

	if battery.Level <= threshold && !battery.Charging {
		reasons = append(reasons,
			fmt.Sprintf("battery at %.0f%% and not charging, below threshold %.0f%%", battery.Level, threshold))
		return models.PowerRecommendation{Mode: models.PowerModePowerSaver, Reasons: reasons}
	}

	if battery.Charging {
		reasons = append(reasons, "device is charging, sampling cost is covered")
		return models.PowerRecommendation{Mode: models.PowerModeHighAccuracy, Reasons: reasons}
	}

	avg := averageKm(recentDailyKm)
	switch {
	case avg > 150:
		// 长途为主：全天高频采样耗电过快
		reasons = append(reasons,
			fmt.Sprintf("average daily distance %.0f km, long drives drain battery under frequent sampling", avg))
		reasons = append(reasons, fmt.Sprintf("battery at %.0f%%", battery.Level))
		return models.PowerRecommendation{Mode: models.PowerModePowerSaver, Reasons: reasons}

	case avg < 30 && len(recentDailyKm) > 0:
		// 短途为主：高精度采样总开销有限
		reasons = append(reasons,
			fmt.Sprintf("average daily distance %.0f km, short trips keep sampling cost low", avg))
		return models.PowerRecommendation{Mode: models.PowerModeHighAccuracy, Reasons: reasons}
	}

	reasons = append(reasons, fmt.Sprintf("battery at %.0f%%, typical daily distance", battery.Level))
	return models.PowerRecommendation{Mode: models.PowerModeBalanced, Reasons: reasons}
}

func averageKm(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
