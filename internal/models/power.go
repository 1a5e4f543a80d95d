package models

// 采样功耗模式
const (
	PowerModeHighAccuracy = "high_accuracy" // 5s 基础间隔
	PowerModeBalanced     = "balanced"      // 15s 基础间隔
	PowerModePowerSaver   = "power_saver"   // 30s 基础间隔
)

// PowerConfig 采样功耗配置（进程级，仅通过控制器修改）
type PowerConfig struct {
	Mode             string  `json:"mode"`              // 用户选择的模式
	BatteryThreshold float64 `json:"battery_threshold"` // 自动降级阈值（百分比）
	AdaptiveInterval bool    `json:"adaptive_interval"` // 按车速自适应间隔
}

// BatteryStatus 电池状态
type BatteryStatus struct {
	Level      float64 `json:"level"` // 0-100
	Charging   bool    `json:"charging"`
	ActiveMode string  `json:"active_mode"` // 当前生效模式（可能被自动降级覆盖）
}

// PowerRecommendation 功耗模式建议（只读，不改变状态）
type PowerRecommendation struct {
	Mode    string   `json:"mode"`
	Reasons []string `json:"reasons"`
}
