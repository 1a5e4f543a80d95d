package models

import "time"

// 异常类型
const (
	AnomalyExcessiveDistance = "excessive_distance" // 单日距离超过上限
	AnomalyMeterReversal     = "meter_reversal"     // 结束里程小于起始里程
	AnomalyGpsMismatch       = "gps_mismatch"       // GPS 距离与手动距离偏差过大
	AnomalyDataInconsistency = "data_inconsistency" // 其他结构性问题
)

// 异常严重级别
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Anomaly 单条异常发现
type Anomaly struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// AnomalyReport 记录级异常报告（按需计算，不落库）
type AnomalyReport struct {
	RecordID   int64     `json:"record_id"`
	RecordDate time.Time `json:"record_date"`
	Anomalies  []Anomaly `json:"anomalies"`
	Severity   string    `json:"severity,omitempty"` // 所有发现中的最高级别；无异常时为空
}

// HasAnomalies 是否存在异常
func (r *AnomalyReport) HasAnomalies() bool {
	return len(r.Anomalies) > 0
}
