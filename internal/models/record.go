package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// 里程来源分类
const (
	SourceManual = "manual" // 手动输入，距离 = 结束里程 - 起始里程
	SourceGPS    = "gps"    // GPS 轨迹累计距离
	SourceHybrid = "hybrid" // GPS 距离 + 手动修正的结束里程
)

// 审计动作类型
const (
	AuditStartRecorded     = "start_recorded"      // 起始里程被覆盖修改
	AuditEndRecorded       = "end_recorded"        // 结束里程被覆盖修改
	AuditManualOverride    = "manual_override"     // 手动记录的审计修正
	AuditGpsStopAdjustment = "gps_stop_adjustment" // GPS 停止后手动修正结束里程
)

// MileageRecord 每日里程记录（持久化单位，每天一条）
type MileageRecord struct {
	ID            int64            `json:"id" db:"id"`
	RecordDate    time.Time        `json:"record_date" db:"record_date"` // 日粒度
	StartOdometer float64          `json:"start_odometer" db:"start_odometer"`
	EndOdometer   *float64         `json:"end_odometer,omitempty" db:"end_odometer"` // 行程结束前为空
	DistanceKm    float64          `json:"distance_km" db:"distance_km"`
	Source        string           `json:"source" db:"source"`
	GpsEnabled    bool             `json:"gps_enabled" db:"gps_enabled"`
	SessionID     *string          `json:"session_id,omitempty" db:"session_id"` // 产生该记录的 GPS 会话
	State         string           `json:"state" db:"state"`
	IsComplete    bool             `json:"is_complete" db:"is_complete"`
	Quality       *QualityMetrics  `json:"quality,omitempty" db:"quality"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
	AuditLog      []AuditEntry     `json:"audit_log,omitempty" db:"-"` // 仅追加，按时间排序
}

// AuditEntry 审计条目（不可变，只追加，从不删除或重排）
type AuditEntry struct {
	ID        int64     `json:"id" db:"id"`
	RecordID  int64     `json:"record_id" db:"record_id"`
	Action    string    `json:"action" db:"action"`
	Reason    string    `json:"reason" db:"reason"`
	OldValue  *float64  `json:"old_value,omitempty" db:"old_value"`
	NewValue  *float64  `json:"new_value,omitempty" db:"new_value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// QualityMetrics GPS 采样质量指标（会话期间持续重算，随记录落库）
type QualityMetrics struct {
	TotalFixes    int     `json:"total_fixes"`    // 观测到的定位点总数
	AcceptedFixes int     `json:"accepted_fixes"` // 通过过滤的定位点数
	AccuracyPct   float64 `json:"accuracy_pct"`   // accepted / total * 100
	ValidityRate  float64 `json:"validity_rate"`  // accepted / total (0-1)
}

// Value 实现 driver.Valuer 接口，用于存储到数据库
func (q QualityMetrics) Value() (driver.Value, error) {
	return json.Marshal(q)
}

// Scan 实现 sql.Scanner 接口，用于从数据库读取
func (q *QualityMetrics) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, q)
}

// ManualDistance 手动口径的距离（结束里程 - 起始里程）；结束里程缺失时返回 0
func (r *MileageRecord) ManualDistance() float64 {
	if r.EndOdometer == nil {
		return 0
	}
	return *r.EndOdometer - r.StartOdometer
}
