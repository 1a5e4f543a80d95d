package models

import "time"

// RawFix 定位源上报的原始定位点
type RawFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // 估计误差半径（米）
	Timestamp time.Time `json:"timestamp"`
}

// TrackingSession GPS 跟踪会话（仅存在于内存，停止后销毁）
type TrackingSession struct {
	ID            string     `json:"id"`
	StartTime     time.Time  `json:"start_time"`
	StartOdometer float64    `json:"start_odometer"`
	DistanceKm    float64    `json:"distance_km"` // 累计距离，单调不减
	TotalFixes    int        `json:"total_fixes"`
	AcceptedFixes int        `json:"accepted_fixes"`
	LastFix       *RawFix    `json:"last_fix,omitempty"` // 最近一个被接受的定位点
	LastFixAt     *time.Time `json:"last_fix_at,omitempty"`
}

// Quality 根据会话计数器计算质量指标
func (s *TrackingSession) Quality() QualityMetrics {
	q := QualityMetrics{
		TotalFixes:    s.TotalFixes,
		AcceptedFixes: s.AcceptedFixes,
	}
	if s.TotalFixes > 0 {
		q.ValidityRate = float64(s.AcceptedFixes) / float64(s.TotalFixes)
		q.AccuracyPct = q.ValidityRate * 100
	}
	return q
}

// TrackingUpdate 跟踪状态快照（去抖后推送给观察者）
type TrackingUpdate struct {
	SessionID  string         `json:"session_id,omitempty"`
	Tracking   bool           `json:"tracking"`
	DistanceKm float64        `json:"distance_km"`
	Quality    QualityMetrics `json:"quality"`
}
