package anomaly

import (
	"fmt"
	"math"

	"github.com/langchou/drivelog/internal/config"
	"github.com/langchou/drivelog/internal/models"
)

// Detector 异常检测器：对里程记录做无状态规则评估。
// 规则彼此独立，一条记录可以同时命中多条；无异常返回空集合而不是错误。
type Detector struct {
	excessiveKm    float64
	mismatchAbsKm  float64
	mismatchRelPct float64
}

// NewDetector 创建检测器
func NewDetector(cfg *config.Config) *Detector {
	return &Detector{
		excessiveKm:    cfg.ExcessiveDistanceKm,
		mismatchAbsKm:  cfg.MismatchAbsoluteKm,
		mismatchRelPct: cfg.MismatchRelativePct,
	}
}

// Detect 评估一条记录（完整或进行中）。纯函数：相同记录两次评估结果一致。
// 结构异常的记录软失败：返回低级别 data_inconsistency，从不报错，
// 异常检测不能阻塞正常的记录完成流程。
func (d *Detector) Detect(rec *models.MileageRecord) models.AnomalyReport {
	report := models.AnomalyReport{}
	if rec == nil {
		report.Anomalies = append(report.Anomalies, models.Anomaly{
			Type:     models.AnomalyDataInconsistency,
			Severity: models.SeverityLow,
			Detail:   "record is missing",
		})
		report.Severity = models.SeverityLow
		return report
	}

	report.RecordID = rec.ID
	report.RecordDate = rec.RecordDate

	// 单日距离超过上限
	if rec.DistanceKm > d.excessiveKm {
		report.Anomalies = append(report.Anomalies, models.Anomaly{
			Type:     models.AnomalyExcessiveDistance,
			Severity: models.SeverityHigh,
			Detail:   fmt.Sprintf("distance %.1f km exceeds %.0f km in a single day", rec.DistanceKm, d.excessiveKm),
		})
	}

	// 里程表倒退
	if rec.EndOdometer != nil && *rec.EndOdometer < rec.StartOdometer {
		report.Anomalies = append(report.Anomalies, models.Anomaly{
			Type:     models.AnomalyMeterReversal,
			Severity: models.SeverityHigh,
			Detail: fmt.Sprintf("end odometer %.1f below start odometer %.1f",
				*rec.EndOdometer, rec.StartOdometer),
		})
	}

	// hybrid 记录的 GPS/手动偏差：超过 max(绝对阈值, 相对阈值×手动距离) 告警
	if rec.Source == models.SourceHybrid && rec.EndOdometer != nil {
		manual := rec.ManualDistance()
		diff := math.Abs(rec.DistanceKm - manual)
		threshold := math.Max(d.mismatchAbsKm, d.mismatchRelPct/100*math.Abs(manual))
		if diff > threshold {
			report.Anomalies = append(report.Anomalies, models.Anomaly{
				Type:     models.AnomalyGpsMismatch,
				Severity: models.SeverityMedium,
				Detail: fmt.Sprintf("gps distance %.1f km differs from manual %.1f km by %.1f km (threshold %.1f km)",
					rec.DistanceKm, manual, diff, threshold),
			})
		}
	}

	// 其他结构性问题
	if rec.DistanceKm < 0 {
		report.Anomalies = append(report.Anomalies, models.Anomaly{
			Type:     models.AnomalyDataInconsistency,
			Severity: models.SeverityLow,
			Detail:   fmt.Sprintf("negative computed distance %.1f km", rec.DistanceKm),
		})
	}
	if rec.IsComplete && rec.EndOdometer == nil {
		report.Anomalies = append(report.Anomalies, models.Anomaly{
			Type:     models.AnomalyDataInconsistency,
			Severity: models.SeverityLow,
			Detail:   "record marked complete without end odometer",
		})
	}

	report.Severity = highestSeverity(report.Anomalies)
	return report
}

// highestSeverity 所有发现中的最高级别；低级别发现与高级别并存时整体报告升级
func highestSeverity(anomalies []models.Anomaly) string {
	rank := map[string]int{
		models.SeverityLow:    1,
		models.SeverityMedium: 2,
		models.SeverityHigh:   3,
	}

	var highest string
	for _, a := range anomalies {
		if rank[a.Severity] > rank[highest] {
			highest = a.Severity
		}
	}
	return highest
}
