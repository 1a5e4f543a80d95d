package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/langchou/drivelog/internal/models"
)

// RecordRepository 里程记录仓库
type RecordRepository struct {
	db *DB
}

// NewRecordRepository 创建里程记录仓库
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `id, record_date, start_odometer, end_odometer, distance_km, source,
		gps_enabled, session_id, state, is_complete, quality, created_at, updated_at`

// Load 按日期加载记录（含审计日志）；不存在时返回 (nil, nil)
func (r *RecordRepository) Load(ctx context.Context, date time.Time) (*models.MileageRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM mileage_records WHERE record_date = $1
	`
	rec := &models.MileageRecord{}
	err := r.db.Pool.QueryRow(ctx, query, date).Scan(
		&rec.ID,
		&rec.RecordDate,
		&rec.StartOdometer,
		&rec.EndOdometer,
		&rec.DistanceKm,
		&rec.Source,
		&rec.GpsEnabled,
		&rec.SessionID,
		&rec.State,
		&rec.IsComplete,
		&rec.Quality,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}

	audit, err := r.ListAudit(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.AuditLog = audit

	return rec, nil
}

// Save 保存记录（按日期 upsert）
func (r *RecordRepository) Save(ctx context.Context, rec *models.MileageRecord) error {
	query := `
		INSERT INTO mileage_records
			(record_date, start_odometer, end_odometer, distance_km, source, gps_enabled, session_id, state, is_complete, quality, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (record_date) DO UPDATE SET
			start_odometer = EXCLUDED.start_odometer,
			end_odometer = EXCLUDED.end_odometer,
			distance_km = EXCLUDED.distance_km,
			source = EXCLUDED.source,
			gps_enabled = EXCLUDED.gps_enabled,
			session_id = EXCLUDED.session_id,
			state = EXCLUDED.state,
			is_complete = EXCLUDED.is_complete,
			quality = EXCLUDED.quality,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		rec.RecordDate,
		rec.StartOdometer,
		rec.EndOdometer,
		rec.DistanceKm,
		rec.Source,
		rec.GpsEnabled,
		rec.SessionID,
		rec.State,
		rec.IsComplete,
		rec.Quality,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// LoadRange 按日期区间加载记录（不含审计日志）
func (r *RecordRepository) LoadRange(ctx context.Context, start, end time.Time) ([]*models.MileageRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM mileage_records
		WHERE record_date >= $1 AND record_date <= $2
		ORDER BY record_date
	`
	rows, err := r.db.Pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("load record range: %w", err)
	}
	defer rows.Close()

	var records []*models.MileageRecord
	for rows.Next() {
		rec := &models.MileageRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.RecordDate,
			&rec.StartOdometer,
			&rec.EndOdometer,
			&rec.DistanceKm,
			&rec.Source,
			&rec.GpsEnabled,
			&rec.SessionID,
			&rec.State,
			&rec.IsComplete,
			&rec.Quality,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// AppendAudit 追加审计条目（只追加，从不更新或删除）
func (r *RecordRepository) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (record_id, action, reason, old_value, new_value)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		entry.RecordID,
		entry.Action,
		entry.Reason,
		entry.OldValue,
		entry.NewValue,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit 按时间顺序列出记录的审计条目
func (r *RecordRepository) ListAudit(ctx context.Context, recordID int64) ([]models.AuditEntry, error) {
	query := `
		SELECT id, record_id, action, reason, old_value, new_value, created_at
		FROM audit_entries WHERE record_id = $1 ORDER BY created_at, id
	`
	rows, err := r.db.Pool.Query(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(&e.ID, &e.RecordID, &e.Action, &e.Reason, &e.OldValue, &e.NewValue, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// GetStats 区间里程统计
func (r *RecordRepository) GetStats(ctx context.Context, start, end time.Time) (totalKm float64, count int64, err error) {
	query := `
		SELECT COALESCE(SUM(distance_km), 0), COUNT(*)
		FROM mileage_records WHERE record_date >= $1 AND record_date <= $2 AND is_complete = true
	`
	err = r.db.Pool.QueryRow(ctx, query, start, end).Scan(&totalKm, &count)
	if err != nil {
		err = fmt.Errorf("get record stats: %w", err)
	}
	return
}
