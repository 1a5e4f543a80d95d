package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/anomaly"
	"github.com/langchou/drivelog/internal/models"
	"github.com/langchou/drivelog/internal/state"
	"github.com/langchou/drivelog/internal/tracker"
)

var (
	// ErrInvalidOdometer 非法里程表值；在进入状态机之前拒绝，不会部分生效
	ErrInvalidOdometer = errors.New("invalid odometer value")
	// ErrPersistence 持久化失败（已自动重试一次）；内存中的数据仍然有效
	ErrPersistence = errors.New("record persistence failed")
	// ErrRecordNotFound 当天没有记录
	ErrRecordNotFound = errors.New("mileage record not found")
	// ErrRecordNotEnded 记录尚未结束，不能做结束里程修正
	ErrRecordNotEnded = errors.New("mileage record has no end odometer yet")
)

// RecordStore 记录存储边界（由 repository 实现）
type RecordStore interface {
	Load(ctx context.Context, date time.Time) (*models.MileageRecord, error)
	Save(ctx context.Context, rec *models.MileageRecord) error
	LoadRange(ctx context.Context, start, end time.Time) ([]*models.MileageRecord, error)
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// MileageService 里程核对引擎：管理每日记录的生命周期，
// 核对 GPS 距离与手动里程表读数，对每次修正写入审计日志。
type MileageService struct {
	logger       *zap.Logger
	store        RecordStore
	stateManager *state.Manager
	detector     *anomaly.Detector

	mu       sync.Mutex
	dayLocks map[string]*sync.Mutex // 同一天的核对操作串行执行
}

// NewMileageService 创建里程核对引擎
func NewMileageService(logger *zap.Logger, store RecordStore, detector *anomaly.Detector) *MileageService {
	svc := &MileageService{
		logger:   logger,
		store:    store,
		detector: detector,
		dayLocks: make(map[string]*sync.Mutex),
	}
	svc.stateManager = state.NewManager(svc.onStateChange)
	return svc
}

// RecordStart 记录起始里程，创建当日记录。
// 同一天重复调用不创建第二条记录，而是幂等返回已有记录。
func (s *MileageService) RecordStart(ctx context.Context, date time.Time, odometer float64, gpsEnabled bool) (*models.MileageRecord, error) {
	if err := validateOdometer(odometer); err != nil {
		return nil, err
	}

	day := normalizeDate(date)
	unlock := s.lockDay(day)
	defer unlock()

	existing, err := s.store.Load(ctx, day)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("Record already started, returning existing",
			zap.String("date", dateKey(day)),
			zap.Float64("start_odometer", existing.StartOdometer))
		return existing, nil
	}

	machine := s.stateManager.GetOrCreate(dateKey(day), state.StateNotStarted)
	if err := machine.Trigger(state.EventRecordStart); err != nil {
		return nil, err
	}
	if gpsEnabled {
		machine.Trigger(state.EventStartTracking)
	} else {
		machine.Trigger(state.EventAwaitManual)
	}

	rec := &models.MileageRecord{
		RecordDate:    day,
		StartOdometer: odometer,
		Source:        models.SourceManual,
		GpsEnabled:    gpsEnabled,
		State:         machine.CurrentState(),
	}

	// 首次写入此前不存在的值，不需要审计条目
	if err := s.saveWithRetry(ctx, rec); err != nil {
		// 落库失败时回收已推进的状态机，否则当天永远无法重试创建
		s.stateManager.Drop(dateKey(day))
		return rec, err
	}

	s.logger.Info("Recorded trip start",
		zap.String("date", dateKey(day)),
		zap.Float64("start_odometer", odometer),
		zap.Bool("gps_enabled", gpsEnabled))
	return rec, nil
}

// RecordEnd 记录结束事件。GPS 会话结束时传入最终快照（结束里程 = 起始 + GPS 距离，
// 来源 gps）；纯手动时传入结束里程表读数（距离 = 结束 - 起始，来源 manual）。
func (s *MileageService) RecordEnd(ctx context.Context, date time.Time, endOdometer *float64, gps *tracker.FinalSnapshot) (*models.MileageRecord, error) {
	if endOdometer != nil {
		if err := validateOdometer(*endOdometer); err != nil {
			return nil, err
		}
	}

	day := normalizeDate(date)
	unlock := s.lockDay(day)
	defer unlock()

	rec, err := s.store.Load(ctx, day)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}

	machine := s.machineFor(day, rec)
	if !machine.CanTransition(state.EventRecordEnd) {
		return nil, fmt.Errorf("cannot record end from state %s", machine.CurrentState())
	}

	if gps != nil {
		end := rec.StartOdometer + gps.DistanceKm
		rec.EndOdometer = &end
		rec.DistanceKm = gps.DistanceKm
		rec.Source = models.SourceGPS
		rec.SessionID = &gps.SessionID
		quality := gps.Quality
		rec.Quality = &quality
	} else {
		if endOdometer == nil {
			return nil, ErrInvalidOdometer
		}
		rec.EndOdometer = endOdometer
		rec.DistanceKm = *endOdometer - rec.StartOdometer
		rec.Source = models.SourceManual
	}

	machine.Trigger(state.EventRecordEnd)
	rec.State = machine.CurrentState()
	rec.IsComplete = true

	// 首次写入结束里程不覆盖任何旧值，不需要审计条目
	if err := s.saveWithRetry(ctx, rec); err != nil {
		return rec, err
	}
	s.lockRecord(ctx, machine, rec)

	s.logger.Info("Recorded trip end",
		zap.String("date", dateKey(day)),
		zap.Float64("distance_km", rec.DistanceKm),
		zap.String("source", rec.Source))
	return rec, nil
}

// CorrectEnd 修正已记录的结束里程。GPS 来源的记录被手动修正后来源变为 hybrid，
// GPS 距离保持不变；每次修正恰好写入一条审计条目。
func (s *MileageService) CorrectEnd(ctx context.Context, date time.Time, newEnd float64, reason string) (*models.MileageRecord, error) {
	if err := validateOdometer(newEnd); err != nil {
		return nil, err
	}

	day := normalizeDate(date)
	unlock := s.lockDay(day)
	defer unlock()

	rec, err := s.store.Load(ctx, day)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	if rec.EndOdometer == nil {
		return nil, ErrRecordNotEnded
	}

	machine := s.machineFor(day, rec)
	// 已锁定的记录通过审计修正短暂重新打开
	if machine.CurrentState() == state.StateLocked {
		if err := machine.Trigger(state.EventReopen); err != nil {
			return nil, err
		}
	}

	oldEnd := *rec.EndOdometer
	rec.EndOdometer = &newEnd

	action := models.AuditEndRecorded
	switch rec.Source {
	case models.SourceGPS:
		rec.Source = models.SourceHybrid
		action = models.AuditGpsStopAdjustment
		// hybrid：距离保持 GPS 值，仅结束里程被修正
	case models.SourceHybrid:
		action = models.AuditGpsStopAdjustment
	default:
		rec.DistanceKm = newEnd - rec.StartOdometer
		action = models.AuditManualOverride
	}
	if action == models.AuditGpsStopAdjustment && reason == "" {
		reason = "manual end-mileage override after GPS stop"
	}

	rec.State = machine.CurrentState()
	if err := s.saveWithRetry(ctx, rec); err != nil {
		return rec, err
	}

	entry := &models.AuditEntry{
		RecordID: rec.ID,
		Action:   action,
		Reason:   reason,
		OldValue: &oldEnd,
		NewValue: &newEnd,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	rec.AuditLog = append(rec.AuditLog, *entry)

	s.lockRecord(ctx, machine, rec)

	s.logger.Info("Corrected end odometer",
		zap.String("date", dateKey(day)),
		zap.Float64("old_value", oldEnd),
		zap.Float64("new_value", newEnd),
		zap.String("source", rec.Source))
	return rec, nil
}

// CorrectStart 修正已记录的起始里程（审计修正）
func (s *MileageService) CorrectStart(ctx context.Context, date time.Time, newStart float64, reason string) (*models.MileageRecord, error) {
	if err := validateOdometer(newStart); err != nil {
		return nil, err
	}

	day := normalizeDate(date)
	unlock := s.lockDay(day)
	defer unlock()

	rec, err := s.store.Load(ctx, day)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}

	machine := s.machineFor(day, rec)
	if machine.CurrentState() == state.StateLocked {
		if err := machine.Trigger(state.EventReopen); err != nil {
			return nil, err
		}
	}

	oldStart := rec.StartOdometer
	rec.StartOdometer = newStart
	if rec.Source == models.SourceManual && rec.EndOdometer != nil {
		rec.DistanceKm = *rec.EndOdometer - newStart
	}

	rec.State = machine.CurrentState()
	if err := s.saveWithRetry(ctx, rec); err != nil {
		return rec, err
	}

	entry := &models.AuditEntry{
		RecordID: rec.ID,
		Action:   models.AuditStartRecorded,
		Reason:   reason,
		OldValue: &oldStart,
		NewValue: &newStart,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	rec.AuditLog = append(rec.AuditLog, *entry)

	s.lockRecord(ctx, machine, rec)

	s.logger.Info("Corrected start odometer",
		zap.String("date", dateKey(day)),
		zap.Float64("old_value", oldStart),
		zap.Float64("new_value", newStart))
	return rec, nil
}

// HandleGpsLoss 传感器失效时回退到手动录入模式：保留已累计的距离和质量快照，
// 记录转入等待手动结束状态，当天的记录不中止。
func (s *MileageService) HandleGpsLoss(ctx context.Context, date time.Time, snap tracker.FinalSnapshot, cause error) error {
	day := normalizeDate(date)
	unlock := s.lockDay(day)
	defer unlock()

	rec, err := s.store.Load(ctx, day)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrRecordNotFound
	}

	machine := s.machineFor(day, rec)
	if machine.CanTransition(state.EventGpsLost) {
		machine.Trigger(state.EventGpsLost)
	}

	rec.DistanceKm = snap.DistanceKm
	rec.SessionID = &snap.SessionID
	quality := snap.Quality
	rec.Quality = &quality
	rec.State = machine.CurrentState()

	s.logger.Warn("GPS lost, falling back to manual entry",
		zap.String("date", dateKey(day)),
		zap.Float64("partial_distance_km", snap.DistanceKm),
		zap.Error(cause))
	return s.saveWithRetry(ctx, rec)
}

// FlushProgress 将活跃会话的进度同步写入记录（进程退出前调用，避免丢失行程进度）
func (s *MileageService) FlushProgress(ctx context.Context, date time.Time, session models.TrackingSession) error {
	day := normalizeDate(date)
	unlock := s.lockDay(day)
	defer unlock()

	rec, err := s.store.Load(ctx, day)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrRecordNotFound
	}

	rec.DistanceKm = session.DistanceKm
	rec.SessionID = &session.ID
	quality := session.Quality()
	rec.Quality = &quality

	if err := s.saveWithRetry(ctx, rec); err != nil {
		return err
	}

	s.logger.Info("Flushed tracking progress",
		zap.String("date", dateKey(day)),
		zap.Float64("distance_km", session.DistanceKm))
	return nil
}

// Get 加载某天的记录
func (s *MileageService) Get(ctx context.Context, date time.Time) (*models.MileageRecord, error) {
	rec, err := s.store.Load(ctx, normalizeDate(date))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

// GetHistory 加载日期区间内的记录
func (s *MileageService) GetHistory(ctx context.Context, start, end time.Time) ([]*models.MileageRecord, error) {
	return s.store.LoadRange(ctx, normalizeDate(start), normalizeDate(end))
}

// DetectAnomalies 对区间内的记录做异常检测，只返回有发现的报告
func (s *MileageService) DetectAnomalies(ctx context.Context, start, end time.Time) ([]models.AnomalyReport, error) {
	records, err := s.store.LoadRange(ctx, normalizeDate(start), normalizeDate(end))
	if err != nil {
		return nil, err
	}

	var reports []models.AnomalyReport
	for _, rec := range records {
		report := s.detector.Detect(rec)
		if report.HasAnomalies() {
			reports = append(reports, report)
		}
	}
	return reports, nil
}

// lockRecord 持久化成功后锁定记录；后续修改需要审计的 reopen
func (s *MileageService) lockRecord(ctx context.Context, machine *state.Machine, rec *models.MileageRecord) {
	if !machine.CanTransition(state.EventLock) {
		return
	}
	machine.Trigger(state.EventLock)
	rec.State = machine.CurrentState()
	if err := s.store.Save(ctx, rec); err != nil {
		// 记录已经以 ended 状态落库，锁定状态下次保存时补上
		s.logger.Warn("Failed to persist locked state", zap.Error(err))
	}
}

// saveWithRetry 保存记录；失败自动重试一次，第二次失败返回 ErrPersistence。
// 内存中的记录保持有效，数据未丢失，只是未落库。
func (s *MileageService) saveWithRetry(ctx context.Context, rec *models.MileageRecord) error {
	err := s.store.Save(ctx, rec)
	if err == nil {
		return nil
	}

	s.logger.Warn("Record save failed, retrying", zap.Error(err))
	if err = s.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// machineFor 获取记录对应的状态机，用持久化的状态初始化
func (s *MileageService) machineFor(day time.Time, rec *models.MileageRecord) *state.Machine {
	return s.stateManager.GetOrCreate(dateKey(day), rec.State)
}

// lockDay 取得当天的操作锁，保证同一天不会有两个核对操作并发执行
func (s *MileageService) lockDay(day time.Time) func() {
	key := dateKey(day)

	s.mu.Lock()
	lock, ok := s.dayLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.dayLocks[key] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// onStateChange 状态变化回调
func (s *MileageService) onStateChange(date, from, to string) {
	s.logger.Info("Record state changed",
		zap.String("date", date),
		zap.String("from", from),
		zap.String("to", to))
}

// validateOdometer 在核对边界拒绝非法里程表值
func validateOdometer(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidOdometer
	}
	return nil
}

// normalizeDate 归一化到日粒度（UTC）
func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dateKey 日期索引键
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
