package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/models"
)

type fixedInterval time.Duration

func (f fixedInterval) EffectiveInterval() time.Duration { return time.Duration(f) }

type callbackRecorder struct {
	mu       sync.Mutex
	fixes    []models.RawFix
	rejected []string
	errs     []error
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnFix: func(fix models.RawFix) {
			r.mu.Lock()
			r.fixes = append(r.fixes, fix)
			r.mu.Unlock()
		},
		OnRejected: func(fix models.RawFix, reason string) {
			r.mu.Lock()
			r.rejected = append(r.rejected, reason)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *callbackRecorder) snapshot() (int, int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fixes), len(r.rejected), append([]error(nil), r.errs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestSamplerAccuracyFilter(t *testing.T) {
	source := NewDeviceSource()
	sampler := NewSampler(zap.NewNop(), source, fixedInterval(time.Second), 50, time.Minute)
	rec := &callbackRecorder{}

	if err := sampler.Activate(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	defer sampler.Deactivate()

	source.PushFix(models.RawFix{Latitude: 39.9, Longitude: 116.4, Accuracy: 10, Timestamp: time.Now()})
	source.PushFix(models.RawFix{Latitude: 39.9, Longitude: 116.4, Accuracy: 120, Timestamp: time.Now()})

	waitFor(t, func() bool {
		accepted, rejected, _ := rec.snapshot()
		return accepted == 1 && rejected == 1
	})

	if sampler.RejectedCount() != 1 {
		t.Fatalf("expected one rejected fix, got %d", sampler.RejectedCount())
	}
}

func TestSamplerDoubleActivate(t *testing.T) {
	source := NewDeviceSource()
	sampler := NewSampler(zap.NewNop(), source, fixedInterval(time.Second), 50, time.Minute)

	if err := sampler.Activate(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	defer sampler.Deactivate()

	if err := sampler.Activate(context.Background(), Callbacks{}); !errors.Is(err, ErrSamplerActive) {
		t.Fatalf("expected ErrSamplerActive, got %v", err)
	}
}

func TestSamplerDeactivateIdempotent(t *testing.T) {
	source := NewDeviceSource()
	sampler := NewSampler(zap.NewNop(), source, fixedInterval(time.Second), 50, time.Minute)

	if err := sampler.Activate(context.Background(), Callbacks{}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	sampler.Deactivate()
	sampler.Deactivate() // 第二次应为空操作
	if sampler.IsActive() {
		t.Fatalf("expected inactive sampler")
	}
}

func TestSamplerFixTimeout(t *testing.T) {
	source := NewDeviceSource()
	sampler := NewSampler(zap.NewNop(), source, fixedInterval(10*time.Millisecond), 50, 50*time.Millisecond)
	rec := &callbackRecorder{}

	if err := sampler.Activate(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	defer sampler.Deactivate()

	waitFor(t, func() bool {
		_, _, errs := rec.snapshot()
		return len(errs) > 0
	})

	_, _, errs := rec.snapshot()
	if !errors.Is(errs[0], ErrFixTimeout) {
		t.Fatalf("expected fix timeout error, got %v", errs[0])
	}
}

func TestSamplerForwardsSourceErrors(t *testing.T) {
	source := NewDeviceSource()
	sampler := NewSampler(zap.NewNop(), source, fixedInterval(time.Second), 50, time.Minute)
	rec := &callbackRecorder{}

	if err := sampler.Activate(context.Background(), rec.callbacks()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	defer sampler.Deactivate()

	source.ReportError(ErrPermissionDenied)

	waitFor(t, func() bool {
		_, _, errs := rec.snapshot()
		return len(errs) > 0
	})

	_, _, errs := rec.snapshot()
	if !errors.Is(errs[0], ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", errs[0])
	}
}

func TestErrorForStatus(t *testing.T) {
	if err := ErrorForStatus(StatusPermissionDenied); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("unexpected mapping: %v", err)
	}
	if err := ErrorForStatus(StatusServiceDisabled); !errors.Is(err, ErrServiceDisabled) {
		t.Fatalf("unexpected mapping: %v", err)
	}
	if err := ErrorForStatus("something_else"); err != nil {
		t.Fatalf("expected nil for unknown status, got %v", err)
	}
}
