package tracker

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivelog/internal/config"
	"github.com/langchou/drivelog/internal/models"
)

type speedRecorder struct {
	observed []float64
	resets   int
}

func (s *speedRecorder) ObserveSpeed(speedKmh float64) { s.observed = append(s.observed, speedKmh) }
func (s *speedRecorder) ResetSpeed()                   { s.resets++ }

func testConfig() *config.Config {
	return &config.Config{
		MaxPlausibleSpeed: 200,
		DistanceEpsilonKm: 0.01,
	}
}

func fixAt(lat, lon float64, ts time.Time) models.RawFix {
	return models.RawFix{Latitude: lat, Longitude: lon, Accuracy: 10, Timestamp: ts}
}

func TestAccumulatorDistanceMonotonic(t *testing.T) {
	acc := New(zap.NewNop(), testConfig(), nil)
	if _, err := acc.Start(1000); err != nil {
		t.Fatalf("start: %v", err)
	}

	base := time.Now()
	var prev float64
	for i := 0; i < 10; i++ {
		acc.HandleFix(fixAt(39.9+float64(i)*0.001, 116.4, base.Add(time.Duration(i)*10*time.Second)))
		d := acc.CurrentDistance()
		if d < prev {
			t.Fatalf("distance decreased: %v -> %v", prev, d)
		}
		prev = d
	}
	if prev <= 0 {
		t.Fatalf("expected positive accumulated distance, got %v", prev)
	}
}

func TestAccumulatorFirstFixContributesZero(t *testing.T) {
	acc := New(zap.NewNop(), testConfig(), nil)
	acc.Start(1000)

	acc.HandleFix(fixAt(39.9, 116.4, time.Now()))
	if d := acc.CurrentDistance(); d != 0 {
		t.Fatalf("first fix should contribute zero distance, got %v", d)
	}

	q := acc.Quality()
	if q.TotalFixes != 1 || q.AcceptedFixes != 1 {
		t.Fatalf("unexpected counters: %+v", q)
	}
}

func TestAccumulatorImplausibleSpeedRejected(t *testing.T) {
	acc := New(zap.NewNop(), testConfig(), nil)
	acc.Start(1000)

	base := time.Now()
	acc.HandleFix(fixAt(39.9, 116.4, base))
	before := acc.CurrentDistance()

	// 1 秒内跳 1 度纬度，约 111 km，瞬时速度远超 200 km/h
	acc.HandleFix(fixAt(40.9, 116.4, base.Add(time.Second)))
	if d := acc.CurrentDistance(); d != before {
		t.Fatalf("implausible fix changed distance: %v -> %v", before, d)
	}

	// 跳点计入观测数但不计入有效数
	q := acc.Quality()
	if q.TotalFixes != 2 || q.AcceptedFixes != 1 {
		t.Fatalf("unexpected counters after rejection: %+v", q)
	}
}

func TestAccumulatorNonPositiveTimeDeltaRejected(t *testing.T) {
	acc := New(zap.NewNop(), testConfig(), nil)
	acc.Start(1000)

	base := time.Now()
	acc.HandleFix(fixAt(39.9, 116.4, base))
	acc.HandleFix(fixAt(39.901, 116.4, base.Add(-time.Second)))

	if d := acc.CurrentDistance(); d != 0 {
		t.Fatalf("out-of-order fix changed distance: %v", d)
	}
}

func TestAccumulatorRejectedFixLowersValidity(t *testing.T) {
	acc := New(zap.NewNop(), testConfig(), nil)
	acc.Start(1000)

	base := time.Now()
	acc.HandleFix(fixAt(39.9, 116.4, base))
	acc.HandleRejected(models.RawFix{Accuracy: 120, Timestamp: base.Add(10 * time.Second)}, "accuracy")

	q := acc.Quality()
	if q.TotalFixes != 2 || q.AcceptedFixes != 1 {
		t.Fatalf("unexpected counters: %+v", q)
	}
	if q.ValidityRate != 0.5 {
		t.Fatalf("expected validity 0.5, got %v", q.ValidityRate)
	}
}

func TestAccumulatorDoubleStartRejected(t *testing.T) {
	acc := New(zap.NewNop(), testConfig(), nil)
	if _, err := acc.Start(1000); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := acc.Start(2000); err != ErrTrackingAlreadyActive {
		t.Fatalf("expected ErrTrackingAlreadyActive, got %v", err)
	}
}

func TestAccumulatorStopIdempotent(t *testing.T) {
	speeds := &speedRecorder{}
	acc := New(zap.NewNop(), testConfig(), speeds)
	acc.Start(1000)

	base := time.Now()
	acc.HandleFix(fixAt(39.9, 116.4, base))
	acc.HandleFix(fixAt(39.91, 116.4, base.Add(60*time.Second)))

	first := acc.Stop()
	second := acc.Stop()
	if first != second {
		t.Fatalf("stop not idempotent: %+v vs %+v", first, second)
	}
	if first.DistanceKm <= 0 {
		t.Fatalf("expected positive final distance, got %v", first.DistanceKm)
	}
	if speeds.resets != 1 {
		t.Fatalf("expected one speed reset, got %d", speeds.resets)
	}
	if acc.IsTracking() {
		t.Fatalf("expected no active session after stop")
	}
}

func TestAccumulatorSubscribeDebounced(t *testing.T) {
	acc := New(zap.NewNop(), testConfig(), nil)
	ch := acc.Subscribe()
	acc.Start(1000)

	base := time.Now()
	acc.HandleFix(fixAt(39.9, 116.4, base))
	acc.HandleFix(fixAt(39.91, 116.4, base.Add(60*time.Second)))

	// Start 通知一次（距离 0），距离超过 epsilon 后再通知一次
	deadline := time.After(time.Second)
	for {
		select {
		case update := <-ch:
			if update.DistanceKm > 0 {
				return
			}
		case <-deadline:
			t.Fatalf("no distance update received")
		}
	}
}

func TestAccumulatorSpeedObserved(t *testing.T) {
	speeds := &speedRecorder{}
	acc := New(zap.NewNop(), testConfig(), speeds)
	acc.Start(1000)

	base := time.Now()
	acc.HandleFix(fixAt(39.9, 116.4, base))
	acc.HandleFix(fixAt(39.91, 116.4, base.Add(60*time.Second)))

	if len(speeds.observed) != 1 {
		t.Fatalf("expected one speed observation, got %d", len(speeds.observed))
	}
	// 约 1.11 km 每分钟 ≈ 67 km/h
	if speeds.observed[0] < 50 || speeds.observed[0] > 90 {
		t.Fatalf("unexpected speed estimate: %v", speeds.observed[0])
	}
}
