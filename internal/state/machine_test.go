package state

import "testing"

func TestMachineGpsLifecycle(t *testing.T) {
	m := NewMachine("2025-03-01", "", nil)
	if m.CurrentState() != StateNotStarted {
		t.Fatalf("expected not_started, got %s", m.CurrentState())
	}

	steps := []struct {
		event string
		want  string
	}{
		{EventRecordStart, StateStarted},
		{EventStartTracking, StateTrackingActive},
		{EventRecordEnd, StateEnded},
		{EventLock, StateLocked},
	}
	for _, s := range steps {
		if err := m.Trigger(s.event); err != nil {
			t.Fatalf("trigger %s: %v", s.event, err)
		}
		if m.CurrentState() != s.want {
			t.Fatalf("after %s: expected %s, got %s", s.event, s.want, m.CurrentState())
		}
	}
}

func TestMachineManualLifecycle(t *testing.T) {
	m := NewMachine("2025-03-01", "", nil)
	m.Trigger(EventRecordStart)
	if err := m.Trigger(EventAwaitManual); err != nil {
		t.Fatalf("await manual: %v", err)
	}
	if m.CurrentState() != StateAwaitingManual {
		t.Fatalf("expected awaiting_manual_end, got %s", m.CurrentState())
	}
	if err := m.Trigger(EventRecordEnd); err != nil {
		t.Fatalf("record end: %v", err)
	}
}

func TestMachineGpsLossFallback(t *testing.T) {
	m := NewMachine("2025-03-01", "", nil)
	m.Trigger(EventRecordStart)
	m.Trigger(EventStartTracking)

	if err := m.Trigger(EventGpsLost); err != nil {
		t.Fatalf("gps lost: %v", err)
	}
	if m.CurrentState() != StateAwaitingManual {
		t.Fatalf("expected fallback to awaiting_manual_end, got %s", m.CurrentState())
	}
}

func TestMachineReopenFromLocked(t *testing.T) {
	m := NewMachine("2025-03-01", StateLocked, nil)

	if err := m.Trigger(EventReopen); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if m.CurrentState() != StateEnded {
		t.Fatalf("expected ended after reopen, got %s", m.CurrentState())
	}
	if err := m.Trigger(EventLock); err != nil {
		t.Fatalf("re-lock: %v", err)
	}
}

func TestMachineInvalidTransition(t *testing.T) {
	m := NewMachine("2025-03-01", "", nil)
	if err := m.Trigger(EventRecordEnd); err == nil {
		t.Fatalf("expected error ending before start")
	}
	if m.CanTransition(EventLock) {
		t.Fatalf("lock should not be possible from not_started")
	}
}

func TestMachineStateChangeCallback(t *testing.T) {
	var transitions [][2]string
	m := NewMachine("2025-03-01", "", func(date, from, to string) {
		if date != "2025-03-01" {
			t.Fatalf("unexpected date %s", date)
		}
		transitions = append(transitions, [2]string{from, to})
	})

	m.Trigger(EventRecordStart)
	m.Trigger(EventStartTracking)

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0] != [2]string{StateNotStarted, StateStarted} {
		t.Fatalf("unexpected first transition: %v", transitions[0])
	}
}

func TestManagerReusesMachinePerDate(t *testing.T) {
	mgr := NewManager(nil)
	a := mgr.GetOrCreate("2025-03-01", "")
	b := mgr.GetOrCreate("2025-03-01", StateLocked)
	if a != b {
		t.Fatalf("expected same machine for same date")
	}
	if b.CurrentState() != StateNotStarted {
		t.Fatalf("existing machine state must win, got %s", b.CurrentState())
	}

	if _, ok := mgr.Get("2025-03-02"); ok {
		t.Fatalf("unexpected machine for unseen date")
	}
}

func TestManagerDropAllowsRebuild(t *testing.T) {
	mgr := NewManager(nil)
	m := mgr.GetOrCreate("2025-03-01", "")
	m.Trigger(EventRecordStart)

	mgr.Drop("2025-03-01")

	rebuilt := mgr.GetOrCreate("2025-03-01", "")
	if rebuilt == m {
		t.Fatalf("expected a fresh machine after drop")
	}
	if rebuilt.CurrentState() != StateNotStarted {
		t.Fatalf("rebuilt machine must start over, got %s", rebuilt.CurrentState())
	}
}
