package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// 记录生命周期状态常量
const (
	StateNotStarted       = "not_started"
	StateStarted          = "started"
	StateTrackingActive   = "tracking_active"
	StateAwaitingManual   = "awaiting_manual_end"
	StateEnded            = "ended"
	StateLocked           = "locked"
)

// 事件常量
const (
	EventRecordStart   = "record_start"
	EventStartTracking = "start_tracking"
	EventAwaitManual   = "await_manual_end"
	EventGpsLost       = "gps_lost"
	EventRecordEnd     = "record_end"
	EventLock          = "lock"
	EventReopen        = "reopen"
)

// Machine 记录状态机（每天一条记录对应一个实例）
type Machine struct {
	mu            sync.RWMutex
	date          string
	fsm           *fsm.FSM
	onStateChange func(date, from, to string)
}

// NewMachine 创建状态机
func NewMachine(date, initialState string, onStateChange func(date, from, to string)) *Machine {
	if initialState == "" {
		initialState = StateNotStarted
	}

	m := &Machine{
		date:          date,
		onStateChange: onStateChange,
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			// 记录起始里程后进入 started
			{Name: EventRecordStart, Src: []string{StateNotStarted}, Dst: StateStarted},

			// 从 started 状态：启用 GPS 则进入 tracking_active，否则等待手动结束
			{Name: EventStartTracking, Src: []string{StateStarted}, Dst: StateTrackingActive},
			{Name: EventAwaitManual, Src: []string{StateStarted}, Dst: StateAwaitingManual},

			// 传感器失效时回退到手动录入
			{Name: EventGpsLost, Src: []string{StateTrackingActive}, Dst: StateAwaitingManual},

			// 记录结束事件
			{Name: EventRecordEnd, Src: []string{StateTrackingActive, StateAwaitingManual}, Dst: StateEnded},

			// 持久化后锁定；锁定后的修改需要审计的 reopen
			{Name: EventLock, Src: []string{StateEnded}, Dst: StateLocked},
			{Name: EventReopen, Src: []string{StateLocked}, Dst: StateEnded},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.date, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Trigger 触发事件
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Manager 状态机管理器（按记录日期索引）
type Manager struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	onChange func(date, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(date, from, to string)) *Manager {
	return &Manager{
		machines: make(map[string]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(date, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[date]; ok {
		return machine
	}

	machine := NewMachine(date, initialState, m.onChange)
	m.machines[date] = machine
	return machine
}

// Drop 移除状态机（记录创建落库失败时回收，重试可以重建）
func (m *Manager) Drop(date string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.machines, date)
}

// Get 获取状态机
func (m *Manager) Get(date string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[date]
	return machine, ok
}
