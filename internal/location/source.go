package location

import (
	"errors"

	"github.com/langchou/drivelog/internal/models"
)

// 传感器可用性错误（可恢复：引擎回退到手动录入模式）
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrServiceDisabled  = errors.New("location service disabled")
	ErrFixTimeout       = errors.New("location fix timeout")
)

// 设备上报的传感器状态
const (
	StatusPermissionDenied = "permission_denied"
	StatusServiceDisabled  = "service_disabled"
)

// ErrorForStatus 将设备上报的状态映射为错误；未知状态返回 nil
func ErrorForStatus(status string) error {
	switch status {
	case StatusPermissionDenied:
		return ErrPermissionDenied
	case StatusServiceDisabled:
		return ErrServiceDisabled
	}
	return nil
}

// Source 原始定位源边界（异步事件源）
type Source interface {
	Fixes() <-chan models.RawFix
	Errors() <-chan error
}

// DeviceSource 设备推送式定位源：现场设备通过 HTTP 上报定位点和传感器状态
type DeviceSource struct {
	fixes chan models.RawFix
	errs  chan error
}

// NewDeviceSource 创建设备定位源
func NewDeviceSource() *DeviceSource {
	return &DeviceSource{
		fixes: make(chan models.RawFix, 64),
		errs:  make(chan error, 8),
	}
}

// Fixes 定位点通道
func (s *DeviceSource) Fixes() <-chan models.RawFix {
	return s.fixes
}

// Errors 传感器错误通道
func (s *DeviceSource) Errors() <-chan error {
	return s.errs
}

// PushFix 推入一个定位点；消费方积压时丢弃，采样循环不因慢消费者阻塞
func (s *DeviceSource) PushFix(fix models.RawFix) bool {
	select {
	case s.fixes <- fix:
		return true
	default:
		return false
	}
}

// ReportError 推入一个传感器错误
func (s *DeviceSource) ReportError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
