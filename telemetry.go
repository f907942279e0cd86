package udd

import (
	"fmt"

	"github.com/openkvs/udd/internal/transport"
)

// DeviceLimits is the device-reported sizing record the engine validates
// submissions against.
type DeviceLimits = transport.Limits

// DeviceInfo is the device identity and capacity record.
type DeviceInfo = transport.Info

// Capacity returns the device's used and total capacity in bytes.
func (s *Session) Capacity() (used, total int64, err error) {
	if !s.ready() {
		return 0, 0, fmt.Errorf("%w: capacity query on closed session", ErrDeviceNotReady)
	}
	return s.backend.Capacity()
}

// UsedSize returns the number of bytes currently consumed on the device.
func (s *Session) UsedSize() (int64, error) {
	used, _, err := s.Capacity()
	return used, err
}

// TotalCapacity returns the device's total capacity in bytes.
func (s *Session) TotalCapacity() (int64, error) {
	_, total, err := s.Capacity()
	return total, err
}

// Utilization returns the used fraction of device capacity in [0, 1].
func (s *Session) Utilization() (float64, error) {
	used, total, err := s.Capacity()
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, nil
	}
	return float64(used) / float64(total), nil
}

// WAF returns the device's write-amplification factor: physical bytes
// written divided by logical bytes accepted.
func (s *Session) WAF() (float64, error) {
	if !s.ready() {
		return 0, fmt.Errorf("%w: WAF query on closed session", ErrDeviceNotReady)
	}
	return s.backend.WAF(), nil
}

// DeviceInfo returns the device's identity record.
func (s *Session) DeviceInfo() (DeviceInfo, error) {
	if !s.ready() {
		return DeviceInfo{}, fmt.Errorf("%w: device info query on closed session", ErrDeviceNotReady)
	}
	return s.backend.DeviceInfo(), nil
}
