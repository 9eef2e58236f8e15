package capture

import (
	"errors"

	"golang.org/x/sync/semaphore"
)

var ErrDeviceBusy = errors.New("capture: input device is held by another session")

// DeviceLock is the process-wide exclusive handle on the input device.
type DeviceLock struct {
	sem *semaphore.Weighted
}

func NewDeviceLock() *DeviceLock {
	return &DeviceLock{sem: semaphore.NewWeighted(1)}
}

// Acquire takes the device or fails immediately with ErrDeviceBusy.
func (l *DeviceLock) Acquire() error {
	if !l.sem.TryAcquire(1) {
		return ErrDeviceBusy
	}
	return nil
}

func (l *DeviceLock) Release() {
	l.sem.Release(1)
}
