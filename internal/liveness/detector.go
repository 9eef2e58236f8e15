// Package liveness detects recordings that stopped producing chunks.
package liveness

import (
	"sync"
	"time"
)

// Detector fires once per gap when no chunk arrives within timeout while
// armed. A later chunk re-arms it.
type Detector struct {
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	armed     bool
	timer     *time.Timer
	lastChunk time.Time
	onStall   func(lastChunk time.Time)
}

func NewDetector(timeout time.Duration) *Detector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Detector{timeout: timeout, now: time.Now}
}

func (d *Detector) Timeout() time.Duration {
	return d.timeout
}

func (d *Detector) OnStall(callback func(lastChunk time.Time)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStall = callback
}

// Arm starts watching; the gap is measured from now.
func (d *Detector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.armed = true
	d.lastChunk = d.now()
	d.resetLocked()
}

// Touch records a chunk.
func (d *Detector) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed {
		return
	}
	d.lastChunk = d.now()
	d.resetLocked()
}

func (d *Detector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) resetLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		if d.timer != timer || !d.armed {
			d.mu.Unlock()
			return
		}
		callback := d.onStall
		last := d.lastChunk
		d.timer = nil
		d.mu.Unlock()

		if callback != nil {
			callback(last)
		}
	})
	d.timer = timer
}
