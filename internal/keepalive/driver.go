// Package keepalive re-announces presence on a fixed period, since the
// underlying channel has no notion of a connection.
package keepalive

import (
	"sync"
	"time"
)

// DefaultInterval is the announce period used by the codec peripheral API.
const DefaultInterval = 30 * time.Second

// Driver calls Announce once on Start and then every Interval until Stop.
type Driver struct {
	interval time.Duration
	announce func()

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a stopped Driver. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, announce func()) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{interval: interval, announce: announce}
}

// Start runs one announce cycle immediately and schedules the rest. Calling
// Start on a running Driver does nothing and returns false.
func (d *Driver) Start() bool {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return false
	}
	d.running = true
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	stop, done := d.stop, d.done
	d.mu.Unlock()

	d.announce()
	go d.loop(stop, done)
	return true
}

// Stop halts the schedule and waits for an in-flight cycle to finish.
func (d *Driver) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the schedule is active.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Interval returns the announce period.
func (d *Driver) Interval() time.Duration {
	return d.interval
}

func (d *Driver) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.announce()
		}
	}
}
