package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober checks whether the remote API is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Monitor watches connectivity and turns it into drain triggers. It starts
// offline, so the first successful probe drains every queue.
type Monitor struct {
	coord    *Coordinator
	prober   Prober
	interval time.Duration

	mu     sync.Mutex
	online bool

	signals chan Tag
}

// NewMonitor creates a monitor probing every interval.
func NewMonitor(coord *Coordinator, prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		coord:    coord,
		prober:   prober,
		interval: interval,
		signals:  make(chan Tag, len(Tags)*4),
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity observation. The offline to online
// transition signals every tag.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	m.coord.metrics.SetOnline(online)
	if online == wasOnline {
		return
	}

	logrus.WithField("online", online).Info("Connectivity changed")
	if online {
		for _, tag := range Tags {
			m.Signal(tag)
		}
	}
}

// Signal asks for a drain of tag. Signals never block; when a drain for the
// tag is already waiting the signal is folded into it.
func (m *Monitor) Signal(tag Tag) {
	select {
	case m.signals <- tag:
	default:
		logrus.WithField("tag", tag).Debug("Drain signal dropped; queue of signals is full")
	}
}

// Run probes connectivity and serves drain signals until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		case tag := <-m.signals:
			if _, err := m.coord.Trigger(ctx, tag); err != nil {
				logrus.WithError(err).WithField("tag", tag).Error("Drain pass failed")
			}
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	if m.prober == nil {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.coord.timeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if err != nil {
		logrus.WithError(err).Debug("Connectivity probe failed")
	}
	m.SetOnline(err == nil)
}
