// Package agent drives the collect-and-report cycle on a fixed cadence.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/logger"
	"github.com/Qosay-AlShatel/IoT-Device-Metrics-Reporter/internal/model"
)

type Collector interface {
	Collect(ctx context.Context) model.Snapshot
}

type Reporter interface {
	Report(ctx context.Context, snap model.Snapshot) error
}

type State int32

const (
	StateIdle State = iota
	StateReporting
)

func (s State) String() string {
	if s == StateReporting {
		return "reporting"
	}

	return "idle"
}

// Loop alternates between Idle and Reporting. Ticks that fire while a cycle
// is running are dropped by the ticker, so at most one report is outstanding.
type Loop struct {
	collector Collector
	reporter  Reporter
	interval  time.Duration
	logger    logger.Logger

	state  atomic.Int32
	cycles atomic.Uint64
	failed atomic.Uint64

	newTicker func(time.Duration) (<-chan time.Time, func())
}

func New(c Collector, r Reporter, interval time.Duration, log logger.Logger) *Loop {
	return &Loop{
		collector: c,
		reporter:  r,
		interval:  interval,
		logger:    log,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Cycles returns how many collect-and-report cycles have completed.
func (l *Loop) Cycles() uint64 { return l.cycles.Load() }

// Run reports once immediately and then on every tick until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().Dur("interval", l.interval).Msg("Starting report loop")

	l.cycle(ctx)

	tick, stopTicker := l.newTicker(l.interval)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return l.stop(ctx)
		case <-tick:
			// select picks at random when a tick and the stop signal are both ready
			if ctx.Err() != nil {
				return l.stop(ctx)
			}
			l.cycle(ctx)
		}
	}
}

func (l *Loop) stop(ctx context.Context) error {
	l.logger.Info().
		Uint64("cycles", l.cycles.Load()).
		Uint64("failed", l.failed.Load()).
		Msg("Report loop stopping due to context cancellation")

	return ctx.Err()
}

func (l *Loop) cycle(ctx context.Context) {
	l.state.Store(int32(StateReporting))
	defer l.state.Store(int32(StateIdle))

	start := time.Now()

	// A stop signal must not abort a request mid-write; the reporter's own
	// timeout bounds how long shutdown waits for it.
	sendCtx := context.WithoutCancel(ctx)

	snap := l.collector.Collect(sendCtx)
	if err := l.reporter.Report(sendCtx, snap); err != nil {
		l.failed.Add(1)
	}

	l.cycles.Add(1)
	l.logger.Debug().Dur("took", time.Since(start)).Msg("Cycle complete")
}
