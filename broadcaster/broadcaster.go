// Package broadcaster implements the periodic stable-set broadcaster
// thread of spec.md section 4.2: every interval, it reads the local
// executed-GID set from the engine, encodes it, and sends it as a
// PayloadCertificationEvent so every member's stable-set tracker can
// eventually intersect and garbage-collect.
//
// It is the same periodic-worker-goroutine-over-idem.Halter shape the
// teacher uses for its background threads (e.g. tube's leader lease
// renewal loop), built on a time.Ticker rather than tube/backoff.go's
// exponential backoff -- this thread is not retrying a failed
// operation, it is pacing a steady-state broadcast, so a ticker is the
// better-grounded fit. recovery has its own jittered backoff
// (recovery/backoff.go, adapted from tube/backoff.go's shape) for donor
// connection attempts.
package broadcaster

import (
	"context"
	"time"

	"github.com/glycerine/idem"

	"github.com/glycerine/groupcert/engine"
	"github.com/glycerine/groupcert/gcs"
	"github.com/glycerine/groupcert/stableset"
)

// DefaultInterval is the default broadcast period, per spec.md section
// 4.2.
const DefaultInterval = 60 * time.Second

// Broadcaster periodically publishes the local executed-GID set.
type Broadcaster struct {
	Halt *idem.Halter

	host     engine.Host
	svc      gcs.Service
	interval time.Duration

	// isOnline reports whether the local member is currently ONLINE, per
	// spec.md section 4.8's "if the local member state is ONLINE". A nil
	// isOnline means always broadcast -- used by tests that don't care
	// about member status.
	isOnline func() bool
	onError  func(error)
}

// New returns a Broadcaster that reads executed sets from host and
// publishes them through svc every interval. If interval is <= 0,
// DefaultInterval is used. isOnline, if non-nil, gates each tick: a
// broadcast is skipped entirely while it returns false. onError, if
// non-nil, is called with any error from a single broadcast attempt;
// failures are otherwise swallowed and retried on the next tick, per
// spec.md section 4.2's failure model (a lost broadcast only delays
// garbage collection).
func New(host engine.Host, svc gcs.Service, interval time.Duration, isOnline func() bool, onError func(error)) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{
		Halt:     idem.NewHalter(),
		host:     host,
		svc:      svc,
		interval: interval,
		isOnline: isOnline,
		onError:  onError,
	}
}

// Start launches the periodic broadcast goroutine.
func (b *Broadcaster) Start() {
	go b.run()
}

func (b *Broadcaster) run() {
	defer b.Halt.Done.Close()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.Halt.ReqStop.Chan:
			return
		case <-ticker.C:
			b.broadcastOnce()
		}
	}
}

func (b *Broadcaster) broadcastOnce() {
	if b.isOnline != nil && !b.isOnline() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.interval)
	defer cancel()

	executed, err := b.host.GetExecutedGTIDSet(ctx)
	if err != nil {
		b.reportError(err)
		return
	}
	payload, err := stableset.Encode(executed)
	if err != nil {
		b.reportError(err)
		return
	}
	if err := b.svc.Broadcast(ctx, gcs.PayloadCertificationEvent, payload); err != nil {
		b.reportError(err)
	}
}

func (b *Broadcaster) reportError(err error) {
	if b.onError != nil {
		b.onError(err)
	}
}

// Stop requests the broadcaster goroutine exit and waits up to timeout
// for it to do so.
func (b *Broadcaster) Stop(timeout time.Duration) error {
	if b.Halt.Done.IsClosed() {
		return nil
	}
	b.Halt.ReqStop.Close()
	select {
	case <-b.Halt.Done.Chan:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
