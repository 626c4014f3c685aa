package order

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Reaper cancels sagas that stayed PENDING longer than the timeout, which
// happens when a participant never replies. It also resends final events
// that a terminal order still owes after a failed publish.
type Reaper struct {
	c        *Coordinator
	timeout  time.Duration
	interval time.Duration
	log      zerolog.Logger
}

func NewReaper(c *Coordinator, timeout, interval time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{c: c, timeout: timeout, interval: interval, log: log.With().Str("component", "reaper").Logger()}
}

// Run sweeps every interval until ctx is done. A zero timeout disables
// cancellation; owed events are still resent.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	r.log.Info().Dur("timeout", r.timeout).Dur("interval", r.interval).Msg("saga reaper started")

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.tick(ctx, now)
		}
	}
}

func (r *Reaper) tick(ctx context.Context, now time.Time) {
	if n, err := r.Resend(ctx); err != nil {
		r.log.Error().Err(err).Msg("resend failed")
	} else if n > 0 {
		r.log.Info().Int("orders", n).Msg("owed events resent")
	}
	if r.timeout <= 0 {
		return
	}
	if n, err := r.Sweep(ctx, now); err != nil {
		r.log.Error().Err(err).Msg("sweep failed")
	} else if n > 0 {
		r.log.Info().Int("cancelled", n).Msg("sweep done")
	}
}

// Sweep cancels every order created before now-timeout that is still
// PENDING and returns how many it cancelled.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	ids, err := r.c.repo.ListStalePending(ctx, now.Add(-r.timeout))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		o, won, err := r.c.repo.Finalize(ctx, id, StatusCancelled, ReasonTimedOut)
		if err != nil {
			return n, err
		}
		if !won {
			continue
		}
		n++
		r.log.Warn().Str("order_id", id).Str("stock", string(o.StockStatus)).
			Str("payment", string(o.PaymentStatus)).Msg("saga timed out")
		if err := r.c.announce(ctx, o); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Resend sends the final events of terminal orders whose earlier publish
// failed. It returns how many orders it completed.
func (r *Reaper) Resend(ctx context.Context) (int, error) {
	ids, err := r.c.repo.ListOwing(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		o, err := r.c.repo.Get(ctx, id)
		if err != nil {
			return n, err
		}
		if o == nil || !o.Owing() {
			continue
		}
		if err := r.c.announce(ctx, o); err != nil {
			return n, err
		}
		r.log.Warn().Str("order_id", id).Str("status", string(o.Status)).Msg("owed final events resent")
		n++
	}
	return n, nil
}
