package jobs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"demoreel/internal/logger"
	"demoreel/internal/metrics"
)

// StatusSource answers status queries. *Client implements it.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (Snapshot, error)
}

// Poller turns repeated status queries into a finite sequence of snapshots.
type Poller struct {
	src     StatusSource
	log     *slog.Logger
	metrics *metrics.Registry
}

func NewPoller(src StatusSource, log *slog.Logger, m *metrics.Registry) *Poller {
	return &Poller{src: src, log: logger.Component(log, "poller"), metrics: m}
}

// Poll queries jobID immediately and then once per interval. Every answer is
// yielded as-is. The sequence ends after a terminal snapshot, or with a
// single error: ErrJobNotFound, ErrPollTimeout once deadline passes, or the
// context error if ctx is cancelled. Failed queries of any other kind are
// logged and retried on the next tick.
func (p *Poller) Poll(ctx context.Context, jobID string, interval time.Duration, deadline time.Time) iter.Seq2[Snapshot, error] {
	return func(yield func(Snapshot, error) bool) {
		pctx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()

		log := p.log.With("job_id", jobID)
		tick := time.NewTimer(0)
		defer tick.Stop()

		lastProgress := -1
		for {
			select {
			case <-pctx.Done():
				yield(Snapshot{JobID: jobID}, doneErr(ctx, jobID, deadline))
				return
			case <-tick.C:
			}

			snap, err := p.src.Status(pctx, jobID)
			if err != nil {
				if errors.Is(err, ErrJobNotFound) {
					p.metrics.IncPoll("not_found")
					yield(Snapshot{JobID: jobID}, err)
					return
				}
				if pctx.Err() != nil {
					continue
				}
				p.metrics.IncPoll("error")
				log.Warn("status query failed; retrying next interval", "error", err)
				tick.Reset(interval)
				continue
			}

			p.metrics.IncPoll("ok")
			if snap.Progress < lastProgress {
				log.Warn("backend reported progress regression", "previous", lastProgress, "current", snap.Progress, "state", snap.State)
			}
			lastProgress = snap.Progress

			if !yield(snap, nil) {
				return
			}
			if snap.State.Terminal() {
				return
			}
			tick.Reset(interval)
		}
	}
}

func doneErr(parent context.Context, jobID string, deadline time.Time) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s still running at %s", ErrPollTimeout, jobID, deadline.UTC().Format(time.RFC3339))
}
