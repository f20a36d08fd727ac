package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type step struct {
	snap Snapshot
	err  error
}

// scriptedSource replays steps in order and repeats the last one forever.
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedSource) Status(_ context.Context, jobID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	st.snap.JobID = jobID
	return st.snap, st.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func collect(seq func(func(Snapshot, error) bool)) ([]Snapshot, error) {
	var snaps []Snapshot
	var last error
	for snap, err := range seq {
		if err != nil {
			last = err
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, last
}

func TestPollYieldsEachStateThenStops(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: Snapshot{State: StateQueued, Progress: 0}},
		{snap: Snapshot{State: StateActive, Progress: 50}},
		{snap: Snapshot{State: StateCompleted, Progress: 100, Result: &Result{DownloadURL: "https://cdn/v.mp4"}}},
	}}
	p := NewPoller(src, nil, nil)

	snaps, err := collect(p.Poll(context.Background(), "job-1", time.Millisecond, time.Now().Add(time.Second)))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	want := []State{StateQueued, StateActive, StateCompleted}
	for i, s := range snaps {
		if s.State != want[i] {
			t.Fatalf("snapshot %d: expected %s got %s", i, want[i], s.State)
		}
	}
	if src.Calls() != 3 {
		t.Fatalf("expected no further queries after completion, got %d", src.Calls())
	}
}

func TestPollTimesOutAtDeadline(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: Snapshot{State: StateQueued}}}}
	p := NewPoller(src, nil, nil)

	deadline := time.Now().Add(80 * time.Millisecond)
	snaps, err := collect(p.Poll(context.Background(), "job-1", 10*time.Millisecond, deadline))

	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if time.Now().Before(deadline) {
		t.Fatalf("poll ended before the deadline")
	}
	if time.Since(deadline) > 500*time.Millisecond {
		t.Fatalf("poll overran the deadline by %v", time.Since(deadline))
	}
	for _, s := range snaps {
		if s.State.Terminal() {
			t.Fatalf("unexpected terminal snapshot %+v", s)
		}
	}
	if len(snaps) == 0 {
		t.Fatalf("expected queued snapshots before timing out")
	}
}

func TestPollRetriesTransientFailures(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: Snapshot{State: StateQueued}},
		{err: ErrBackendUnreachable},
		{err: ErrMalformedResponse},
		{snap: Snapshot{State: StateFailed, Error: "render crashed"}},
	}}
	p := NewPoller(src, nil, nil)

	snaps, err := collect(p.Poll(context.Background(), "job-1", time.Millisecond, time.Now().Add(time.Second)))
	if err != nil {
		t.Fatalf("transient failures must not end the sequence: %v", err)
	}
	if len(snaps) != 2 || snaps[1].State != StateFailed {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
	if src.Calls() != 4 {
		t.Fatalf("expected 4 queries, got %d", src.Calls())
	}
}

func TestPollStopsOnJobNotFound(t *testing.T) {
	src := &scriptedSource{steps: []step{{err: ErrJobNotFound}}}
	p := NewPoller(src, nil, nil)

	snaps, err := collect(p.Poll(context.Background(), "ghost", time.Millisecond, time.Now().Add(time.Second)))
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(snaps) != 0 || src.Calls() != 1 {
		t.Fatalf("expected immediate stop, got %d snapshots after %d calls", len(snaps), src.Calls())
	}
}

func TestPollReportsProgressRegression(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: Snapshot{State: StateActive, Progress: 60}},
		{snap: Snapshot{State: StateActive, Progress: 40}},
		{snap: Snapshot{State: StateCompleted, Progress: 100}},
	}}
	snaps, err := collect(NewPoller(src, nil, nil).Poll(context.Background(), "j", time.Millisecond, time.Now().Add(time.Second)))
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if len(snaps) != 3 || snaps[1].Progress != 40 {
		t.Fatalf("regressed snapshot must still be delivered: %+v", snaps)
	}
}

func TestPollConsumerCanStopEarly(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: Snapshot{State: StateActive}}}}
	p := NewPoller(src, nil, nil)

	n := 0
	for _, err := range p.Poll(context.Background(), "j", time.Millisecond, time.Now().Add(time.Second)) {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		n++
		if n == 2 {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	if src.Calls() != 2 {
		t.Fatalf("expected polling to stop with the consumer, got %d calls", src.Calls())
	}
}

func TestPollCancellation(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: Snapshot{State: StateQueued}}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var last error
	for _, err := range NewPoller(src, nil, nil).Poll(ctx, "j", 5*time.Millisecond, time.Now().Add(time.Minute)) {
		if err != nil {
			last = err
			break
		}
		cancel()
	}
	if !errors.Is(last, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", last)
	}
}
