package release

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
)

// Sink receives released activities. Release is called from the schedule
// owner, in release order, and must not block for long.
type Sink interface {
	// Name returns the key this sink is registered under.
	Name() string
	// Release forwards the activity payload downstream, unchanged.
	Release(ctx context.Context, a schedule.Activity) error
}

// Fanout forwards each release to every member sink.
type Fanout []Sink

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Release(ctx context.Context, a schedule.Activity) error {
	var errs []error
	for _, s := range f {
		if err := s.Release(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink records each release in the log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Release(_ context.Context, a schedule.Activity) error {
	s.log.Info("telecommand released",
		slog.String("id", a.ID.String()),
		slog.String("release_time", a.ReleaseTime.String()),
		slog.Int("size", len(a.Payload)),
	)
	return nil
}

// Recorder keeps released activities in memory.
type Recorder struct {
	ch chan schedule.Activity
}

// NewRecorder returns a Recorder buffering up to n releases; further
// releases fail until the buffer is drained.
func NewRecorder(n int) *Recorder {
	return &Recorder{ch: make(chan schedule.Activity, n)}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Release(_ context.Context, a schedule.Activity) error {
	select {
	case r.ch <- a:
		return nil
	default:
		return errors.New("recorder buffer full")
	}
}

// Released exposes the recorded activities.
func (r *Recorder) Released() <-chan schedule.Activity { return r.ch }

// Drain returns every activity recorded so far.
func (r *Recorder) Drain() []schedule.Activity {
	var out []schedule.Activity
	for {
		select {
		case a := <-r.ch:
			out = append(out, a)
		default:
			return out
		}
	}
}
