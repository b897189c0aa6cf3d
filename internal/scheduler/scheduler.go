// Package scheduler owns the time-based schedule: it executes scheduling
// requests against the activity store and releases due activities.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/gyaneshwarpardhi/tcsched/internal/metrics"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/release"
	"github.com/gyaneshwarpardhi/tcsched/internal/report"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

// ReportPublisher delivers detail and summary reports on the telemetry path.
type ReportPublisher interface {
	PublishReport(ctx context.Context, requestID string, r report.Report) error
}

// Journal stores the schedule so it survives a restart.
type Journal interface {
	Save(ctx context.Context, snap schedule.Snapshot) error
}

// Outcome is the result of executing one request.
type Outcome struct {
	RequestID    string           `json:"request_id"`
	Kind         string           `json:"kind"`
	Verification []verify.Report  `json:"verification"`
	Report       *report.Report   `json:"report,omitempty"`
	Released     int              `json:"released,omitempty"`
	Execution    verify.Execution `json:"-"`
}

// Status describes the schedule without touching it.
type Status struct {
	Enabled     bool          `json:"enabled"`
	Size        int           `json:"size"`
	Capacity    int           `json:"capacity"`
	NextRelease *obtime.Time  `json:"next_release,omitempty"`
	Now         obtime.Time   `json:"now"`
	Summary     report.Report `json:"summary"`
}

// Scheduler is the single owner of a schedule.Store. None of its methods
// are safe for concurrent use; Service serialises access.
type Scheduler struct {
	store   *schedule.Store
	clock   obtime.Clock
	sink    release.Sink
	emitter *verify.Emitter
	reports ReportPublisher
	journal Journal
	log     *slog.Logger
	minLead int32
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCapacity bounds the number of scheduled activities.
func WithCapacity(n int) Option {
	return func(s *Scheduler) { s.store.SetCapacity(n) }
}

// WithMinLead requires release times to be at least seconds after now.
func WithMinLead(seconds int32) Option {
	return func(s *Scheduler) { s.minLead = seconds }
}

// WithReportPublisher sends rendered reports to p.
func WithReportPublisher(p ReportPublisher) Option {
	return func(s *Scheduler) { s.reports = p }
}

// WithJournal saves the schedule to j after every change.
func WithJournal(j Journal) Option {
	return func(s *Scheduler) { s.journal = j }
}

// New creates a Scheduler with an empty, disabled schedule.
func New(clock obtime.Clock, sink release.Sink, emitter *verify.Emitter, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   schedule.NewStore(0),
		clock:   clock,
		sink:    sink,
		emitter: emitter,
		log:     log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore loads a previously journaled schedule. Overdue entries are kept
// and go out on the next release pass if the schedule is enabled.
func (s *Scheduler) Restore(snap schedule.Snapshot) error {
	if err := s.store.Restore(snap); err != nil {
		return err
	}
	s.observe()
	return nil
}

// Execute runs one request to completion and emits its verification
// reports. The clock is read once; every time check in the request uses
// that reading.
func (s *Scheduler) Execute(ctx context.Context, env *request.Envelope) *Outcome {
	start := time.Now()
	now := s.clock.Now()
	notBefore := s.earliest(now)

	out := &Outcome{RequestID: env.ID, Kind: env.Body.Kind().String()}
	var exec verify.Execution
	mutates := true

	switch r := env.Body.(type) {
	case request.Insert:
		exec = s.handleInsert(r, notBefore)
	case request.DeleteByID:
		exec = s.handleDelete(r)
	case request.Reset:
		s.store.DeleteAll()
	case request.ShiftByID:
		exec = s.handleShift(r, notBefore)
	case request.ShiftAll:
		exec = s.handleShiftAll(r, notBefore)
	case request.Enable:
		s.store.SetEnabled(true)
		out.Released = s.release(ctx, now)
	case request.Disable:
		s.store.SetEnabled(false)
	case request.DetailReport:
		mutates = false
		out.Report = s.render(ctx, env.ID, report.KindDetail, r.Selection)
	case request.SummaryReport:
		mutates = false
		out.Report = s.render(ctx, env.ID, report.KindSummary, r.Selection)
	default:
		mutates = false
		exec.Rejected = verify.CodeIllegalSubtype
	}

	if mutates && exec.Rejected == verify.CodeNone && exec.Aborted == verify.CodeNone {
		s.save(ctx)
	}
	s.observe()

	out.Execution = exec
	out.Verification = s.emitter.Emit(ctx, env.ID, env.Ack, exec)
	metrics.RequestsProcessed.WithLabelValues(out.Kind, outcomeLabel(exec)).Inc()
	for _, f := range exec.Failures {
		metrics.ItemFailures.WithLabelValues(f.Code.String()).Inc()
	}
	s.log.Debug("request executed",
		slog.String("request_id", env.ID),
		slog.String("kind", out.Kind),
		slog.String("outcome", outcomeLabel(exec)),
		slog.Duration("took", time.Since(start)),
	)
	return out
}

// ReleaseDue forwards every activity due at the current clock reading to
// the sink, oldest first. It does nothing while the schedule is disabled.
func (s *Scheduler) ReleaseDue(ctx context.Context) int {
	n := s.release(ctx, s.clock.Now())
	s.observe()
	return n
}

func (s *Scheduler) release(ctx context.Context, now obtime.Time) int {
	if !s.store.Enabled() {
		return 0
	}
	n := 0
	for a := range s.store.Due(now) {
		n++
		if err := s.sink.Release(ctx, a); err != nil {
			// The activity has left the schedule either way.
			metrics.SinkErrors.Inc()
			s.log.Error("release sink failed",
				slog.String("id", a.ID.String()),
				slog.String("release_time", a.ReleaseTime.String()),
				"err", err,
			)
		}
	}
	if n > 0 {
		metrics.ActivitiesReleased.Add(float64(n))
		s.log.Info("activities released", slog.Int("count", n), slog.String("now", now.String()))
		s.save(ctx)
	}
	return n
}

// Status summarises the schedule. It emits nothing.
func (s *Scheduler) Status() Status {
	st := Status{
		Enabled:  s.store.Enabled(),
		Size:     s.store.Len(),
		Capacity: s.store.Capacity(),
		Now:      s.clock.Now(),
		Summary:  report.Build(report.KindSummary, true, s.store.All()),
	}
	if t, ok := s.store.NextRelease(); ok {
		st.NextRelease = &t
	}
	return st
}

// Snapshot copies the schedule.
func (s *Scheduler) Snapshot() schedule.Snapshot { return s.store.Snapshot() }

// SetCapacity and SetMinLead apply reloaded limits to later requests only.
func (s *Scheduler) SetCapacity(n int)        { s.store.SetCapacity(n) }
func (s *Scheduler) SetMinLead(seconds int32) { s.minLead = seconds }

func (s *Scheduler) earliest(now obtime.Time) obtime.Time {
	t, ok := now.Shift(s.minLead)
	if !ok {
		if s.minLead < 0 {
			return obtime.Time{}
		}
		return obtime.New(math.MaxUint32, math.MaxUint16)
	}
	return t
}

func (s *Scheduler) render(ctx context.Context, requestID string, kind report.Kind, sel request.Selection) *report.Report {
	acts := s.store.All()
	if !sel.All {
		acts = s.store.Lookup(sel.IDs)
	}
	r := report.Build(kind, sel.All, acts)
	if s.reports != nil {
		if err := s.reports.PublishReport(ctx, requestID, r); err != nil {
			s.log.Error("publish report failed", "request_id", requestID, "err", err)
		}
	}
	return &r
}

func (s *Scheduler) save(ctx context.Context) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Save(ctx, s.store.Snapshot()); err != nil {
		metrics.JournalErrors.Inc()
		s.log.Error("journal save failed", "err", err)
	}
}

func (s *Scheduler) observe() {
	metrics.ScheduleSize.Set(float64(s.store.Len()))
	if s.store.Enabled() {
		metrics.ScheduleEnabled.Set(1)
	} else {
		metrics.ScheduleEnabled.Set(0)
	}
}

func outcomeLabel(e verify.Execution) string {
	switch {
	case e.Rejected != verify.CodeNone:
		return "rejected"
	case e.Aborted != verify.CodeNone:
		return "aborted"
	case len(e.Failures) > 0:
		return "partial"
	}
	return "completed"
}
