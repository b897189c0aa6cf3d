package verify

import (
	"context"
	"log/slog"
	"time"
)

// Publisher delivers verification reports to the requester.
type Publisher interface {
	PublishVerification(ctx context.Context, reports []Report) error
}

// Emitter turns executions into reports and publishes the requested ones.
type Emitter struct {
	pub Publisher
	log *slog.Logger
	now func() time.Time
}

// NewEmitter returns an Emitter. pub may be nil, in which case reports are
// only returned to the caller.
func NewEmitter(pub Publisher, log *slog.Logger) *Emitter {
	return &Emitter{pub: pub, log: log, now: time.Now}
}

// Emit builds and publishes the reports for e.
func (m *Emitter) Emit(ctx context.Context, requestID string, flags AckFlags, e Execution) []Report {
	reports := Build(requestID, flags, e, m.now())
	for _, r := range reports {
		if !r.Success {
			m.log.Warn("verification failure",
				slog.String("request_id", requestID),
				slog.String("stage", r.Stage.String()),
				slog.String("code", r.Code.String()),
				slog.String("subject", r.Subject),
			)
		}
	}
	if m.pub != nil && len(reports) > 0 {
		if err := m.pub.PublishVerification(ctx, reports); err != nil {
			m.log.Error("publish verification failed", "request_id", requestID, "err", err)
		}
	}
	return reports
}

// Reject emits an acceptance failure for a request that never reached the scheduler.
func (m *Emitter) Reject(ctx context.Context, requestID string, flags AckFlags, code Code) []Report {
	return m.Emit(ctx, requestID, flags, Execution{Rejected: code})
}
