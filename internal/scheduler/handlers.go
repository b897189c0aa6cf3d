package scheduler

import (
	"errors"

	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

// codeFor maps a store error to its verification failure code.
func codeFor(err error) verify.Code {
	switch {
	case errors.Is(err, schedule.ErrDuplicateID):
		return verify.CodeDuplicateID
	case errors.Is(err, schedule.ErrNotFound):
		return verify.CodeNotFound
	case errors.Is(err, schedule.ErrTimeInPast):
		return verify.CodeTimeInPast
	case errors.Is(err, schedule.ErrScheduleFull):
		return verify.CodeScheduleFull
	}
	// request.ErrMalformed and anything unexpected.
	return verify.CodeMalformed
}

// handleInsert applies each element independently once the batch as a
// whole is well formed.
func (s *Scheduler) handleInsert(r request.Insert, notBefore obtime.Time) verify.Execution {
	if err := r.Validate(); err != nil {
		s.log.Warn("insert rejected", "err", err)
		return verify.Execution{Rejected: codeFor(err)}
	}
	exec := verify.Execution{Items: len(r.Items)}
	for i, it := range r.Items {
		id, _ := it.ID()
		a := schedule.Activity{ID: id, ReleaseTime: it.ReleaseTime, Payload: it.Payload}
		if err := s.store.Insert(a, notBefore); err != nil {
			exec.Failures = append(exec.Failures, verify.ItemFailure{Index: i, Subject: id.String(), Code: codeFor(err)})
		}
	}
	return exec
}

func (s *Scheduler) handleDelete(r request.DeleteByID) verify.Execution {
	exec := verify.Execution{Items: len(r.IDs)}
	for i, id := range r.IDs {
		if err := s.store.Delete(id); err != nil {
			exec.Failures = append(exec.Failures, verify.ItemFailure{Index: i, Subject: id.String(), Code: codeFor(err)})
		}
	}
	return exec
}

// handleShift moves each listed activity on its own; a failure leaves that
// activity where it was and does not affect the others.
func (s *Scheduler) handleShift(r request.ShiftByID, notBefore obtime.Time) verify.Execution {
	exec := verify.Execution{Items: len(r.IDs)}
	for i, id := range r.IDs {
		if err := s.store.Shift(id, r.Delta, notBefore); err != nil {
			exec.Failures = append(exec.Failures, verify.ItemFailure{Index: i, Subject: id.String(), Code: codeFor(err)})
		}
	}
	return exec
}

// handleShiftAll is all or nothing.
func (s *Scheduler) handleShiftAll(r request.ShiftAll, notBefore obtime.Time) verify.Execution {
	if err := s.store.ShiftAll(r.Delta, notBefore); err != nil {
		s.log.Warn("shift-all refused", "delta_s", r.Delta, "err", err)
		return verify.Execution{Aborted: codeFor(err)}
	}
	return verify.Execution{}
}
