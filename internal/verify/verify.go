package verify

import (
	"fmt"
	"slices"
	"time"
)

// AckFlags selects which verification stages the requester wants reported.
type AckFlags uint8

const (
	AckAcceptance AckFlags = 1 << iota
	AckStart
	AckProgress
	AckCompletion

	AckNone AckFlags = 0
	AckAll           = AckAcceptance | AckStart | AckProgress | AckCompletion
)

func (f AckFlags) Has(stage Stage) bool {
	return f&stage.flag() != 0
}

// Stage is a request verification stage.
type Stage uint8

const (
	StageAcceptance Stage = iota + 1
	StageStart
	StageProgress
	StageCompletion
)

func (s Stage) flag() AckFlags {
	switch s {
	case StageAcceptance:
		return AckAcceptance
	case StageStart:
		return AckStart
	case StageProgress:
		return AckProgress
	case StageCompletion:
		return AckCompletion
	}
	return AckNone
}

func (s Stage) String() string {
	switch s {
	case StageAcceptance:
		return "acceptance"
	case StageStart:
		return "start"
	case StageProgress:
		return "progress"
	case StageCompletion:
		return "completion"
	}
	return "unknown"
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	for c := StageAcceptance; c <= StageCompletion; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown verification stage %q", b)
}

// Code is a verification failure reason.
type Code uint16

const (
	CodeNone Code = iota
	CodeMalformed
	CodeIllegalSubtype
	CodeDuplicateID
	CodeNotFound
	CodeTimeInPast
	CodeScheduleFull
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeMalformed:
		return "malformed"
	case CodeIllegalSubtype:
		return "illegal-subtype"
	case CodeDuplicateID:
		return "duplicate-id"
	case CodeNotFound:
		return "not-found"
	case CodeTimeInPast:
		return "time-in-past"
	case CodeScheduleFull:
		return "schedule-full"
	}
	return "unknown"
}

func (c Code) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Code) UnmarshalText(b []byte) error {
	for v := CodeNone; v <= CodeScheduleFull; v++ {
		if v.String() == string(b) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("unknown failure code %q", b)
}

// ItemFailure is the failure of one element of a batch request.
type ItemFailure struct {
	Index   int
	Subject string
	Code    Code
}

// Execution summarises how a request went, stage by stage.
type Execution struct {
	// Rejected is set when the request failed acceptance; nothing was applied.
	Rejected Code
	// Aborted is set when the request as a whole failed to start; nothing was applied.
	Aborted Code
	// Items is the number of batch elements attempted.
	Items int
	// Failures lists the batch elements that were not applied.
	Failures []ItemFailure
}

// Failed reports whether any part of the request was not applied.
func (e Execution) Failed() bool {
	return e.Rejected != CodeNone || e.Aborted != CodeNone || len(e.Failures) > 0
}

// Report is a single verification report.
type Report struct {
	RequestID string    `json:"request_id"`
	Stage     Stage     `json:"stage"`
	Success   bool      `json:"success"`
	Code      Code      `json:"code,omitempty"`
	Step      int       `json:"step,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	At        time.Time `json:"at"`
}

// Build derives the verification reports for an execution, keeping only
// the stages selected by flags.
func Build(requestID string, flags AckFlags, e Execution, at time.Time) []Report {
	var out []Report
	emit := func(r Report) {
		if flags.Has(r.Stage) {
			r.RequestID = requestID
			r.At = at
			out = append(out, r)
		}
	}

	if e.Rejected != CodeNone {
		emit(Report{Stage: StageAcceptance, Code: e.Rejected})
		return out
	}
	emit(Report{Stage: StageAcceptance, Success: true})

	if e.Aborted != CodeNone {
		emit(Report{Stage: StageStart, Code: e.Aborted})
		return out
	}
	if len(e.Failures) == 0 {
		emit(Report{Stage: StageStart, Success: true})
	}
	for _, f := range e.Failures {
		emit(Report{Stage: StageStart, Code: f.Code, Step: f.Index, Subject: f.Subject})
	}

	for i := 0; i < e.Items; i++ {
		if slices.ContainsFunc(e.Failures, func(f ItemFailure) bool { return f.Index == i }) {
			continue
		}
		emit(Report{Stage: StageProgress, Success: true, Step: i})
	}

	emit(Report{Stage: StageCompletion, Success: true})
	return out
}
