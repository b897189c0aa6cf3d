package report

import (
	"fmt"

	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
)

// Kind distinguishes detail reports from summary reports.
type Kind uint8

const (
	KindDetail Kind = iota + 1
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindDetail:
		return "detail"
	case KindSummary:
		return "summary"
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "detail":
		*k = KindDetail
	case "summary":
		*k = KindSummary
	default:
		return fmt.Errorf("unknown report kind %q", b)
	}
	return nil
}

// Entry is one activity as rendered in a report. Payload is nil in
// summary reports.
type Entry struct {
	APID        uint16      `json:"apid"`
	SeqCount    uint16      `json:"seq_count"`
	ReleaseTime obtime.Time `json:"release_time"`
	Payload     []byte      `json:"payload,omitempty"`
}

// Report is a rendered detail or summary report. An empty Entries slice is
// a valid report with a zero count.
type Report struct {
	Kind    Kind    `json:"kind"`
	All     bool    `json:"all"`
	Entries []Entry `json:"entries"`
}

func (r Report) Count() int { return len(r.Entries) }

// Build renders acts, which must already be in release order.
func Build(kind Kind, all bool, acts []schedule.Activity) Report {
	r := Report{Kind: kind, All: all, Entries: make([]Entry, 0, len(acts))}
	for _, a := range acts {
		e := Entry{
			APID:        a.ID.APID,
			SeqCount:    a.ID.SeqCount,
			ReleaseTime: a.ReleaseTime,
		}
		if kind == KindDetail {
			e.Payload = append([]byte(nil), a.Payload...)
		}
		r.Entries = append(r.Entries, e)
	}
	return r
}
