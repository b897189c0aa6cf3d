package request

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/tcsched/internal/ccsds"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

// ErrMalformed marks a request whose structure is inconsistent.
var ErrMalformed = errors.New("malformed request")

// Kind enumerates the scheduling sub-operations.
type Kind uint8

const (
	KindInsert Kind = iota + 1
	KindDeleteByID
	KindReset
	KindShiftByID
	KindShiftAll
	KindEnable
	KindDisable
	KindDetailReport
	KindSummaryReport
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDeleteByID:
		return "delete_by_id"
	case KindReset:
		return "reset"
	case KindShiftByID:
		return "shift_by_id"
	case KindShiftAll:
		return "shift_all"
	case KindEnable:
		return "enable"
	case KindDisable:
		return "disable"
	case KindDetailReport:
		return "detail_report"
	case KindSummaryReport:
		return "summary_report"
	}
	return "unknown"
}

// Request is one of the scheduling sub-operations below. The set is closed:
// only types in this package implement it.
type Request interface {
	Kind() Kind
	request()
}

// InsertItem is one (release time, telecommand) pair of an insert request.
type InsertItem struct {
	ReleaseTime obtime.Time
	Payload     []byte
}

// ID derives the activity id from the embedded telecommand header.
func (it InsertItem) ID() (schedule.ActivityID, error) {
	h, err := ccsds.ParseTC(it.Payload)
	if err != nil {
		return schedule.ActivityID{}, err
	}
	return schedule.ActivityID{APID: h.APID, SeqCount: h.SeqCount}, nil
}

// Insert schedules a batch of telecommands.
type Insert struct {
	// DeclaredCount is the element count announced by the sender.
	DeclaredCount int
	Items         []InsertItem
	// Trailing counts octets left over after the declared elements.
	Trailing int
}

// Validate checks the batch structure. It does not look at the schedule.
func (r Insert) Validate() error {
	if r.DeclaredCount != len(r.Items) {
		return fmt.Errorf("%w: declared %d items, found %d", ErrMalformed, r.DeclaredCount, len(r.Items))
	}
	if r.Trailing > 0 {
		return fmt.Errorf("%w: %d trailing octets", ErrMalformed, r.Trailing)
	}
	for i, it := range r.Items {
		if _, err := it.ID(); err != nil {
			return fmt.Errorf("%w: item %d: %w", ErrMalformed, i, err)
		}
	}
	return nil
}

type DeleteByID struct {
	IDs []schedule.ActivityID
}

type Reset struct{}

type ShiftByID struct {
	Delta int32
	IDs   []schedule.ActivityID
}

type ShiftAll struct {
	Delta int32
}

type Enable struct{}

type Disable struct{}

// Selection picks the activities a report covers.
type Selection struct {
	All bool
	IDs []schedule.ActivityID
}

type DetailReport struct {
	Selection
}

type SummaryReport struct {
	Selection
}

func (Insert) Kind() Kind        { return KindInsert }
func (DeleteByID) Kind() Kind    { return KindDeleteByID }
func (Reset) Kind() Kind         { return KindReset }
func (ShiftByID) Kind() Kind     { return KindShiftByID }
func (ShiftAll) Kind() Kind      { return KindShiftAll }
func (Enable) Kind() Kind        { return KindEnable }
func (Disable) Kind() Kind       { return KindDisable }
func (DetailReport) Kind() Kind  { return KindDetailReport }
func (SummaryReport) Kind() Kind { return KindSummaryReport }

func (Insert) request()        {}
func (DeleteByID) request()    {}
func (Reset) request()         {}
func (ShiftByID) request()     {}
func (ShiftAll) request()      {}
func (Enable) request()        {}
func (Disable) request()       {}
func (DetailReport) request()  {}
func (SummaryReport) request() {}

// Envelope carries a decoded request and its acknowledgment flags.
type Envelope struct {
	ID         string
	Ack        verify.AckFlags
	Body       Request
	ReceivedAt time.Time
}

// NewEnvelope wraps body with a fresh request id.
func NewEnvelope(ack verify.AckFlags, body Request) *Envelope {
	return &Envelope{
		ID:         uuid.New().String(),
		Ack:        ack,
		Body:       body,
		ReceivedAt: time.Now(),
	}
}
