package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/tcsched/internal/ccsds"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
)

var (
	ErrDuplicateID  = errors.New("activity id already scheduled")
	ErrNotFound     = errors.New("activity not found")
	ErrTimeInPast   = errors.New("release time is in the past")
	ErrScheduleFull = errors.New("schedule is full")
)

// ActivityID identifies an activity by the application process id and
// sequence count of the telecommand it releases.
type ActivityID struct {
	APID     uint16
	SeqCount uint16
}

func (id ActivityID) String() string {
	return fmt.Sprintf("%d:%d", id.APID, id.SeqCount)
}

// ParseActivityID parses the "apid:seq" form produced by String. Both parts
// must fit the packet header fields they come from.
func ParseActivityID(s string) (ActivityID, error) {
	apid, seq, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ActivityID{}, fmt.Errorf("activity id %q: expected apid:seq", s)
	}
	a, err := strconv.ParseUint(apid, 10, 16)
	if err != nil {
		return ActivityID{}, fmt.Errorf("activity id %q: apid: %w", s, err)
	}
	if a > ccsds.MaxAPID {
		return ActivityID{}, fmt.Errorf("activity id %q: apid above %d", s, ccsds.MaxAPID)
	}
	q, err := strconv.ParseUint(seq, 10, 16)
	if err != nil {
		return ActivityID{}, fmt.Errorf("activity id %q: seq: %w", s, err)
	}
	if q > ccsds.MaxSeqCount {
		return ActivityID{}, fmt.Errorf("activity id %q: seq above %d", s, ccsds.MaxSeqCount)
	}
	return ActivityID{APID: uint16(a), SeqCount: uint16(q)}, nil
}

// Activity is a telecommand waiting for its release time.
type Activity struct {
	ID          ActivityID
	ReleaseTime obtime.Time
	// Payload is the complete telecommand packet, released verbatim.
	Payload []byte
}

// Snapshot is a point-in-time copy of the schedule, in release order.
type Snapshot struct {
	Enabled    bool
	Activities []Activity
}
