package obtime

import (
	"fmt"
	"time"
)

// FineScale is the number of fine ticks in one coarse second.
const FineScale = 1 << 16

// maxUnits is the exclusive upper bound of the representable range
// (32-bit coarse seconds followed by a 16-bit fraction).
const maxUnits = uint64(1) << 48

// Time is an absolute onboard time: whole seconds since the mission epoch
// plus a binary fraction of a second (1/65536 s per tick).
// All comparisons are exact integer comparisons.
type Time struct {
	Coarse uint32 `json:"coarse"`
	Fine   uint16 `json:"fine"`
}

// New returns the onboard time with the given coarse and fine parts.
func New(coarse uint32, fine uint16) Time {
	return Time{Coarse: coarse, Fine: fine}
}

func fromUnits(u uint64) Time {
	return Time{Coarse: uint32(u >> 16), Fine: uint16(u & 0xFFFF)}
}

// units returns the time as a single count of fine ticks.
func (t Time) units() uint64 {
	return uint64(t.Coarse)<<16 | uint64(t.Fine)
}

// Compare returns -1, 0 or +1 depending on whether t is before, equal to or after u.
func (t Time) Compare(u Time) int {
	a, b := t.units(), u.units()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (t Time) Before(u Time) bool { return t.units() < u.units() }
func (t Time) After(u Time) bool  { return t.units() > u.units() }
func (t Time) Equal(u Time) bool  { return t == u }
func (t Time) IsZero() bool       { return t == Time{} }

// Shift moves t by a signed number of whole seconds.
// ok is false when the result would leave the representable range.
func (t Time) Shift(seconds int32) (Time, bool) {
	u := int64(t.units()) + int64(seconds)*FineScale
	if u < 0 || uint64(u) >= maxUnits {
		return Time{}, false
	}
	return fromUnits(uint64(u)), true
}

// Add moves t forward or backward by d, truncated to fine resolution.
func (t Time) Add(d time.Duration) (Time, bool) {
	ticks := durationToTicks(d)
	u := int64(t.units()) + ticks
	if u < 0 || uint64(u) >= maxUnits {
		return Time{}, false
	}
	return fromUnits(uint64(u)), true
}

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration {
	ticks := int64(t.units()) - int64(u.units())
	return ticksToDuration(ticks)
}

// String renders the time as seconds with a microsecond fraction.
func (t Time) String() string {
	micros := uint64(t.Fine) * 1_000_000 / FineScale
	return fmt.Sprintf("%d.%06d", t.Coarse, micros)
}

// FromTime converts a wall-clock instant to onboard time relative to epoch.
// Instants before the epoch clamp to the zero time.
func FromTime(wall, epoch time.Time) Time {
	d := wall.Sub(epoch)
	if d <= 0 {
		return Time{}
	}
	ticks := durationToTicks(d)
	if uint64(ticks) >= maxUnits {
		return fromUnits(maxUnits - 1)
	}
	return fromUnits(uint64(ticks))
}

// ToTime converts t back to a wall-clock instant relative to epoch.
func (t Time) ToTime(epoch time.Time) time.Time {
	return epoch.Add(time.Duration(t.Coarse)*time.Second + ticksToDuration(int64(t.Fine)))
}

func durationToTicks(d time.Duration) int64 {
	sec := int64(d / time.Second)
	frac := int64(d % time.Second)
	return sec*FineScale + frac*FineScale/int64(time.Second)
}

func ticksToDuration(ticks int64) time.Duration {
	sec := ticks / FineScale
	frac := ticks % FineScale
	return time.Duration(sec)*time.Second + time.Duration(frac*int64(time.Second)/FineScale)
}
