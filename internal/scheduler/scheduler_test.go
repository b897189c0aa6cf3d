package scheduler_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/tcsched/internal/ccsds"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/pus"
	"github.com/gyaneshwarpardhi/tcsched/internal/release"
	"github.com/gyaneshwarpardhi/tcsched/internal/report"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
	"github.com/gyaneshwarpardhi/tcsched/internal/scheduler"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

var t0 = obtime.New(1_000_000, 0)

type capture struct {
	mu            sync.Mutex
	reports       []report.Report
	verifications [][]verify.Report
	saves         []schedule.Snapshot
}

func (c *capture) PublishReport(_ context.Context, _ string, r report.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *capture) PublishVerification(_ context.Context, rs []verify.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verifications = append(c.verifications, rs)
	return nil
}

func (c *capture) Save(_ context.Context, snap schedule.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves = append(c.saves, snap)
	return nil
}

type harness struct {
	clock *obtime.VirtualClock
	rec   *release.Recorder
	cap   *capture
	sched *scheduler.Scheduler
}

func newHarness(t *testing.T, opts ...scheduler.Option) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		clock: obtime.NewVirtualClock(t0),
		rec:   release.NewRecorder(64),
		cap:   &capture{},
	}
	opts = append([]scheduler.Option{scheduler.WithReportPublisher(h.cap), scheduler.WithJournal(h.cap)}, opts...)
	h.sched = scheduler.New(h.clock, h.rec, verify.NewEmitter(h.cap, log), log, opts...)
	return h
}

func (h *harness) run(body request.Request) *scheduler.Outcome {
	return h.runAck(verify.AckAll, body)
}

func (h *harness) runAck(ack verify.AckFlags, body request.Request) *scheduler.Outcome {
	return h.sched.Execute(context.Background(), request.NewEnvelope(ack, body))
}

func at(seconds int32) obtime.Time {
	t, _ := t0.Shift(seconds)
	return t
}

func tc(apid, seq uint16) []byte {
	return ccsds.NewTC(apid, seq, []byte{byte(apid), byte(seq)})
}

func item(apid, seq uint16, offset int32) request.InsertItem {
	return request.InsertItem{ReleaseTime: at(offset), Payload: tc(apid, seq)}
}

func insert(items ...request.InsertItem) request.Insert {
	return request.Insert{DeclaredCount: len(items), Items: items}
}

func id(apid, seq uint16) schedule.ActivityID {
	return schedule.ActivityID{APID: apid, SeqCount: seq}
}

func summaryAll(h *harness) report.Report {
	out := h.runAck(verify.AckNone, request.SummaryReport{Selection: request.Selection{All: true}})
	return *out.Report
}

func stages(rs []verify.Report) []string {
	var out []string
	for _, r := range rs {
		s := r.Stage.String()
		if !r.Success {
			s += ":" + r.Code.String()
		}
		out = append(out, s)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInsertTwoFutureEntries(t *testing.T) {
	h := newHarness(t)
	h.run(request.Enable{})

	out := h.run(insert(item(1, 1, 60), item(1, 2, 120)))
	if out.Execution.Failed() {
		t.Fatalf("unexpected failure: %+v", out.Execution)
	}
	want := []string{"acceptance", "start", "progress", "progress", "completion"}
	if got := stages(out.Verification); !equalStrings(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	if n := h.sched.ReleaseDue(context.Background()); n != 0 {
		t.Errorf("released %d, want 0", n)
	}
	if got := h.rec.Drain(); len(got) != 0 {
		t.Errorf("sink received %d messages", len(got))
	}
	if r := summaryAll(h); r.Count() != 2 {
		t.Errorf("schedule holds %d, want 2", r.Count())
	}
}

func TestInsertDuplicateInBatch(t *testing.T) {
	h := newHarness(t)
	h.run(insert(item(1, 1, 60)))

	out := h.run(insert(item(1, 1, 90), item(1, 2, 30)))
	f := out.Execution.Failures
	if len(f) != 1 || f[0].Index != 0 || f[0].Code != verify.CodeDuplicateID {
		t.Fatalf("failures = %+v", f)
	}
	want := []string{"acceptance", "start:duplicate-id", "progress", "completion"}
	if got := stages(out.Verification); !equalStrings(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	if out.Verification[1].Step != 0 || out.Verification[2].Step != 1 {
		t.Errorf("steps = %d, %d", out.Verification[1].Step, out.Verification[2].Step)
	}

	r := summaryAll(h)
	if r.Count() != 2 {
		t.Fatalf("count = %d", r.Count())
	}
	// The existing (1,1) keeps its time; (1,2) sorts first.
	if r.Entries[0].SeqCount != 2 || r.Entries[1].ReleaseTime != at(60) {
		t.Errorf("entries = %+v", r.Entries)
	}
}

func TestDeleteUnknownID(t *testing.T) {
	h := newHarness(t)
	h.run(insert(item(1, 1, 60)))
	saves := len(h.cap.saves)

	out := h.run(request.DeleteByID{IDs: []schedule.ActivityID{id(9, 9)}})
	want := []string{"acceptance", "start:not-found", "completion"}
	if got := stages(out.Verification); !equalStrings(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	if out.Verification[1].Subject != "9:9" {
		t.Errorf("subject = %q", out.Verification[1].Subject)
	}
	if r := summaryAll(h); r.Count() != 1 {
		t.Errorf("count = %d", r.Count())
	}
	if len(h.cap.saves) != saves+1 {
		t.Errorf("journal saves = %d, want %d", len(h.cap.saves), saves+1)
	}
}

func TestDetailReportOfEmptySchedule(t *testing.T) {
	h := newHarness(t)
	out := h.run(request.DetailReport{Selection: request.Selection{All: true}})
	if out.Report == nil || out.Report.Count() != 0 || out.Report.Kind != report.KindDetail {
		t.Fatalf("report = %+v", out.Report)
	}
	if len(h.cap.reports) != 1 {
		t.Fatalf("published %d reports, want 1", len(h.cap.reports))
	}
	_, data := pus.EncodeReport(h.cap.reports[0])
	if !bytes.Equal(data, []byte{0, 0}) {
		t.Errorf("encoded = % x", data)
	}
}

func TestEnableReleasesOverdueThenDisableHolds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.run(insert(item(1, 1, 10), item(1, 2, 20), item(1, 3, 30)))

	h.clock.Advance(15 * time.Second)
	if n := h.sched.ReleaseDue(ctx); n != 0 {
		t.Fatalf("released %d while disabled", n)
	}

	out := h.run(request.Enable{})
	if out.Released != 1 {
		t.Fatalf("enable released %d, want 1", out.Released)
	}
	got := h.rec.Drain()
	if len(got) != 1 || !bytes.Equal(got[0].Payload, tc(1, 1)) {
		t.Fatalf("sink received %+v", got)
	}

	h.run(request.Disable{})
	h.clock.Advance(time.Minute)
	if n := h.sched.ReleaseDue(ctx); n != 0 {
		t.Errorf("released %d after disable", n)
	}
	if got := h.rec.Drain(); len(got) != 0 {
		t.Errorf("sink received %d after disable", len(got))
	}
	if r := summaryAll(h); r.Count() != 2 {
		t.Errorf("count = %d, want 2 held entries", r.Count())
	}
}

func TestEnableReleasesOldestFirst(t *testing.T) {
	h := newHarness(t)
	h.run(insert(item(2, 1, 50), item(2, 2, 5), item(2, 3, 500), item(2, 4, 20)))
	h.clock.Advance(time.Minute)

	h.run(request.Enable{})
	got := h.rec.Drain()
	if len(got) != 3 {
		t.Fatalf("released %d, want 3", len(got))
	}
	for i, want := range []uint16{2, 4, 1} {
		if got[i].ID.SeqCount != want {
			t.Errorf("release %d = %s, want seq %d", i, got[i].ID, want)
		}
	}
	if r := summaryAll(h); r.Count() != 1 || r.Entries[0].SeqCount != 3 {
		t.Errorf("remaining = %+v", r.Entries)
	}
}

func TestReleaseFollowsClock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.run(request.Enable{})
	h.run(insert(item(3, 1, 10), item(3, 2, 10), item(3, 3, 11)))

	h.clock.Advance(9 * time.Second)
	if n := h.sched.ReleaseDue(ctx); n != 0 {
		t.Errorf("released %d early", n)
	}
	h.clock.Advance(time.Second)
	if n := h.sched.ReleaseDue(ctx); n != 2 {
		t.Errorf("released %d at t+10, want 2", n)
	}
	got := h.rec.Drain()
	if len(got) != 2 || got[0].ID != id(3, 1) || got[1].ID != id(3, 2) {
		t.Errorf("tie order = %+v", got)
	}
}

func TestInsertTimeChecks(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(time.Second)

	out := h.run(insert(item(1, 1, 0), item(1, 2, 1)))
	f := out.Execution.Failures
	if len(f) != 1 || f[0].Index != 0 || f[0].Code != verify.CodeTimeInPast {
		t.Fatalf("failures = %+v", f)
	}

	// Exactly now is not in the past.
	if r := summaryAll(h); r.Count() != 1 || r.Entries[0].ReleaseTime != h.clock.Now() {
		t.Errorf("entries = %+v", r.Entries)
	}
}

func TestMalformedInsertRejected(t *testing.T) {
	h := newHarness(t)
	bad := insert(item(1, 1, 60), item(1, 2, 60))
	bad.DeclaredCount = 3

	out := h.run(bad)
	if out.Execution.Rejected != verify.CodeMalformed {
		t.Fatalf("execution = %+v", out.Execution)
	}
	want := []string{"acceptance:malformed"}
	if got := stages(out.Verification); !equalStrings(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	if r := summaryAll(h); r.Count() != 0 {
		t.Errorf("malformed batch applied %d items", r.Count())
	}
	if len(h.cap.saves) != 0 {
		t.Errorf("journal saved a rejected request")
	}

	truncated := insert(request.InsertItem{ReleaseTime: at(60), Payload: tc(1, 3)[:5]})
	if out := h.run(truncated); out.Execution.Rejected != verify.CodeMalformed {
		t.Errorf("truncated payload: %+v", out.Execution)
	}
}

func TestShiftAllIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.run(insert(item(1, 1, 10), item(1, 2, 100)))
	before := summaryAll(h)

	out := h.run(request.ShiftAll{Delta: -50})
	if out.Execution.Aborted != verify.CodeTimeInPast {
		t.Fatalf("execution = %+v", out.Execution)
	}
	want := []string{"acceptance", "start:time-in-past"}
	if got := stages(out.Verification); !equalStrings(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	after := summaryAll(h)
	for i := range before.Entries {
		if !reflect.DeepEqual(before.Entries[i], after.Entries[i]) {
			t.Errorf("entry %d moved: %+v -> %+v", i, before.Entries[i], after.Entries[i])
		}
	}

	out = h.run(request.ShiftAll{Delta: -10})
	if out.Execution.Failed() {
		t.Fatalf("shift to exactly now failed: %+v", out.Execution)
	}
	after = summaryAll(h)
	if after.Entries[0].ReleaseTime != at(0) || after.Entries[1].ReleaseTime != at(90) {
		t.Errorf("entries = %+v", after.Entries)
	}
}

func TestShiftByIDFailsPerItem(t *testing.T) {
	h := newHarness(t)
	h.run(insert(item(1, 1, 10), item(1, 2, 100), item(1, 3, 200)))

	out := h.run(request.ShiftByID{Delta: -50, IDs: []schedule.ActivityID{id(1, 1), id(7, 7), id(1, 3)}})
	f := out.Execution.Failures
	if len(f) != 2 || f[0].Code != verify.CodeTimeInPast || f[1].Code != verify.CodeNotFound {
		t.Fatalf("failures = %+v", f)
	}
	want := []string{"acceptance", "start:time-in-past", "start:not-found", "progress", "completion"}
	if got := stages(out.Verification); !equalStrings(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}

	r := summaryAll(h)
	wantOrder := []struct {
		seq uint16
		at  obtime.Time
	}{{1, at(10)}, {2, at(100)}, {3, at(150)}}
	for i, w := range wantOrder {
		if r.Entries[i].SeqCount != w.seq || r.Entries[i].ReleaseTime != w.at {
			t.Errorf("entry %d = %+v, want seq %d at %s", i, r.Entries[i], w.seq, w.at)
		}
	}

	// Shifting past a neighbour re-sorts.
	h.run(request.ShiftByID{Delta: 300, IDs: []schedule.ActivityID{id(1, 1)}})
	if r := summaryAll(h); r.Entries[2].SeqCount != 1 {
		t.Errorf("order after shift = %+v", r.Entries)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.run(request.Enable{})
	h.run(insert(item(1, 1, 10), item(1, 2, 20)))

	for i := 0; i < 2; i++ {
		out := h.run(request.Reset{})
		want := []string{"acceptance", "start", "completion"}
		if got := stages(out.Verification); !equalStrings(got, want) {
			t.Errorf("reset %d stages = %v", i, got)
		}
	}
	out := h.run(request.DetailReport{Selection: request.Selection{All: true}})
	if out.Report.Count() != 0 {
		t.Errorf("count after reset = %d", out.Report.Count())
	}
	if st := h.sched.Status(); !st.Enabled {
		t.Error("reset changed the enabled state")
	}
}

func TestReportByIDOrdersAndOmitsUnknown(t *testing.T) {
	h := newHarness(t)
	h.run(insert(item(1, 1, 300), item(1, 2, 100), item(1, 3, 200)))

	sel := request.Selection{IDs: []schedule.ActivityID{id(1, 1), id(5, 5), id(1, 2), id(1, 1)}}
	out := h.run(request.DetailReport{Selection: sel})
	if out.Execution.Failed() {
		t.Fatalf("report failed: %+v", out.Execution)
	}
	r := out.Report
	if r.Count() != 2 || r.Entries[0].SeqCount != 2 || r.Entries[1].SeqCount != 1 {
		t.Fatalf("entries = %+v", r.Entries)
	}
	if !bytes.Equal(r.Entries[0].Payload, tc(1, 2)) {
		t.Errorf("detail payload = % x", r.Entries[0].Payload)
	}

	out = h.run(request.SummaryReport{Selection: request.Selection{IDs: []schedule.ActivityID{id(8, 8)}}})
	if out.Report.Count() != 0 || out.Report.Entries == nil {
		t.Errorf("unknown-only summary = %+v", out.Report)
	}
}

func TestCapacityAndLead(t *testing.T) {
	h := newHarness(t, scheduler.WithCapacity(2), scheduler.WithMinLead(5))

	out := h.run(insert(item(1, 1, 3), item(1, 2, 5), item(1, 3, 6), item(1, 4, 7)))
	f := out.Execution.Failures
	if len(f) != 2 || f[0].Code != verify.CodeTimeInPast || f[1].Code != verify.CodeScheduleFull {
		t.Fatalf("failures = %+v", f)
	}
	if f[1].Index != 3 {
		t.Errorf("schedule-full index = %d", f[1].Index)
	}

	h.sched.SetCapacity(0)
	h.sched.SetMinLead(0)
	if out := h.run(insert(item(1, 5, 0))); out.Execution.Failed() {
		t.Errorf("after reload: %+v", out.Execution)
	}
}

func TestAckFlagsSelectReports(t *testing.T) {
	h := newHarness(t)
	if out := h.runAck(verify.AckNone, insert(item(1, 1, 10))); len(out.Verification) != 0 {
		t.Errorf("AckNone produced %v", stages(out.Verification))
	}
	out := h.runAck(verify.AckStart|verify.AckCompletion, insert(item(1, 1, 20), item(1, 2, 20)))
	want := []string{"start:duplicate-id", "completion"}
	if got := stages(out.Verification); !equalStrings(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	// Acceptance failures are only reported when asked for.
	bad := insert(item(1, 3, 10))
	bad.Trailing = 1
	if out := h.runAck(verify.AckCompletion, bad); len(out.Verification) != 0 {
		t.Errorf("unrequested acceptance failure reported: %v", stages(out.Verification))
	}
}

func TestDeleteBeforeReleaseWins(t *testing.T) {
	h := newHarness(t)
	h.run(insert(item(1, 1, 1)))
	h.clock.Advance(5 * time.Second)
	h.run(request.DeleteByID{IDs: []schedule.ActivityID{id(1, 1)}})

	if out := h.run(request.Enable{}); out.Released != 0 {
		t.Errorf("released deleted activity")
	}
}

type brokenSink struct{ calls int }

func (b *brokenSink) Name() string { return "broken" }
func (b *brokenSink) Release(context.Context, schedule.Activity) error {
	b.calls++
	return errors.New("uplink unavailable")
}

func TestSinkFailureStillRemoves(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := obtime.NewVirtualClock(t0)
	sink := &brokenSink{}
	s := scheduler.New(clock, sink, verify.NewEmitter(nil, log), log)

	s.Execute(context.Background(), request.NewEnvelope(verify.AckNone, insert(item(1, 1, 1))))
	s.Execute(context.Background(), request.NewEnvelope(verify.AckNone, request.Enable{}))
	clock.Advance(2 * time.Second)
	if n := s.ReleaseDue(context.Background()); n != 1 {
		t.Fatalf("released %d", n)
	}
	if sink.calls != 1 || s.Status().Size != 0 {
		t.Errorf("calls = %d, size = %d", sink.calls, s.Status().Size)
	}
}

func TestRestoreKeepsOverdueUntilEnabled(t *testing.T) {
	h := newHarness(t)
	snap := schedule.Snapshot{Activities: []schedule.Activity{
		{ID: id(4, 1), ReleaseTime: at(-100), Payload: tc(4, 1)},
		{ID: id(4, 2), ReleaseTime: at(100), Payload: tc(4, 2)},
	}}
	if err := h.sched.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n := h.sched.ReleaseDue(context.Background()); n != 0 {
		t.Errorf("released %d while disabled", n)
	}
	st := h.sched.Status()
	if st.Size != 2 || st.NextRelease == nil || *st.NextRelease != at(-100) {
		t.Errorf("status = %+v", st)
	}
	if out := h.run(request.Enable{}); out.Released != 1 {
		t.Errorf("enable released %d", out.Released)
	}
}
