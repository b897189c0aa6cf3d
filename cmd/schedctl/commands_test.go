package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/tcsched/internal/ccsds"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/pus"
	"github.com/gyaneshwarpardhi/tcsched/internal/report"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

func TestParseReleaseTime(t *testing.T) {
	now := obtime.New(1000, 0)

	got, err := parseReleaseTime("1700000.5", now)
	require.NoError(t, err)
	assert.Equal(t, obtime.New(1_700_000, obtime.FineScale/2), got)

	got, err = parseReleaseTime("42", now)
	require.NoError(t, err)
	assert.Equal(t, obtime.New(42, 0), got)

	got, err = parseReleaseTime("+90s", now)
	require.NoError(t, err)
	assert.Equal(t, obtime.New(1090, 0), got)

	for _, bad := range []string{"", "soon", "-1", "+later", "4294967296"} {
		_, err := parseReleaseTime(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestParseInsertItems(t *testing.T) {
	calls := 0
	now := func() (obtime.Time, error) {
		calls++
		return obtime.New(500, 0), nil
	}

	items, err := parseInsertItems([]string{"+10s,5:1,0102", "+20s,5:2", "900,6:7"}, now)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 1, calls)

	assert.Equal(t, obtime.New(510, 0), items[0].ReleaseTime)
	assert.Equal(t, ccsds.NewTC(5, 1, []byte{1, 2}), items[0].Payload)
	id, err := items[1].ID()
	require.NoError(t, err)
	assert.Equal(t, schedule.ActivityID{APID: 5, SeqCount: 2}, id)
	assert.Equal(t, obtime.New(900, 0), items[2].ReleaseTime)

	_, err = parseInsertItems([]string{"900,5:1"}, func() (obtime.Time, error) {
		t.Fatal("absolute times must not query the server")
		return obtime.Time{}, nil
	})
	require.NoError(t, err)

	for _, bad := range []string{"900", "900,5", "900,5:1,zz", "900,5:1,00,extra", "10,4000:1"} {
		_, err := parseInsertItems([]string{bad}, now)
		assert.Error(t, err, bad)
	}

	_, err = parseInsertItems([]string{"+1s,5:1"}, func() (obtime.Time, error) {
		return obtime.Time{}, errors.New("unreachable")
	})
	assert.ErrorContains(t, err, "unreachable")
}

func TestParseIDsAndDelta(t *testing.T) {
	ids, err := parseIDs([]string{"1:2", "3:4"})
	require.NoError(t, err)
	assert.Equal(t, []schedule.ActivityID{{APID: 1, SeqCount: 2}, {APID: 3, SeqCount: 4}}, ids)

	_, err = parseIDs([]string{"12"})
	assert.Error(t, err)
	_, err = parseIDs([]string{"4000:1"})
	assert.Error(t, err, "apid wider than the packet header field")

	d, err := parseDelta("-30")
	require.NoError(t, err)
	assert.Equal(t, int32(-30), d)
	_, err = parseDelta("1.5")
	assert.Error(t, err)
}

func TestClientSubmit(t *testing.T) {
	var gotSubtype uint8
	var gotAck uint8
	var gotData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tc", r.URL.Path)
		var in struct {
			Subtype uint8  `json:"subtype"`
			Ack     uint8  `json:"ack"`
			AppData string `json:"app_data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		gotSubtype, gotAck = in.Subtype, in.Ack
		gotData, _ = hex.DecodeString(in.AppData)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"request_id": "r1",
			"kind": "delete_by_id",
			"verification": [
				{"request_id": "r1", "stage": "acceptance", "success": true},
				{"request_id": "r1", "stage": "progress", "success": false, "code": "not-found", "step": 1, "subject": "5:9"}
			]
		}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL+"/", verify.AckAcceptance|verify.AckProgress, time.Second)
	res, err := c.Submit(context.Background(), request.DeleteByID{IDs: []schedule.ActivityID{{APID: 5, SeqCount: 9}}})
	require.NoError(t, err)

	assert.Equal(t, pus.SubtypeDeleteByID, gotSubtype)
	assert.Equal(t, uint8(verify.AckAcceptance|verify.AckProgress), gotAck)
	body, err := pus.Decode(gotSubtype, gotData)
	require.NoError(t, err)
	assert.Equal(t, request.DeleteByID{IDs: []schedule.ActivityID{{APID: 5, SeqCount: 9}}}, body)

	require.Len(t, res.Verification, 2)
	assert.Equal(t, verify.StageProgress, res.Verification[1].Stage)
	assert.Equal(t, verify.CodeNotFound, res.Verification[1].Code)

	var out bytes.Buffer
	printResult(&out, res)
	assert.Contains(t, out.String(), "progress #1 5:9: failed (not-found)")
}

func TestClientSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"request queue is full"}`))
	}))
	defer srv.Close()

	res, err := newClient(srv.URL, verify.AckAll, time.Second).Submit(context.Background(), request.Enable{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "request queue is full")
	require.NotNil(t, res)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report.Report{Kind: report.KindSummary})
	assert.Equal(t, "no activities\n", out.String())

	out.Reset()
	printReport(&out, report.Report{Kind: report.KindDetail, Entries: []report.Entry{
		{APID: 5, SeqCount: 1, ReleaseTime: obtime.New(10, 0), Payload: []byte{0xab}},
	}})
	assert.Contains(t, out.String(), "5:1")
	assert.Contains(t, out.String(), "10.000000")
	assert.Contains(t, out.String(), "ab")
}
