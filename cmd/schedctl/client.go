package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/tcsched/internal/pus"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/scheduler"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

// client submits telecommands to a tcsched server over its HTTP API.
type client struct {
	base string
	ack  verify.AckFlags
	http *http.Client
}

func newClient(base string, ack verify.AckFlags, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		ack:  ack,
		http: &http.Client{Timeout: timeout},
	}
}

// submitResult mirrors the server's /v1/tc response.
type submitResult struct {
	scheduler.Outcome
	ReportSubtype uint8  `json:"report_subtype,omitempty"`
	ReportData    string `json:"report_data,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Submit encodes r as a TC[11,x] and posts it. A rejected request still
// returns its verification reports alongside the error.
func (c *client) Submit(ctx context.Context, r request.Request) (*submitResult, error) {
	subtype, data := pus.Encode(r)
	ack := uint8(c.ack)
	body, err := json.Marshal(map[string]any{
		"subtype":  subtype,
		"ack":      ack,
		"app_data": hex.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}

	var out submitResult
	status, err := c.do(ctx, http.MethodPost, "/v1/tc", body, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &out, fmt.Errorf("server returned %d: %s", status, msg)
	}
	return &out, nil
}

// Status fetches the scheduler state.
func (c *client) Status(ctx context.Context) (*scheduler.Status, error) {
	var st scheduler.Status
	status, err := c.do(ctx, http.MethodGet, "/v1/schedule", nil, &st)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("server returned %d", status)
	}
	return &st, nil
}

func (c *client) do(ctx context.Context, method, path string, body []byte, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if len(raw) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, errors.Join(fmt.Errorf("decode %s response", path), err)
	}
	return resp.StatusCode, nil
}
