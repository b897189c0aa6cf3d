package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/gyaneshwarpardhi/tcsched/internal/ccsds"
	"github.com/gyaneshwarpardhi/tcsched/internal/obtime"
	"github.com/gyaneshwarpardhi/tcsched/internal/report"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
	"github.com/gyaneshwarpardhi/tcsched/internal/verify"
)

var (
	serverURL string
	ackFlags  int
	timeout   time.Duration
	summary   bool

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "server, s",
			Usage:       "base URL of the tcsched server",
			EnvVar:      "TCSCHED_URL",
			Value:       "http://localhost:8080",
			Destination: &serverURL,
		},
		cli.IntFlag{
			Name:        "ack, a",
			Usage:       "verification stages to report, as a bitmask (1 acceptance, 2 start, 4 progress, 8 completion)",
			Value:       int(verify.AckAll),
			Destination: &ackFlags,
		},
		cli.DurationFlag{
			Name:        "timeout, t",
			Usage:       "HTTP request timeout",
			Value:       10 * time.Second,
			Destination: &timeout,
		},
	}

	reportFlags = []cli.Flag{
		cli.BoolFlag{
			Name:        "summary",
			Usage:       "omit telecommand payloads (summary report)",
			Destination: &summary,
		},
	}
)

var stdout io.Writer = os.Stdout

func newCLIClient() *client {
	return newClient(serverURL, verify.AckFlags(ackFlags)&verify.AckAll, timeout)
}

func enable(ctx *cli.Context) error  { return submit(request.Enable{}) }
func disable(ctx *cli.Context) error { return submit(request.Disable{}) }
func reset(ctx *cli.Context) error   { return submit(request.Reset{}) }

func insert(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) == 0 {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	c := newCLIClient()
	now := func() (obtime.Time, error) {
		st, err := c.Status(context.Background())
		if err != nil {
			return obtime.Time{}, fmt.Errorf("fetch onboard time: %w", err)
		}
		return st.Now, nil
	}
	items, err := parseInsertItems(args, now)
	if err != nil {
		return err
	}
	return submitWith(c, request.Insert{DeclaredCount: len(items), Items: items})
}

func deleteByID(ctx *cli.Context) error {
	ids, err := parseIDs(ctx.Args())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	return submit(request.DeleteByID{IDs: ids})
}

func shiftByID(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 2 {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	delta, err := parseDelta(args[0])
	if err != nil {
		return err
	}
	ids, err := parseIDs(args[1:])
	if err != nil {
		return err
	}
	return submit(request.ShiftByID{Delta: delta, IDs: ids})
}

func shiftAll(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}
	delta, err := parseDelta(ctx.Args().First())
	if err != nil {
		return err
	}
	return submit(request.ShiftAll{Delta: delta})
}

func reportCmd(ctx *cli.Context) error {
	ids, err := parseIDs(ctx.Args())
	if err != nil {
		return err
	}
	sel := request.Selection{All: len(ids) == 0, IDs: ids}
	if summary {
		return submit(request.SummaryReport{Selection: sel})
	}
	return submit(request.DetailReport{Selection: sel})
}

func status(ctx *cli.Context) error {
	st, err := newCLIClient().Status(context.Background())
	if err != nil {
		return err
	}
	state := "disabled"
	if st.Enabled {
		state = "enabled"
	}
	fmt.Fprintf(stdout, "schedule:  %s\n", state)
	fmt.Fprintf(stdout, "activities: %d", st.Size)
	if st.Capacity > 0 {
		fmt.Fprintf(stdout, " of %d", st.Capacity)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "onboard:   %s\n", st.Now)
	if st.NextRelease != nil {
		fmt.Fprintf(stdout, "next:      %s (in %s)\n", st.NextRelease, st.NextRelease.Sub(st.Now))
	}
	printReport(stdout, st.Summary)
	return nil
}

func submit(r request.Request) error {
	return submitWith(newCLIClient(), r)
}

func submitWith(c *client, r request.Request) error {
	res, err := c.Submit(context.Background(), r)
	if res != nil {
		printResult(stdout, res)
	}
	return err
}

func printResult(w io.Writer, res *submitResult) {
	fmt.Fprintf(w, "request %s", res.RequestID)
	if res.Kind != "" {
		fmt.Fprintf(w, " (%s)", res.Kind)
	}
	fmt.Fprintln(w)
	for _, v := range res.Verification {
		line := "  " + v.Stage.String()
		if v.Step > 0 {
			line += fmt.Sprintf(" #%d", v.Step)
		}
		if v.Subject != "" {
			line += " " + v.Subject
		}
		if v.Success {
			line += ": ok"
		} else {
			line += ": failed (" + v.Code.String() + ")"
		}
		fmt.Fprintln(w, line)
	}
	if res.Released > 0 {
		fmt.Fprintf(w, "released %d due activities\n", res.Released)
	}
	if res.Report != nil {
		fmt.Fprintf(w, "TM[11,%d] %s\n", res.ReportSubtype, res.ReportData)
		printReport(w, *res.Report)
	}
}

func printReport(w io.Writer, r report.Report) {
	if r.Count() == 0 {
		fmt.Fprintln(w, "no activities")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if r.Kind == report.KindDetail {
		fmt.Fprintln(tw, "ID\tRELEASE\tTC")
	} else {
		fmt.Fprintln(tw, "ID\tRELEASE")
	}
	for _, e := range r.Entries {
		id := schedule.ActivityID{APID: e.APID, SeqCount: e.SeqCount}
		if r.Kind == report.KindDetail {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", id, e.ReleaseTime, hex.EncodeToString(e.Payload))
		} else {
			fmt.Fprintf(tw, "%s\t%s\n", id, e.ReleaseTime)
		}
	}
	tw.Flush()
}

func parseIDs(args []string) ([]schedule.ActivityID, error) {
	ids := make([]schedule.ActivityID, 0, len(args))
	for _, a := range args {
		id, err := schedule.ParseActivityID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDelta(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("shift %q: expected whole seconds", s)
	}
	return int32(v), nil
}

// parseInsertItems parses "<release-time>,<apid:seq>[,<hex-app-data>]"
// arguments. now is only called when a relative time is used.
func parseInsertItems(args []string, now func() (obtime.Time, error)) ([]request.InsertItem, error) {
	var (
		base    obtime.Time
		haveNow bool
	)
	items := make([]request.InsertItem, 0, len(args))
	for _, a := range args {
		parts := strings.Split(a, ",")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("insert %q: expected <release-time>,<apid:seq>[,<hex>]", a)
		}
		if strings.HasPrefix(parts[0], "+") && !haveNow {
			t, err := now()
			if err != nil {
				return nil, err
			}
			base, haveNow = t, true
		}
		at, err := parseReleaseTime(parts[0], base)
		if err != nil {
			return nil, err
		}
		id, err := schedule.ParseActivityID(parts[1])
		if err != nil {
			return nil, err
		}
		var data []byte
		if len(parts) == 3 {
			if data, err = hex.DecodeString(parts[2]); err != nil {
				return nil, fmt.Errorf("insert %q: app data: %w", a, err)
			}
		}
		items = append(items, request.InsertItem{
			ReleaseTime: at,
			Payload:     ccsds.NewTC(id.APID, id.SeqCount, data),
		})
	}
	return items, nil
}

// parseReleaseTime accepts absolute onboard seconds with an optional
// fraction, or "+<duration>" relative to now.
func parseReleaseTime(s string, now obtime.Time) (obtime.Time, error) {
	if rel, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rel)
		if err != nil {
			return obtime.Time{}, fmt.Errorf("release time %q: %w", s, err)
		}
		t, ok := now.Add(d)
		if !ok {
			return obtime.Time{}, fmt.Errorf("release time %q: out of range", s)
		}
		return t, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v >= math.MaxUint32+1 {
		return obtime.Time{}, fmt.Errorf("release time %q: expected onboard seconds or +duration", s)
	}
	coarse := math.Floor(v)
	fine := math.Round((v - coarse) * obtime.FineScale)
	if fine >= obtime.FineScale {
		fine = obtime.FineScale - 1
	}
	return obtime.New(uint32(coarse), uint16(fine)), nil
}
