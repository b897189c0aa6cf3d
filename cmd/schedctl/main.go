package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const description = `schedctl talks to a running tcsched server. Every command except
status is encoded as a TC[11,x] and submitted to /v1/tc; the verification
reports and any TM[11,x] report come back on stdout.

Activity ids are written apid:seq. Release times are absolute onboard
seconds (e.g. 1700000.5) or an offset from the server's onboard time
(e.g. +90s).`

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "schedctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "schedctl"
	app.HelpName = "schedctl"
	app.Usage = "operate the time-based telecommand schedule"
	app.UsageText = "schedctl [global options] <command> [arguments...]"
	app.Description = description
	app.Version = "v1"
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		{
			Name:   "enable",
			Usage:  "enable release of due activities (TC[11,1])",
			Action: enable,
		},
		{
			Name:   "disable",
			Usage:  "disable release (TC[11,2])",
			Action: disable,
		},
		{
			Name:   "reset",
			Usage:  "delete every activity (TC[11,3])",
			Action: reset,
		},
		{
			Name:      "insert",
			Aliases:   []string{"i"},
			Usage:     "schedule telecommands (TC[11,4])",
			UsageText: "schedctl insert <release-time> <apid:seq> [hex-app-data] ...",
			Action:    insert,
		},
		{
			Name:      "delete",
			Aliases:   []string{"rm"},
			Usage:     "delete activities by id (TC[11,5])",
			UsageText: "schedctl delete <apid:seq> ...",
			Action:    deleteByID,
		},
		{
			Name:      "shift",
			Usage:     "time-shift activities by id (TC[11,7])",
			UsageText: "schedctl shift <seconds> <apid:seq> ...",
			Action:    shiftByID,
		},
		{
			Name:      "shift-all",
			Usage:     "time-shift every activity (TC[11,15])",
			UsageText: "schedctl shift-all <seconds>",
			Action:    shiftAll,
		},
		{
			Name:      "report",
			Aliases:   []string{"r"},
			Usage:     "detail or summary report of activities (TC[11,9/12/16/17])",
			UsageText: "schedctl report [--summary] [apid:seq ...]",
			Action:    reportCmd,
			Flags:     reportFlags,
		},
		{
			Name:    "status",
			Aliases: []string{"s"},
			Usage:   "show the scheduler state",
			Action:  status,
		},
	}
	return app
}
