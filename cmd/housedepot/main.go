// Command housedepot is the reference Depot: a small file-publishing
// service implementing the wire contract depot.Client polls (spec.md
// section 6), used both standalone and in the S5 convergence scenario.
package main

import (
	"fmt"
	"net/http"
	"os"

	"gopkg.in/urfave/cli.v1"
)

var PortFlag = cli.IntFlag{
	Name:  "port",
	Value: 8500,
	Usage: "port housedepot listens on",
}

var HostFlag = cli.StringFlag{
	Name:  "host",
	Value: "",
	Usage: "host identity this depot reports from /check (defaults to os.Hostname)",
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "housedepot"
	cliApp.Usage = "reference file depot for a houseportal federation"
	cliApp.Flags = []cli.Flag{PortFlag, HostFlag}
	cliApp.Action = run

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx *cli.Context) error {
	self := ctx.String(HostFlag.Name)
	if self == "" {
		h, err := os.Hostname()
		if err != nil {
			h = "localhost"
		}
		self = h
	}

	st := newStore()
	addr := fmt.Sprintf(":%d", ctx.Int(PortFlag.Name))
	log.Infof("housedepot %q listening on %s", self, addr)
	return http.ListenAndServe(addr, newServer(self, st))
}
