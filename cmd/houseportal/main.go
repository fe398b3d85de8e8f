// Command houseportal runs the Portal: registration + redirection + peer
// gossip (spec.md sections 1-6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"gopkg.in/urfave/cli.v1"

	"houseportal/app"
	"houseportal/config"
	"houseportal/houselog"
	"houseportal/transport"
)

var log = houselog.For("houseportal")

// engineTick is the frequency at which the single worker is nudged to run
// its periodic maintenance (reap, gossip): spec section 5's "≈1 Hz".
const engineTick = time.Second

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "houseportal"
	cliApp.Usage = "registration, redirection and peer gossip for a house* federation"
	cliApp.Flags = config.Flags
	cliApp.Action = run

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx *cli.Context) error {
	opt, err := config.FromCLI(ctx)
	if err != nil {
		return err
	}
	if opt.LogPath != "" {
		f, err := os.OpenFile(opt.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("houseportal: open log file: %w", err)
		}
		houselog.SetOutput(f)
	}

	watcher, err := config.NewWatcher(opt.ConfigPath)
	if err != nil {
		return fmt.Errorf("houseportal: startup config load: %w", err)
	}

	self, err := os.Hostname()
	if err != nil {
		self = "localhost"
	}

	tr := transport.Open(opt.PortalUDPPort, watcher.Current().Local, false)
	defer tr.Close()

	portal := app.NewPortalEngine(self, tr, watcher.Current().Keys, nil)
	portal.LoadConfig(watcher.Current())

	engine := app.NewEngine(portal.Handler())
	defer engine.Stop()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tr.Serve(func(pkt transport.Packet) { engine.Send(pkt) })
	go engine.RunTicker(runCtx, engineTick)
	go watcher.Run(runCtx, func(f *config.File) { engine.Send(f) })

	server := newServer(self, func() int64 { return time.Now().Unix() }, portal.Redirect, portal.Peer)
	addr := fmt.Sprintf(":%d", opt.PortalHTTPPort)
	log.Infof("houseportal listening on %s (udp %d)", addr, opt.PortalUDPPort)
	return http.ListenAndServe(addr, server)
}
