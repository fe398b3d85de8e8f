// Command houseclient is a minimal demonstration service: it registers one
// HTTP path with a Portal and renews that registration until killed,
// exercising the register package end-to-end (spec.md section 4.E).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"houseportal/config"
	"houseportal/control"
	"houseportal/houselog"
	"houseportal/register"
	"houseportal/transport"
)

var log = houselog.For("houseclient")

var ServiceNameFlag = cli.StringFlag{
	Name:  "service-name",
	Value: "demo",
	Usage: "service name this client advertises to the Portal",
}

var ServicePathFlag = cli.StringFlag{
	Name:  "service-path",
	Value: "/demo",
	Usage: "path prefix this client advertises to the Portal",
}

var ListenPortFlag = cli.IntFlag{
	Name:  "listen-port",
	Value: 9100,
	Usage: "port this client's own demonstration HTTP handler listens on",
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "houseclient"
	cliApp.Usage = "demonstration service registrant for a houseportal federation"
	cliApp.Flags = append(append([]cli.Flag{}, config.Flags...), ServiceNameFlag, ServicePathFlag, ListenPortFlag)
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
	portal := opt.PortalServer
	if portal == "" {
		portal = "127.0.0.1"
	}
	udpPort := opt.PortalUDPPort
	if udpPort == 0 {
		udpPort = 70
	}
	portalAddr := fmt.Sprintf("%s:%d", portal, udpPort)

	listenPort := ctx.Int(ListenPortFlag.Name)
	tr := transport.Open(0, true, false)
	defer tr.Close()

	client := register.New(tr, portalAddr, "", listenPort, control.KeySet{})
	client.Register(register.Path{Service: ctx.String(ServiceNameFlag.Name), Path: ctx.String(ServicePathFlag.Name)})
	client.Start()
	defer client.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc(ctx.String(ServicePathFlag.Name)+"/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "hello from %s\n", ctx.String(ServiceNameFlag.Name))
	})

	addr := fmt.Sprintf(":%d", listenPort)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Infof("houseclient %q listening on %s, registered with %s", ctx.String(ServiceNameFlag.Name), addr, portalAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return srv.Close()
}
