// Package config parses the CLI flags and config file grammar shared by
// every house* binary (spec.md section 6).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/urfave/cli.v1"
)

// Flag declarations, grouped the way the teacher pack groups its flag sets
// (e.g. nodeFlags/networkingFlags in a launcher package) rather than
// scattering cli.Flag literals across callers.
var (
	ConfigFlag = cli.StringFlag{
		Name:  "config",
		Value: "/etc/house/portal.config",
		Usage: "path to the portal configuration file",
	}
	PortalServerFlag = cli.StringFlag{
		Name:  "portal-server",
		Usage: "address of the Portal this process registers with",
	}
	PortalPortFlag = cli.IntFlag{
		Name:  "portal-port",
		Value: 70,
		Usage: "Portal UDP control port (alias of -portal-udp-port)",
	}
	PortalHTTPPortFlag = cli.IntFlag{
		Name:  "portal-http-port",
		Value: 80,
		Usage: "Portal HTTP port",
	}
	PortalUDPPortFlag = cli.IntFlag{
		Name:  "portal-udp-port",
		Value: 70,
		Usage: "Portal UDP control port",
	}
	PortalMapFlag = cli.StringFlag{
		Name:  "portal-map",
		Usage: "EXT:INT port rewrite applied to this process's advertised target",
	}
	GroupFlag = cli.StringFlag{
		Name:  "group",
		Value: "home",
		Usage: "depot subscription group",
	}
	UseLocalStorageFlag = cli.BoolFlag{
		Name:  "use-local-storage",
		Usage: "mirror delivered events into a local LevelDB ledger",
	}
	UseDepotStorageFlag = cli.BoolFlag{
		Name:  "use-depot-storage",
		Usage: "fetch configuration from the Depot service instead of a local file",
	}
	UseLocalFallbackFlag = cli.BoolFlag{
		Name:  "use-local-fallback",
		Usage: "fall back to the local config file if no Depot is reachable",
	}
	NoLocalStorageFlag = cli.BoolFlag{
		Name:  "no-local-storage",
		Usage: "disable the local event ledger even if otherwise configured",
	}
	LogFlag = cli.StringFlag{
		Name:  "log",
		Usage: "path to write this process's own log file",
	}
	SleepFlag = cli.IntFlag{
		Name:  "sleep",
		Usage: "seconds to sleep before starting (used by test harnesses)",
	}
)

// Flags is every flag this package declares, in the order spec.md section 6
// lists them, for registration on a cli.App.
var Flags = []cli.Flag{
	ConfigFlag,
	PortalServerFlag,
	PortalPortFlag,
	PortalHTTPPortFlag,
	PortalUDPPortFlag,
	PortalMapFlag,
	GroupFlag,
	UseLocalStorageFlag,
	UseDepotStorageFlag,
	UseLocalFallbackFlag,
	NoLocalStorageFlag,
	LogFlag,
	SleepFlag,
}

// PortMap is the external:internal port rewrite from -portal-map.
type PortMap struct {
	Ext int
	Int int
}

// Options is every CLI-level setting a house* process reads.
type Options struct {
	ConfigPath       string
	PortalServer     string
	PortalPort       int
	PortalHTTPPort   int
	PortalUDPPort    int
	PortalMap        *PortMap
	Group            string
	UseLocalStorage  bool
	UseDepotStorage  bool
	UseLocalFallback bool
	NoLocalStorage   bool
	LogPath          string
	Sleep            int
}

// FromCLI extracts Options from a parsed cli.Context. It reads only the flags
// declared in this package. An undeclared flag is rejected by urfave/cli
// while parsing, before FromCLI runs; positional arguments stay in
// ctx.Args(), which neither FromCLI nor the cmd binaries read.
func FromCLI(ctx *cli.Context) (*Options, error) {
	opt := &Options{
		ConfigPath:       ctx.String(ConfigFlag.Name),
		PortalServer:     ctx.String(PortalServerFlag.Name),
		PortalPort:       ctx.Int(PortalPortFlag.Name),
		PortalHTTPPort:   ctx.Int(PortalHTTPPortFlag.Name),
		PortalUDPPort:    ctx.Int(PortalUDPPortFlag.Name),
		Group:            ctx.String(GroupFlag.Name),
		UseLocalStorage:  ctx.Bool(UseLocalStorageFlag.Name),
		UseDepotStorage:  ctx.Bool(UseDepotStorageFlag.Name),
		UseLocalFallback: ctx.Bool(UseLocalFallbackFlag.Name),
		NoLocalStorage:   ctx.Bool(NoLocalStorageFlag.Name),
		LogPath:          ctx.String(LogFlag.Name),
		Sleep:            ctx.Int(SleepFlag.Name),
	}
	if raw := ctx.String(PortalMapFlag.Name); raw != "" {
		pm, err := parsePortalMap(raw)
		if err != nil {
			return nil, err
		}
		opt.PortalMap = pm
	}
	// -portal-port is an alias of -portal-udp-port: it takes effect when
	// only it was moved off the default.
	if opt.PortalPort != PortalPortFlag.Value && opt.PortalUDPPort == PortalUDPPortFlag.Value {
		opt.PortalUDPPort = opt.PortalPort
	}
	if opt.Group == "" {
		opt.Group = "home"
	}
	return opt, nil
}

func parsePortalMap(raw string) (*PortMap, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("config: -portal-map must be EXT:INT, got %q", raw)
	}
	ext, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, fmt.Errorf("config: -portal-map external port: %w", err)
	}
	in, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("config: -portal-map internal port: %w", err)
	}
	return &PortMap{Ext: ext, Int: in}, nil
}
