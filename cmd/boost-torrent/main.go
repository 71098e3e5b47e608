// Command boost-torrent downloads a single torrent to disk and exits once
// the download completes or it is interrupted.
//
// Flag parsing and exit-code discipline follow uber-kraken's
// agent/cmd.ParseFlags: one flag.StringVar/BoolVar per knob, a required
// flag validated before anything else runs, and a small integer exit code
// distinguishing the startup failure that produced it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghosthamlet/boost-torrent/config"
	"github.com/ghosthamlet/boost-torrent/coordinator"
	"github.com/ghosthamlet/boost-torrent/core"
	"github.com/ghosthamlet/boost-torrent/log"
)

const (
	exitOK             = 0
	exitMetaParseError = 1
	exitTrackerError   = 2
)

type flags struct {
	metaPath   string
	outPath    string
	configPath string
	verbose    bool
}

func parseFlags() *flags {
	var f flags
	flag.StringVar(&f.metaPath, "meta", "", "path to the .torrent metafile (required)")
	flag.StringVar(&f.outPath, "out", "", "path to write the downloaded data to (defaults to the metafile's name)")
	flag.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&f.verbose, "verbose", false, "enable debug-level logging")
	flag.Parse()
	return &f
}

func main() {
	os.Exit(run())
}

func run() int {
	f := parseFlags()
	if f.metaPath == "" {
		fmt.Fprintln(os.Stderr, "boost-torrent: --meta is required")
		return exitMetaParseError
	}

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boost-torrent: load config: %v\n", err)
		return exitMetaParseError
	}

	logger, err := log.New(cfg.PeerIDPrefix, f.metaPath, f.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boost-torrent: init logging: %v\n", err)
		return exitMetaParseError
	}
	defer logger.Sync()

	outPath := f.outPath
	if outPath == "" {
		outPath = f.metaPath + ".out"
	}

	c, err := coordinator.New(f.metaPath, outPath, cfg, logger)
	if err != nil {
		logger.Errorw("failed to initialize download", "error", err)
		if kind, ok := core.KindOf(err); ok && isTrackerKind(kind) {
			return exitTrackerError
		}
		return exitMetaParseError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, wrapping up")
		cancel()
	}()

	if err := c.Run(ctx); err != nil {
		logger.Errorw("download failed", "error", err)
		if kind, ok := core.KindOf(err); ok && isTrackerKind(kind) {
			return exitTrackerError
		}
		return exitMetaParseError
	}

	logger.Info("download complete")
	return exitOK
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Parse(path)
}

func isTrackerKind(k core.Kind) bool {
	switch k {
	case core.TrackerURLParse, core.TrackerHostResolve,
		core.TrackerUDPSend, core.TrackerUDPRecv, core.TrackerUDPProtocol,
		core.TrackerHTTPConnect, core.TrackerHTTPSend, core.TrackerHTTPRecv,
		core.TrackerHTTPProtocol:
		return true
	default:
		return false
	}
}
