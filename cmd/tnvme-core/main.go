// Command tnvme-core drives an NVMe controller through the dnvme test
// driver. It takes the single-tester lock before touching the device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"

	"github.com/ehrlich-b/go-tnvme"
	"github.com/ehrlich-b/go-tnvme/internal/config"
	"github.com/ehrlich-b/go-tnvme/internal/logging"
)

// globals are the flags shared by every subcommand
type globals struct {
	configPath  string
	device      string
	lockFile    string
	metricsFile string
	verbose     bool
}

func main() {
	var g globals
	flag.StringVar(&g.configPath, "config", "", "YAML configuration file")
	flag.StringVar(&g.device, "device", "", "test driver node (overrides the config file)")
	flag.StringVar(&g.lockFile, "lock-file", "", "single-tester lock file (overrides the config file)")
	flag.StringVar(&g.metricsFile, "metrics-file", "", "write Prometheus text metrics here on exit")
	flag.BoolVar(&g.verbose, "v", false, "verbose output")

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(scenariosCmd), "")
	subcommands.Register(new(regsCmd), "")
	subcommands.Register(new(metricsCmd), "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx, &g)))
}

// load resolves the configuration: defaults, then the file, then flags
func (g *globals) load() (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, err
		}
	}
	if g.device != "" {
		cfg.Device = g.device
	}
	if g.lockFile != "" {
		cfg.LockFile = g.lockFile
	}
	if g.metricsFile != "" {
		cfg.MetricsFile = g.metricsFile
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// open takes the tester lock and opens a session. The returned release
// closes the session, writes the metrics file and drops the lock.
func (g *globals) open() (*tnvme.Session, *config.Config, func(), error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, nil, err
	}

	logger := logging.NewLogger(cfg.Logging())
	logging.SetDefault(logger)

	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error acquiring lock on %q: %w", cfg.LockFile, err)
	}
	if !locked {
		return nil, nil, nil, fmt.Errorf("another tester holds %q", cfg.LockFile)
	}
	unlock := func() {
		if err := lock.Unlock(); err != nil {
			logger.Error("releasing lock", "path", cfg.LockFile, "error", err)
		}
	}

	s, err := tnvme.Open(cfg.Device, tnvme.Options{
		Logger:         logger,
		ReapTimeout:    cfg.Timeouts.Reap,
		PollInterval:   cfg.Timeouts.PollInterval,
		MetaBufferSize: cfg.Metadata.BufferSize,
	})
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}

	release := func() {
		start := time.Now()
		if err := s.Close(); err != nil {
			logger.Error("closing session", "error", err)
		}
		if cfg.MetricsFile != "" {
			if err := tnvme.WriteMetricsFile(cfg.MetricsFile, s.Metrics(), s.ID()); err != nil {
				logger.Error("writing metrics file", "path", cfg.MetricsFile, "error", err)
			}
		}
		unlock()
		logger.Debug("session released", "elapsed", time.Since(start))
	}
	return s, cfg, release, nil
}

// globalsFrom extracts the shared flags passed to subcommands.Execute
func globalsFrom(args []any) *globals {
	return args[0].(*globals)
}
