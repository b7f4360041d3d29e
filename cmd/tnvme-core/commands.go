package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/ehrlich-b/go-tnvme"
	"github.com/ehrlich-b/go-tnvme/internal/ctrl"
	"github.com/ehrlich-b/go-tnvme/internal/scenario"
)

// scenariosCmd runs the built-in conformance scenarios
type scenariosCmd struct {
	run     string
	dumpDir string
	list    bool
}

// Name implements subcommands.Command.Name.
func (*scenariosCmd) Name() string { return "scenarios" }

// Synopsis implements subcommands.Command.Synopsis.
func (*scenariosCmd) Synopsis() string { return "run the built-in conformance scenarios" }

// Usage implements subcommands.Command.Usage.
func (*scenariosCmd) Usage() string {
	return "scenarios [-run name[,name...]] [-dump-dir dir] [-list]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *scenariosCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.run, "run", "", "comma separated scenario names; all when empty")
	fs.StringVar(&c.dumpDir, "dump-dir", "", "directory for driver dumps taken after hard failures")
	fs.BoolVar(&c.list, "list", false, "list scenarios and exit")
}

// Execute implements subcommands.Command.Execute.
func (c *scenariosCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if c.list {
		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		for _, sc := range tnvme.Scenarios() {
			fmt.Fprintf(tw, "%s\t%s\n", sc.Name, sc.Desc)
		}
		tw.Flush()
		return subcommands.ExitSuccess
	}

	selected, err := c.selected()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	if c.dumpDir != "" {
		if err := os.MkdirAll(c.dumpDir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}

	s, _, release, err := globalsFrom(args).open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer release()

	failed := 0
	for _, r := range tnvme.RunScenarios(s, selected, c.dumpDir) {
		status := "PASS"
		if !r.Passed() {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%s\t%s\t%s\n", status, r.Name, r.Elapsed.Round(time.Microsecond))
		if r.Err != nil {
			fmt.Printf("\t%v\n", r.Err)
		}
	}
	if failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *scenariosCmd) selected() ([]tnvme.Scenario, error) {
	if c.run == "" {
		return tnvme.Scenarios(), nil
	}
	var out []tnvme.Scenario
	for _, name := range strings.Split(c.run, ",") {
		sc, ok := scenario.Lookup(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		out = append(out, sc)
	}
	return out, nil
}

// regsCmd prints the controller registers
type regsCmd struct{}

// Name implements subcommands.Command.Name.
func (*regsCmd) Name() string { return "regs" }

// Synopsis implements subcommands.Command.Synopsis.
func (*regsCmd) Synopsis() string { return "print CAP, VS, CC and CSTS" }

// Usage implements subcommands.Command.Usage.
func (*regsCmd) Usage() string { return "regs\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*regsCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*regsCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	s, _, release, err := globalsFrom(args).open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer release()

	regs, err := s.Registers()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "CAP\t0x%016x\n", regs.CAP)
	fmt.Fprintf(tw, "  max queue entries\t%s\n", humanize.Comma(int64(ctrl.MaxQueueEntries(regs.CAP))))
	fmt.Fprintf(tw, "  contiguous queues required\t%t\n", ctrl.ContiguousRequired(regs.CAP))
	fmt.Fprintf(tw, "  ready timeout\t%s\n", ctrl.ReadyTimeout(regs.CAP))
	fmt.Fprintf(tw, "  doorbell stride\t%s\n", humanize.IBytes(uint64(ctrl.DoorbellStride(regs.CAP))))
	fmt.Fprintf(tw, "  min page size\t%s\n", humanize.IBytes(uint64(ctrl.MinPageSize(regs.CAP))))
	fmt.Fprintf(tw, "VS\t%s\n", regs.Version())
	fmt.Fprintf(tw, "CC\t0x%08x\tenabled=%t\n", regs.CC, regs.Enabled())
	fmt.Fprintf(tw, "CSTS\t0x%08x\tready=%t fatal=%t\n", regs.CSTS, regs.Ready(), regs.Fatal())
	tw.Flush()
	return subcommands.ExitSuccess
}

// metricsCmd dumps the driver's view of the device
type metricsCmd struct {
	dump string
}

// Name implements subcommands.Command.Name.
func (*metricsCmd) Name() string { return "metrics" }

// Synopsis implements subcommands.Command.Synopsis.
func (*metricsCmd) Synopsis() string { return "print device metrics and write the driver dump" }

// Usage implements subcommands.Command.Usage.
func (*metricsCmd) Usage() string { return "metrics [-dump file]\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (c *metricsCmd) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.dump, "dump", "", "file the driver writes its internal state to")
}

// Execute implements subcommands.Command.Execute.
func (c *metricsCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	s, cfg, release, err := globalsFrom(args).open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer release()

	path := c.dump
	if path != "" {
		// The driver resolves the path in kernel context
		if path, err = filepath.Abs(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	}
	diag := s.CaptureDiagnostics(path)
	for _, err := range diag.Errors {
		fmt.Fprintln(os.Stderr, err)
	}

	fmt.Printf("device\t%s\n", cfg.Device)
	fmt.Printf("session\t%s\n", s.ID())
	fmt.Printf("irq type\t%d\n", diag.IrqType)
	fmt.Printf("irqs\t%d\n", diag.NumIrqs)
	fmt.Printf("meta buffer size\t%s\n", humanize.IBytes(uint64(cfg.Metadata.BufferSize)))
	if diag.DumpPath != "" {
		fmt.Printf("driver dump\t%s\n", diag.DumpPath)
	}
	if len(diag.Errors) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
