package main

import (
	"context"
	"time"

	"objgraph/process"
	"objgraph/process/memory_map"
	"objgraph/process_blob"
	"objgraph/profile"
	"objgraph/resolver"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type options struct {
	pid            int
	name           string
	dump           string
	profile        string
	timeout        time.Duration
	readsPerSecond float64
}

// target is an opened backend.
type target struct {
	mem   process.MemoryAccessor
	mm    []memory_map.MemoryMapItem
	save  func(dir string) (process_blob.SaveStats, error)
	close func() error
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "objresolve",
		Short:        "Resolve objects from a process's doubly-linked object list",
		SilenceUsage: true,
	}

	f := cmd.PersistentFlags()
	f.IntVar(&opts.pid, "pid", 0, "Process ID to attach to")
	f.StringVar(&opts.name, "name", "", "Process name to attach to")
	f.StringVar(&opts.dump, "dump", "", "Dump directory to read instead of a live process")
	f.StringVar(&opts.profile, "profile", "", "Layout profile (JSON)")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Wall clock budget for one resolution")
	f.Float64Var(&opts.readsPerSecond, "reads-per-second", 0, "Throttle remote reads (0 = unlimited)")

	cmd.AddCommand(
		newResolveCmd(opts),
		newLocateCmd(opts),
		newListCmd(opts),
		newChainCmd(opts),
		newScanCmd(opts),
		newPathsCmd(opts),
		newSaveCmd(opts),
	)
	return cmd
}

func (o *options) open() (*target, error) {
	var (
		t   *target
		err error
	)
	switch {
	case o.dump != "":
		var mem *process_blob.Memory
		mem, err = process_blob.Load(o.dump)
		if err == nil {
			t = &target{mem: mem, mm: mem.MemoryMap(), save: mem.Save, close: func() error { return nil }}
		}
	case o.pid != 0 || o.name != "":
		t, err = openLive(o.pid, o.name)
	default:
		return nil, errors.New("one of --pid, --name or --dump is required")
	}
	if err != nil {
		return nil, err
	}

	if o.readsPerSecond > 0 {
		t.mem = process.NewThrottled(t.mem, o.readsPerSecond, int(o.readsPerSecond/10)+1)
	}
	return t, nil
}

func (o *options) loadProfile() (*profile.Profile, error) {
	if o.profile == "" {
		return profile.Default(), nil
	}
	return profile.Load(o.profile)
}

func (o *options) resolver(t *target) (*resolver.Resolver, *profile.Profile, error) {
	p, err := o.loadProfile()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := p.Config(t.mm)
	if err != nil {
		return nil, nil, err
	}
	return resolver.New(t.mem, cfg), p, nil
}

func (o *options) context() (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), o.timeout)
}
