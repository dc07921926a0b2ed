package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"objgraph/hexdump"
	"objgraph/process"
	"objgraph/resolver"
	"objgraph/search"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func parseAddress(s string) (process.ProcessMemoryAddress, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	return process.ProcessMemoryAddress(v), nil
}

func parseOffsets(args []string) ([]process.ProcessMemorySize, error) {
	out := make([]process.ProcessMemorySize, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid offset %q", a)
		}
		out = append(out, process.ProcessMemorySize(v))
	}
	return out, nil
}

// withTarget opens the backend for the duration of fn.
func withTarget(o *options, fn func(t *target) error) error {
	t, err := o.open()
	if err != nil {
		return err
	}
	defer t.close()
	return fn(t)
}

func printEntity(w io.Writer, e resolver.ResolvedEntity) {
	fmt.Fprintf(w, "entity %s name=%q node=%s via %s\n", e.Address, e.Name, e.Node.Record, e.Via)
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %s\n", name, e.Fields[name])
	}
}

func newResolveCmd(o *options) *cobra.Command {
	var (
		container string
		first     bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <matcher>",
		Short: "Find the entity named by a profile matcher, or by a bare name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(o, func(t *target) error {
				r, p, err := o.resolver(t)
				if err != nil {
					return err
				}
				spec, err := p.MatcherSpec(args[0])
				if err != nil {
					return err
				}

				var hint resolver.RootHint
				if container != "" {
					if hint.Container, err = parseAddress(container); err != nil {
						return err
					}
				}

				ctx, cancel := o.context()
				defer cancel()

				var e resolver.ResolvedEntity
				if first {
					e, err = r.FindFirst(ctx, hint, spec)
				} else {
					e, err = r.ResolveEntity(ctx, hint, spec)
				}
				if err != nil {
					return err
				}
				printEntity(cmd.OutOrStdout(), e)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&container, "container", "", "Known list container address, skips root location")
	cmd.Flags().BoolVar(&first, "first", false, "Walk head to tail only instead of racing both ends")
	return cmd
}

func newLocateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "locate",
		Short: "Locate the object list root with the profile's strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(o, func(t *target) error {
				r, _, err := o.resolver(t)
				if err != nil {
					return err
				}
				root, err := r.Locator().Locate()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), root.String())
				return nil
			})
		},
	}
}

func newListCmd(o *options) *cobra.Command {
	var (
		container string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list [matcher]",
		Short: "Walk the list head to tail printing each node, and its name when a matcher is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(o, func(t *target) error {
				r, p, err := o.resolver(t)
				if err != nil {
					return err
				}

				hint := resolver.RootHint{}
				if container != "" {
					if hint.Container, err = parseAddress(container); err != nil {
						return err
					}
				}
				root, err := r.Root(hint)
				if err != nil {
					return err
				}

				var names *resolver.NameMatcher
				if len(args) == 1 {
					spec, err := p.MatcherSpec(args[0])
					if err != nil {
						return err
					}
					names = r.Matcher(spec)
				}

				head, err := r.Scanner().ReadNode(root.Head)
				if err != nil {
					return err
				}
				tail, err := r.Scanner().ReadNode(root.Tail)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				emit := func(i int, n resolver.Node) {
					line := fmt.Sprintf("%5d record=%s self=%s", i, n.Record, n.Self)
					if names != nil {
						if name, err := names.ReadName(n); err == nil {
							line += fmt.Sprintf(" name=%q", name)
						}
					}
					fmt.Fprintln(w, line)
				}

				ctx, cancel := o.context()
				defer cancel()

				visited := 0
				_, err = r.Scanner().Scan(ctx, resolver.ScanRange{Start: head, Terminal: tail}, resolver.Forward,
					resolver.MatcherFunc(func(n resolver.Node) (resolver.ResolvedEntity, bool) {
						emit(visited, n)
						visited++
						return resolver.ResolvedEntity{}, limit > 0 && visited >= limit
					}))
				if errors.Is(err, resolver.ErrNotFound) {
					// The terminal is never offered to the matcher.
					emit(visited, tail)
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&container, "container", "", "Known list container address")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many nodes (0 = whole list)")
	return cmd
}

func newChainCmd(o *options) *cobra.Command {
	var (
		field     bool
		noVerify  bool
		dumpBytes int
	)
	cmd := &cobra.Command{
		Use:   "chain <base> [offset...]",
		Short: "Follow a pointer chain and print every hop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			offsets, err := parseOffsets(args[1:])
			if err != nil {
				return err
			}
			chain := resolver.Chain{Offsets: offsets, ValidateHops: !noVerify, FieldAtEnd: field}

			return withTarget(o, func(t *target) error {
				r, _, err := o.resolver(t)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				addr, err := r.Chains().WithTrace(w).Follow(base, chain)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "result %s\n", addr)

				if dumpBytes > 0 {
					data, err := t.mem.ReadMemory(addr, process.ProcessMemorySize(dumpBytes))
					if err != nil {
						return err
					}
					opts := hexdump.DefaultOptions()
					opts.StartOffset = uint64(addr)
					opts.GroupSize = 8
					opts.IsPointer = func(v uint64) bool { return r.Validator().IsValid(process.ProcessMemoryAddress(v)) }
					hexdump.DumpToWriter(w, data, opts)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&field, "field", false, "Treat the last offset as a value field, not a pointer")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Only reject null pointers mid-chain")
	cmd.Flags().IntVar(&dumpBytes, "dump-bytes", 0, "Hex dump this many bytes at the result")
	return cmd
}

func newScanCmd(o *options) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "scan <pattern>",
		Short: `Search code for a byte signature such as "48 8B 05 ?? ?? ?? ??"`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aob, err := process.ParseAOB(args[0])
			if err != nil {
				return err
			}
			return withTarget(o, func(t *target) error {
				regions := process.SignatureRegions(t.mm)
				if all {
					regions = t.mm
				}
				matches, err := process.ScanRegions(t.mem, regions, aob, 4)
				if err != nil {
					return err
				}
				for _, m := range matches {
					fmt.Fprintln(cmd.OutOrStdout(), m.ToString())
				}
				if len(matches) == 0 {
					return errors.Wrap(process.ErrSignatureNotFound, aob.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Scan every region, not only code")
	return cmd
}

func newPathsCmd(o *options) *cobra.Command {
	var (
		value   string
		text    string
		utf16   bool
		depth   int
		size    uint
		align   uint
		results int
	)
	cmd := &cobra.Command{
		Use:   "paths <base>",
		Short: "Discover offset chains from base to a known value or string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseAddress(args[0])
			if err != nil {
				return err
			}

			opts := []search.Option{
				search.WithMaxDepth(depth),
				search.WithMaxStructSize(size),
				search.WithMinAlignment(align),
				search.WithMaxResults(results),
			}
			switch {
			case text != "":
				enc := process.TextUTF8
				if utf16 {
					enc = process.TextUTF16
				}
				opts = append(opts, search.WithSearchForText(text, enc))
			case value != "":
				v, err := strconv.ParseUint(value, 0, 32)
				if err != nil {
					return errors.Wrapf(err, "invalid value %q", value)
				}
				opts = append(opts, search.WithSearchForType(uint32(v)))
			default:
				return errors.New("one of --value or --text is required")
			}

			return withTarget(o, func(t *target) error {
				r, _, err := o.resolver(t)
				if err != nil {
					return err
				}
				found, err := search.Search(t.mem, base, append(opts, search.WithValidator(r.Validator()))...)
				if err != nil {
					return err
				}
				for _, res := range found {
					fmt.Fprintln(cmd.OutOrStdout(), res.String())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "uint32 value to look for")
	cmd.Flags().StringVar(&text, "text", "", "String to look for")
	cmd.Flags().BoolVar(&utf16, "utf16", false, "Look for --text encoded as UTF-16LE")
	cmd.Flags().IntVar(&depth, "depth", 3, "Maximum pointer depth")
	cmd.Flags().UintVar(&size, "size", 256, "Bytes scanned per struct")
	cmd.Flags().UintVar(&align, "align", 4, "Offset alignment")
	cmd.Flags().IntVar(&results, "max-results", 100, "Stop after this many paths")
	return cmd
}

func newSaveCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "save <dir>",
		Short: "Save the target in the dump format --dump reads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(o, func(t *target) error {
				stats, err := t.save(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %d regions (%d unreadable, %d too large, %d read errors)\n",
					stats.Saved, stats.NonReadable, stats.TooLarge, stats.ReadErrors)
				return nil
			})
		},
	}
}

