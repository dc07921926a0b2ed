package resolver

import (
	"fmt"

	"objgraph/pod"
	"objgraph/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/cockroachdb/errors"
)

// ContainerLayout gives the offsets of the head and tail record pointers
// inside the list container.
type ContainerLayout struct {
	Head process.ProcessMemorySize
	Tail process.ProcessMemorySize
}

var DefaultContainerLayout = ContainerLayout{Head: 0x0, Tail: 0x8}

// Root is a located list: the container and its two end records.
type Root struct {
	Container process.ProcessMemoryAddress
	Head      process.ProcessMemoryAddress
	Tail      process.ProcessMemoryAddress
	Strategy  string
}

func (r Root) String() string {
	return fmt.Sprintf("container=%s head=%s tail=%s via %s", r.Container, r.Head, r.Tail, r.Strategy)
}

// RootStrategy produces a candidate container address.
type RootStrategy interface {
	Name() string
	Locate(mem process.MemoryAccessor, v *Validator) (process.ProcessMemoryAddress, error)
}

// SignatureStrategy finds an instruction that addresses the container through
// a rip-relative displacement:
//
//	slot      = match + InstructionLength + int32(*(match + DisplacementOffset))
//	container = *slot
type SignatureStrategy struct {
	Pattern            process.AOB
	DisplacementOffset process.ProcessMemorySize
	InstructionLength  process.ProcessMemorySize
}

func (s SignatureStrategy) Name() string { return "signature" }

func (s SignatureStrategy) Locate(mem process.MemoryAccessor, v *Validator) (process.ProcessMemoryAddress, error) {
	if !s.Pattern.IsValid() {
		return 0, errors.Wrap(process.ErrSignatureNotFound, "no pattern configured")
	}

	match, err := mem.FindSignature(s.Pattern)
	if err != nil {
		return 0, errors.Wrapf(err, "find signature %s", s.Pattern)
	}

	disp, err := pod.ReadT[int32](mem, match.Add(s.DisplacementOffset))
	if err != nil {
		return 0, errors.Wrapf(err, "read displacement at %s", match.Add(s.DisplacementOffset))
	}

	slot := process.ProcessMemoryAddress(int64(match.Add(s.InstructionLength)) + int64(disp))
	if err := v.Validate(slot); err != nil {
		return 0, errors.Wrapf(err, "displacement slot from match %s", match)
	}

	container, err := mem.ReadPOINTER(slot)
	if err != nil {
		return 0, errors.Wrapf(err, "read container pointer at %s", slot)
	}
	return container, nil
}

// FixedOffsetStrategy reads the container pointer at module base + Offset.
type FixedOffsetStrategy struct {
	Module string
	Offset process.ProcessMemorySize
}

func (s FixedOffsetStrategy) Name() string { return "fixed-offset" }

func (s FixedOffsetStrategy) Locate(mem process.MemoryAccessor, v *Validator) (process.ProcessMemoryAddress, error) {
	if s.Module == "" {
		return 0, errors.Wrap(process.ErrModuleNotFound, "no module configured")
	}

	base, err := mem.ModuleBase(s.Module)
	if err != nil {
		return 0, errors.Wrapf(err, "module %s", s.Module)
	}

	slot := base.Add(s.Offset)
	container, err := mem.ReadPOINTER(slot)
	if err != nil {
		return 0, errors.Wrapf(err, "read container pointer at %s+%#x", s.Module, uint64(s.Offset))
	}
	return container, nil
}

// RootLocator tries each strategy in order and returns the first one whose
// container and end records validate.
type RootLocator struct {
	mem        process.MemoryAccessor
	validator  *Validator
	layout     ContainerLayout
	strategies []RootStrategy
	log        *logger.Logger
}

func NewRootLocator(mem process.MemoryAccessor, v *Validator, layout ContainerLayout, strategies ...RootStrategy) *RootLocator {
	return &RootLocator{
		mem:        mem,
		validator:  v,
		layout:     layout,
		strategies: strategies,
		log:        logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "root")),
	}
}

// Locate fails with ErrRootNotFound when every strategy failed. A channel
// failure stops the search immediately and is returned as is.
func (l *RootLocator) Locate() (Root, error) {
	var failures []error
	for _, s := range l.strategies {
		container, err := s.Locate(l.mem, l.validator)
		if err == nil {
			var root Root
			root, err = l.FromContainer(container)
			if err == nil {
				root.Strategy = s.Name()
				l.log.Infoln("root located via", s.Name(), root.String())
				return root, nil
			}
		}
		if errors.Is(err, ErrChannel) {
			return Root{}, err
		}
		l.log.Warn("root strategy", s.Name(), "failed:", err)
		failures = append(failures, errors.Wrap(err, s.Name()))
	}

	if len(failures) == 0 {
		return Root{}, errors.Wrap(ErrRootNotFound, "no strategies configured")
	}
	return Root{}, errors.Wrapf(ErrRootNotFound, "%v", failures)
}

// FromContainer reads the end record pointers out of a known container.
func (l *RootLocator) FromContainer(container process.ProcessMemoryAddress) (Root, error) {
	if err := l.validator.Validate(container); err != nil {
		return Root{}, errors.Wrap(err, "container")
	}

	head, err := l.mem.ReadPOINTER(container.Add(l.layout.Head))
	if err != nil {
		return Root{}, errors.Wrap(err, "read head")
	}
	if err := l.validator.Validate(head); err != nil {
		return Root{}, errors.Wrap(err, "head")
	}

	tail, err := l.mem.ReadPOINTER(container.Add(l.layout.Tail))
	if err != nil {
		return Root{}, errors.Wrap(err, "read tail")
	}
	if err := l.validator.Validate(tail); err != nil {
		return Root{}, errors.Wrap(err, "tail")
	}

	return Root{Container: container, Head: head, Tail: tail, Strategy: "container"}, nil
}
