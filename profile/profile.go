// Package profile loads the layout description of an observed program: where
// the object list lives, how its nodes are laid out and which entities can be
// resolved from it.
package profile

import (
	"encoding/json"
	"os"

	"objgraph/process"
	"objgraph/process/memory_map"
	"objgraph/resolver"

	"github.com/cockroachdb/errors"
)

type NodeLayout struct {
	Prev Hex `json:"prev"`
	Next Hex `json:"next"`
	Self Hex `json:"self"`
}

type ContainerLayout struct {
	Head Hex `json:"head"`
	Tail Hex `json:"tail"`
}

type Signature struct {
	Pattern            string `json:"pattern"`
	DisplacementOffset Hex    `json:"displacement_offset"`
	InstructionLength  Hex    `json:"instruction_length"`
}

type FixedOffset struct {
	Module string `json:"module"`
	Offset Hex    `json:"offset"`
}

// Validator bounds the plausible pointer range. With Regions set, pointers
// must also fall in a readable region of the target.
type Validator struct {
	Min       Hex   `json:"min"`
	Max       Hex   `json:"max"`
	Sentinels []Hex `json:"sentinels,omitempty"`
	Regions   bool  `json:"regions,omitempty"`
}

// Field is one value extracted from a matched entity. Value marks the last
// chain offset as the field itself rather than a further pointer.
type Field struct {
	Name      string `json:"name"`
	Chain     []Hex  `json:"chain"`
	Value     bool   `json:"value,omitempty"`
	Kind      string `json:"kind"`
	MaxLen    Hex    `json:"max_len,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Alternate *Field `json:"alternate,omitempty"`
}

type Matcher struct {
	Name         string  `json:"name"`
	NameChain    []Hex   `json:"name_chain"`
	NameMaxLen   Hex     `json:"name_max_len,omitempty"`
	NameEncoding string  `json:"name_encoding,omitempty"`
	EntityChain  []Hex   `json:"entity_chain,omitempty"`
	Fields       []Field `json:"fields,omitempty"`
}

type Profile struct {
	Name      string             `json:"name"`
	Version   string             `json:"version,omitempty"`
	Node      NodeLayout         `json:"node"`
	Container ContainerLayout    `json:"container"`
	Signature *Signature         `json:"signature,omitempty"`
	Fixed     *FixedOffset       `json:"fixed_offset,omitempty"`
	Validator Validator          `json:"validator"`
	MaxVisits int                `json:"max_visits,omitempty"`
	Matchers  map[string]Matcher `json:"matchers,omitempty"`
}

// Default returns the layout defaults with no root strategies configured.
func Default() *Profile {
	return &Profile{
		Name: "default",
		Node: NodeLayout{
			Prev: Hex(resolver.DefaultNodeLayout.Prev),
			Next: Hex(resolver.DefaultNodeLayout.Next),
			Self: Hex(resolver.DefaultNodeLayout.Self),
		},
		Container: ContainerLayout{
			Head: Hex(resolver.DefaultContainerLayout.Head),
			Tail: Hex(resolver.DefaultContainerLayout.Tail),
		},
		Validator: Validator{
			Min: Hex(resolver.DefaultMinAddress),
			Max: Hex(resolver.DefaultMaxAddress),
		},
		MaxVisits: resolver.DefaultMaxVisits,
	}
}

// Parse reads a profile over the defaults and validates it.
func Parse(data []byte) (*Profile, error) {
	p := Default()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, errors.Wrap(err, "decode profile")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read profile")
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "profile %s", path)
	}
	return p, nil
}

func (p *Profile) Validate() error {
	if p.Signature == nil && p.Fixed == nil {
		return errors.New("profile needs a signature or a fixed_offset root strategy")
	}
	if p.Signature != nil {
		if _, err := process.ParseAOB(p.Signature.Pattern); err != nil {
			return errors.Wrap(err, "signature pattern")
		}
	}
	if p.Fixed != nil && p.Fixed.Module == "" {
		return errors.New("fixed_offset needs a module")
	}
	if p.Validator.Min >= p.Validator.Max {
		return errors.Newf("validator range [%#x, %#x) is empty", uint64(p.Validator.Min), uint64(p.Validator.Max))
	}
	if p.Node.Prev == p.Node.Next || p.Node.Next == p.Node.Self || p.Node.Prev == p.Node.Self {
		return errors.New("node layout offsets overlap")
	}
	for key, m := range p.Matchers {
		if _, err := p.matcherSpec(m); err != nil {
			return errors.Wrapf(err, "matcher %s", key)
		}
	}
	return nil
}

// Strategies returns the root strategies in the order they are tried.
func (p *Profile) Strategies() ([]resolver.RootStrategy, error) {
	var out []resolver.RootStrategy
	if p.Signature != nil {
		aob, err := process.ParseAOB(p.Signature.Pattern)
		if err != nil {
			return nil, errors.Wrap(err, "signature pattern")
		}
		out = append(out, resolver.SignatureStrategy{
			Pattern:            aob,
			DisplacementOffset: process.ProcessMemorySize(p.Signature.DisplacementOffset),
			InstructionLength:  process.ProcessMemorySize(p.Signature.InstructionLength),
		})
	}
	if p.Fixed != nil {
		out = append(out, resolver.FixedOffsetStrategy{
			Module: p.Fixed.Module,
			Offset: process.ProcessMemorySize(p.Fixed.Offset),
		})
	}
	return out, nil
}

// NewValidator builds the address validator. mm is only used when the
// profile asks for region checks.
func (p *Profile) NewValidator(mm []memory_map.MemoryMapItem) *resolver.Validator {
	opts := []resolver.ValidatorOption{
		resolver.WithRange(process.ProcessMemoryAddress(p.Validator.Min), process.ProcessMemoryAddress(p.Validator.Max)),
	}
	if len(p.Validator.Sentinels) > 0 {
		sentinels := make([]process.ProcessMemoryAddress, len(p.Validator.Sentinels))
		for i, s := range p.Validator.Sentinels {
			sentinels[i] = process.ProcessMemoryAddress(s)
		}
		opts = append(opts, resolver.WithSentinels(sentinels...))
	}
	if p.Validator.Regions && len(mm) > 0 {
		opts = append(opts, resolver.WithRegions(mm))
	}
	return resolver.NewValidator(opts...)
}

func (p *Profile) Config(mm []memory_map.MemoryMapItem) (resolver.Config, error) {
	strategies, err := p.Strategies()
	if err != nil {
		return resolver.Config{}, err
	}
	node := resolver.NodeLayout{
		Prev: process.ProcessMemorySize(p.Node.Prev),
		Next: process.ProcessMemorySize(p.Node.Next),
		Self: process.ProcessMemorySize(p.Node.Self),
	}
	container := resolver.ContainerLayout{
		Head: process.ProcessMemorySize(p.Container.Head),
		Tail: process.ProcessMemorySize(p.Container.Tail),
	}
	return resolver.Config{
		Validator:       p.NewValidator(mm),
		NodeLayout:      &node,
		ContainerLayout: &container,
		Strategies:      strategies,
		MaxVisits:       p.MaxVisits,
	}, nil
}

// MatcherSpec returns the named matcher. A key that is not configured is
// treated as a bare entity name matched at the node's self address.
func (p *Profile) MatcherSpec(key string) (resolver.MatcherSpec, error) {
	m, ok := p.Matchers[key]
	if !ok {
		return resolver.MatcherSpec{Name: key}, nil
	}
	return p.matcherSpec(m)
}

func (p *Profile) matcherSpec(m Matcher) (resolver.MatcherSpec, error) {
	if m.Name == "" {
		return resolver.MatcherSpec{}, errors.New("empty name")
	}
	enc, err := process.ParseTextEncoding(m.NameEncoding)
	if err != nil {
		return resolver.MatcherSpec{}, err
	}

	spec := resolver.MatcherSpec{
		Name:         m.Name,
		NameChain:    chain(m.NameChain, false),
		NameMaxLen:   process.ProcessMemorySize(m.NameMaxLen),
		NameEncoding: enc,
		EntityChain:  chain(m.EntityChain, false),
	}
	for _, f := range m.Fields {
		fs, err := fieldSpec(f)
		if err != nil {
			return resolver.MatcherSpec{}, errors.Wrapf(err, "field %s", f.Name)
		}
		spec.Fields = append(spec.Fields, fs)
	}
	return spec, nil
}

func fieldSpec(f Field) (resolver.FieldSpec, error) {
	if f.Name == "" {
		return resolver.FieldSpec{}, errors.New("empty field name")
	}
	kind, err := resolver.ParseValueKind(f.Kind)
	if err != nil {
		return resolver.FieldSpec{}, err
	}
	enc, err := process.ParseTextEncoding(f.Encoding)
	if err != nil {
		return resolver.FieldSpec{}, err
	}
	if kind != resolver.KindAddress && kind != resolver.KindText && !f.Value {
		return resolver.FieldSpec{}, errors.Newf("%s field must set value", kind)
	}

	fs := resolver.FieldSpec{
		Name:     f.Name,
		Chain:    chain(f.Chain, f.Value),
		Kind:     kind,
		MaxLen:   process.ProcessMemorySize(f.MaxLen),
		Encoding: enc,
	}
	if kind == resolver.KindText && fs.MaxLen == 0 {
		fs.MaxLen = resolver.DefaultNameMaxLen
	}
	if f.Alternate != nil {
		alt := *f.Alternate
		if alt.Name == "" {
			alt.Name = f.Name
		}
		if alt.Kind == "" {
			alt.Kind = f.Kind
		}
		altSpec, err := fieldSpec(alt)
		if err != nil {
			return resolver.FieldSpec{}, errors.Wrap(err, "alternate")
		}
		fs.Alternate = altSpec
	}
	return fs, nil
}

func chain(offsets []Hex, value bool) resolver.Chain {
	c := resolver.Chain{ValidateHops: true, FieldAtEnd: value && len(offsets) > 0}
	for _, off := range offsets {
		c.Offsets = append(c.Offsets, process.ProcessMemorySize(off))
	}
	return c
}
