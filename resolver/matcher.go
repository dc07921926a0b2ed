package resolver

import (
	"fmt"
	"strings"

	"objgraph/pod"
	"objgraph/process"

	"github.com/cockroachdb/errors"
)

// ResolvedEntity is a matched object plus the fields extracted from it. It
// is only ever returned fully populated.
type ResolvedEntity struct {
	Address process.ProcessMemoryAddress
	Name    string
	Node    Node
	Via     Direction
	Fields  map[string]Value
}

func (e ResolvedEntity) Field(name string) (Value, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

type ValueKind int

const (
	KindAddress ValueKind = iota
	KindUint32
	KindInt32
	KindUint64
	KindFloat32
	KindFloat64
	KindText
)

var kindNames = map[ValueKind]string{
	KindAddress: "address",
	KindUint32:  "uint32",
	KindInt32:   "int32",
	KindUint64:  "uint64",
	KindFloat32: "float32",
	KindFloat64: "float64",
	KindText:    "text",
}

func (k ValueKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseValueKind(s string) (ValueKind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, errors.Newf("unknown value kind %q", s)
}

// Value holds one extracted field. Only the member matching Kind is set.
type Value struct {
	Kind    ValueKind
	Address process.ProcessMemoryAddress
	Uint    uint64
	Int     int64
	Float   float64
	Text    string
}

// IsZero reports whether the value reads as null or empty.
func (v Value) IsZero() bool {
	switch v.Kind {
	case KindAddress:
		return v.Address == 0
	case KindText:
		return v.Text == ""
	case KindInt32:
		return v.Int == 0
	case KindFloat32, KindFloat64:
		return v.Float == 0
	default:
		return v.Uint == 0
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindAddress:
		return v.Address.ToString()
	case KindText:
		return fmt.Sprintf("%q", v.Text)
	case KindInt32:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%g", v.Float)
	default:
		return fmt.Sprintf("%d", v.Uint)
	}
}

// FieldSource extracts one value for an entity. FieldSpec is the built-in
// source; callers may plug in their own as a field's Alternate.
type FieldSource interface {
	Extract(mem process.MemoryAccessor, chains *ChainReader, entity process.ProcessMemoryAddress) (Value, error)
}

// FieldSpec reads a value at the end of Chain, rooted at the entity address.
//
// For KindAddress the followed address itself is the value. For scalars the
// value is read at the followed address, so Chain usually ends with Field().
// For KindText at most MaxLen bytes are decoded at the followed address.
//
// Alternate is consulted when the primary read fails, reads as null, or is
// refused by Accept.
type FieldSpec struct {
	Name      string
	Chain     Chain
	Kind      ValueKind
	MaxLen    process.ProcessMemorySize
	Encoding  process.TextEncoding
	Alternate FieldSource
	Accept    func(Value) bool
}

func (f FieldSpec) Extract(mem process.MemoryAccessor, chains *ChainReader, entity process.ProcessMemoryAddress) (Value, error) {
	v, err := f.extractPrimary(mem, chains, entity)
	if err == nil && (f.Kind == KindAddress || f.Kind == KindText) && v.IsZero() {
		err = errors.Wrapf(ErrInvalidAddress, "field %s reads as null", f.Name)
	}
	if err == nil && f.Accept != nil && !f.Accept(v) {
		err = errors.Newf("field %s: value %s not accepted", f.Name, v)
	}
	if err == nil {
		return v, nil
	}
	if f.Alternate == nil {
		return Value{}, err
	}

	alt, altErr := f.Alternate.Extract(mem, chains, entity)
	if altErr != nil {
		return Value{}, errors.Wrapf(altErr, "field %s alternate (primary: %v)", f.Name, err)
	}
	if f.Accept != nil && !f.Accept(alt) {
		return Value{}, errors.Newf("field %s: alternate value %s not accepted", f.Name, alt)
	}
	return alt, nil
}

func (f FieldSpec) extractPrimary(mem process.MemoryAccessor, chains *ChainReader, entity process.ProcessMemoryAddress) (Value, error) {
	addr, err := chains.Follow(entity, f.Chain)
	if err != nil {
		return Value{}, errors.Wrapf(err, "field %s", f.Name)
	}

	v := Value{Kind: f.Kind}
	switch f.Kind {
	case KindAddress:
		v.Address = addr
	case KindUint32:
		var x uint32
		x, err = pod.ReadT[uint32](mem, addr)
		v.Uint = uint64(x)
	case KindInt32:
		var x int32
		x, err = pod.ReadT[int32](mem, addr)
		v.Int = int64(x)
	case KindUint64:
		v.Uint, err = pod.ReadT[uint64](mem, addr)
	case KindFloat32:
		var x float32
		x, err = pod.ReadT[float32](mem, addr)
		v.Float = float64(x)
	case KindFloat64:
		v.Float, err = pod.ReadT[float64](mem, addr)
	case KindText:
		v.Text, err = mem.ReadText(addr, f.MaxLen, f.Encoding)
	default:
		err = errors.Newf("field %s: unsupported kind %s", f.Name, f.Kind)
	}
	if err != nil {
		return Value{}, errors.Wrapf(err, "field %s at %s", f.Name, addr)
	}
	return v, nil
}

// MatcherSpec describes which node to accept and what to extract from it.
// All chains are rooted at the node's Self address; an empty chain means
// Self itself.
type MatcherSpec struct {
	Name         string
	NameChain    Chain
	NameMaxLen   process.ProcessMemorySize
	NameEncoding process.TextEncoding
	EntityChain  Chain
	Fields       []FieldSpec
}

// DefaultNameMaxLen bounds name reads when a MatcherSpec leaves it unset.
const DefaultNameMaxLen = 64

// NameMatcher accepts the node whose name equals spec.Name ignoring case.
// Every lookup failure on a node makes that node a non-match.
type NameMatcher struct {
	mem    process.MemoryAccessor
	chains *ChainReader
	spec   MatcherSpec
}

func NewNameMatcher(mem process.MemoryAccessor, chains *ChainReader, spec MatcherSpec) *NameMatcher {
	if spec.NameMaxLen == 0 {
		spec.NameMaxLen = DefaultNameMaxLen
	}
	return &NameMatcher{mem: mem, chains: chains, spec: spec}
}

func (m *NameMatcher) Match(n Node) (ResolvedEntity, bool) {
	name, err := m.ReadName(n)
	if err != nil || !strings.EqualFold(name, m.spec.Name) {
		return ResolvedEntity{}, false
	}

	entity, err := m.Extract(n)
	if err != nil {
		return ResolvedEntity{}, false
	}
	entity.Name = name
	return entity, true
}

// ReadName returns the node's name text.
func (m *NameMatcher) ReadName(n Node) (string, error) {
	addr, err := m.chains.Follow(n.Self, m.spec.NameChain)
	if err != nil {
		return "", err
	}
	return m.mem.ReadText(addr, m.spec.NameMaxLen, m.spec.NameEncoding)
}

// Extract resolves the entity address and every field, or fails as a whole.
func (m *NameMatcher) Extract(n Node) (ResolvedEntity, error) {
	addr, err := m.chains.Follow(n.Self, m.spec.EntityChain)
	if err != nil {
		return ResolvedEntity{}, errors.Wrap(err, "entity")
	}

	entity := ResolvedEntity{Address: addr, Fields: make(map[string]Value, len(m.spec.Fields))}
	for _, f := range m.spec.Fields {
		v, err := f.Extract(m.mem, m.chains, addr)
		if err != nil {
			return ResolvedEntity{}, err
		}
		entity.Fields[f.Name] = v
	}
	return entity, nil
}
