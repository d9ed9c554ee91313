// Package amfregistry implements the Schema Registry component of
// spec.md §4.A: alias/type lookup, declared-member ordering, and enum
// wire-value mapping for the types the Object Binder (pkg/amfbind) reads
// and writes.
//
// It generalizes the single hand-written struct
// (_examples/DMA-Software-dma-gortmp/internal/protocol/commands.go's
// ConnectCommand, with its `amf:"name"` / `amf:",inline"` struct tags)
// into a reflection-driven registry that serves any registered type, per
// spec.md §9's note that "generated code, hand-written tables, or runtime
// reflection all satisfy the contract."
package amfregistry

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// AliasProvider lets a registered type declare its own wire alias instead
// of falling back to its fully qualified Go name.
type AliasProvider interface {
	AmfAlias() string
}

// EnumMember is one (name, wire value) pair of a registered enum type.
type EnumMember struct {
	Name  string
	Value int32
}

// EnumProvider marks a registered type as an enum and supplies its
// members in any order; the Registry stores them in ascending wire-value
// order, per spec.md §4.A ("ascending integer order for enums").
type EnumProvider interface {
	AmfEnumMembers() []EnumMember
}

// Member describes one bound struct field of a record type.
type Member struct {
	Name      string       // wire member name
	FieldIdx  int          // reflect.StructField.Index[0]
	FieldType reflect.Type // Go field type, for coercion
}

// Descriptor is the cached, immutable description of one registered type.
type Descriptor struct {
	Alias string
	Type  reflect.Type

	IsEnum bool

	// Record fields, in declared order.
	Members []Member
	// Extra holds the catch-all dynamic-bag field (`amf:",inline"`), or
	// nil if the type declares none.
	Extra *Member

	// Enum members, ascending by Value.
	EnumMembers []EnumMember
}

// Registry resolves user record/enum types to and from wire aliases. It
// is built once and is immutable and safe for concurrent use afterward,
// per spec.md §4.A/§5.
type Registry struct {
	byAlias map[string]*Descriptor
	byType  map[reflect.Type]*Descriptor
}

// New builds a Registry from the root type plus every other type that may
// appear in the graph it serializes. Each argument may be a struct value,
// a struct pointer, or a zero value of an enum type — only its
// reflect.Type is used.
func New(root interface{}, known ...interface{}) (*Registry, error) {
	r := &Registry{
		byAlias: make(map[string]*Descriptor),
		byType:  make(map[reflect.Type]*Descriptor),
	}
	types := append([]interface{}{root}, known...)
	for _, sample := range types {
		if err := r.register(sample); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(sample interface{}) error {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if _, exists := r.byType[t]; exists {
		return nil
	}

	if provider, ok := reflect.Zero(t).Interface().(EnumProvider); ok {
		members := provider.AmfEnumMembers()
		sorted := make([]EnumMember, len(members))
		copy(sorted, members)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
		desc := &Descriptor{Alias: aliasOf(t, sample), Type: t, IsEnum: true, EnumMembers: sorted}
		r.byAlias[desc.Alias] = desc
		r.byType[t] = desc
		return nil
	}

	if t.Kind() != reflect.Struct {
		return fmt.Errorf("amfregistry: %s is neither a struct nor an AmfEnumMembers type", t)
	}

	desc := &Descriptor{Alias: aliasOf(t, sample), Type: t}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		tag := f.Tag.Get("amf")
		if tag == "-" {
			continue
		}
		name, opts := parseTag(tag)
		if opts == "inline" {
			extra := Member{Name: f.Name, FieldIdx: i, FieldType: f.Type}
			desc.Extra = &extra
			continue
		}
		if name == "" {
			name = f.Name
		}
		desc.Members = append(desc.Members, Member{Name: name, FieldIdx: i, FieldType: f.Type})
	}

	r.byAlias[desc.Alias] = desc
	r.byType[t] = desc
	return nil
}

// aliasOf resolves a type's wire alias: its own AmfAlias() if it
// implements AliasProvider, otherwise its fully qualified Go name.
func aliasOf(t reflect.Type, sample interface{}) string {
	if provider, ok := sample.(AliasProvider); ok {
		return provider.AmfAlias()
	}
	if zero, ok := reflect.Zero(t).Interface().(AliasProvider); ok {
		return zero.AmfAlias()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// parseTag splits a struct tag value of the form "name,opt" the same way
// encoding/json does; either half may be empty.
func parseTag(tag string) (name, opts string) {
	parts := strings.SplitN(tag, ",", 2)
	name = parts[0]
	if len(parts) == 2 {
		opts = parts[1]
	}
	return name, opts
}

// ByAlias resolves a decoded trait's class name to its Descriptor.
func (r *Registry) ByAlias(alias string) (*Descriptor, error) {
	desc, ok := r.byAlias[alias]
	if !ok {
		return nil, &amfvalue.UnknownTypeAliasError{Alias: alias}
	}
	return desc, nil
}

// ByType resolves a Go type to its Descriptor, for the encode path.
func (r *Registry) ByType(t reflect.Type) (*Descriptor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	desc, ok := r.byType[t]
	if !ok {
		return nil, &amfvalue.UnregisteredTypeError{TypeName: t.String()}
	}
	return desc, nil
}

// MemberNames returns the descriptor's declared member names in order,
// the trait member list the Object Binder writes on encode.
func (d *Descriptor) MemberNames() []string {
	names := make([]string, len(d.Members))
	for i, m := range d.Members {
		names[i] = m.Name
	}
	return names
}

// MemberByName looks up a Member by its wire name.
func (d *Descriptor) MemberByName(name string) (Member, bool) {
	for _, m := range d.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// EnumNameOf returns the wire name for a numeric enum value.
func (d *Descriptor) EnumNameOf(value int32) (string, bool) {
	for _, m := range d.EnumMembers {
		if m.Value == value {
			return m.Name, true
		}
	}
	return "", false
}

// EnumValueOf returns the numeric wire value for an enum member name.
func (d *Descriptor) EnumValueOf(name string) (int32, bool) {
	for _, m := range d.EnumMembers {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}
