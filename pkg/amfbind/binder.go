// Package amfbind implements the Object Binder component of spec.md
// §4.G: materializing a decoded trait+property bag into a registered Go
// value on decode, and projecting a registered Go value into a
// trait+property bag on encode.
//
// Grounded on _examples/DMA-Software-dma-gortmp/internal/protocol/commands.go's
// ParseConnectCommand, which manually type-switches obj["field"] into a
// ConnectCommand and shunts anything it doesn't recognize into
// connect.Additional. This package generalizes that exact shape —
// "known fields typed, unknown fields into a catch-all map" — into
// reflection-driven coercion that works for any type registered with
// pkg/amfregistry.
package amfbind

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/DMA-Software/amfcodec/pkg/amfregistry"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// Binder ties a Registry to the coercion rules of spec.md §4.G.
type Binder struct {
	reg *amfregistry.Registry
}

// New creates a Binder over reg.
func New(reg *amfregistry.Registry) *Binder {
	return &Binder{reg: reg}
}

// DecodeObject implements spec.md §4.G's decode path for a whole
// trait+property bag: an unaliased trait comes back as the raw
// *amfvalue.Object bag; an aliased trait is resolved through the
// Registry and materialized into a new instance of the registered type.
func (b *Binder) DecodeObject(obj *amfvalue.Object) (interface{}, error) {
	if obj.Trait.Alias == "" {
		return obj, nil
	}
	desc, err := b.reg.ByAlias(obj.Trait.Alias)
	if err != nil {
		return nil, err
	}
	if desc.IsEnum {
		return nil, &amfvalue.ContractViolationError{Field: obj.Trait.Alias, Reason: "alias names an enum type, not a record"}
	}

	ptr := reflect.New(desc.Type)
	elem := ptr.Elem()

	var extras map[string]interface{}
	for _, f := range obj.Fields {
		member, found := desc.MemberByName(f.Name)
		if !found {
			if desc.Extra == nil {
				continue // forward compatibility: silently drop
			}
			if extras == nil {
				extras = make(map[string]interface{})
			}
			native, err := b.toNative(f.Value)
			if err != nil {
				return nil, err
			}
			extras[f.Name] = native
			continue
		}
		fv, err := b.decodeInto(f.Value, member.FieldType)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		elem.Field(member.FieldIdx).Set(fv)
	}
	if desc.Extra != nil && extras != nil {
		elem.Field(desc.Extra.FieldIdx).Set(reflect.ValueOf(extras))
	}
	return ptr.Interface(), nil
}

// decodeInto coerces a decoded wire value into target, per spec.md §4.G
// step 3's coercion rules: enum-string to enum constant, numeric
// widen/narrow with overflow detection, Null into a non-nullable target
// as a ContractViolation.
func (b *Binder) decodeInto(v amfvalue.Value, target reflect.Type) (reflect.Value, error) {
	if target.Kind() == reflect.Ptr {
		if isAbsent(v) {
			return reflect.Zero(target), nil
		}
		inner, err := b.decodeInto(v, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(inner)
		return ptr, nil
	}

	if isAbsent(v) {
		switch target.Kind() {
		case reflect.Interface, reflect.Map, reflect.Slice:
			return reflect.Zero(target), nil
		default:
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: "Null into non-nullable field"}
		}
	}

	if target.Kind() == reflect.Interface {
		native, err := b.toNative(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(native), nil
	}

	if desc, err := b.reg.ByType(target); err == nil && desc.IsEnum {
		s, ok := v.(amfvalue.String)
		if !ok {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: desc.Alias, Reason: fmt.Sprintf("enum requires a String on the wire, got %T", v)}
		}
		wire, ok := desc.EnumValueOf(string(s))
		if !ok {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: desc.Alias, Reason: fmt.Sprintf("unknown enum member %q", s)}
		}
		out := reflect.New(target).Elem()
		out.SetInt(int64(wire))
		return out, nil
	}

	switch target.Kind() {
	case reflect.String:
		s, ok := v.(amfvalue.String)
		if !ok {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("expected String, got %T", v)}
		}
		return reflect.ValueOf(string(s)).Convert(target), nil

	case reflect.Bool:
		bv, ok := v.(amfvalue.Bool)
		if !ok {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("expected Bool, got %T", v)}
		}
		return reflect.ValueOf(bool(bv)).Convert(target), nil

	case reflect.Float32, reflect.Float64:
		f, err := numericValue(v)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(f).Convert(target), nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := numericValue(v)
		if err != nil {
			return reflect.Value{}, err
		}
		i := int64(f)
		if float64(i) != f {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("%v is not an integral value", f)}
		}
		out := reflect.New(target).Elem()
		if out.OverflowInt(i) {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("%d overflows %s", i, target)}
		}
		out.SetInt(i)
		return out, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, err := numericValue(v)
		if err != nil {
			return reflect.Value{}, err
		}
		if f < 0 {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("%v is negative, cannot fit %s", f, target)}
		}
		u := uint64(f)
		if float64(u) != f {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("%v is not an integral value", f)}
		}
		out := reflect.New(target).Elem()
		if out.OverflowUint(u) {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("%d overflows %s", u, target)}
		}
		out.SetUint(u)
		return out, nil

	case reflect.Slice:
		arr, ok := v.(*amfvalue.Array)
		if !ok {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("expected Array, got %T", v)}
		}
		out := reflect.MakeSlice(target, 0, len(arr.Elements))
		for i, el := range arr.Elements {
			ev, err := b.decodeInto(el, target.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out = reflect.Append(out, ev)
		}
		return out, nil

	case reflect.Map:
		obj, ok := v.(*amfvalue.Object)
		if !ok {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("expected Object, got %T", v)}
		}
		out := reflect.MakeMapWithSize(target, len(obj.Fields))
		for _, f := range obj.Fields {
			ev, err := b.decodeInto(f.Value, target.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("key %q: %w", f.Name, err)
			}
			out.SetMapIndex(reflect.ValueOf(f.Name), ev)
		}
		return out, nil

	case reflect.Struct:
		obj, ok := v.(*amfvalue.Object)
		if !ok {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("expected Object, got %T", v)}
		}
		decoded, err := b.DecodeObject(obj)
		if err != nil {
			return reflect.Value{}, err
		}
		result := reflect.ValueOf(decoded)
		if result.Type() != reflect.PtrTo(target) {
			return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("decoded as %s, wanted %s", result.Type(), target)}
		}
		return result.Elem(), nil

	default:
		return reflect.Value{}, &amfvalue.ContractViolationError{Field: target.String(), Reason: fmt.Sprintf("no coercion for Go kind %s", target.Kind())}
	}
}

// toNative converts a wire value into an interface{}-shaped Go value for
// anonymous decode targets: dynamic catch-all extras and interface{}
// struct fields.
func (b *Binder) toNative(v amfvalue.Value) (interface{}, error) {
	switch val := v.(type) {
	case amfvalue.Null:
		return nil, nil
	case amfvalue.Undefined:
		return nil, nil
	case amfvalue.Bool:
		return bool(val), nil
	case amfvalue.Int:
		return int32(val), nil
	case amfvalue.Double:
		return float64(val), nil
	case amfvalue.String:
		return string(val), nil
	case *amfvalue.Date:
		return val, nil
	case *amfvalue.ByteArray:
		return val, nil
	case *amfvalue.XMLDoc:
		return val, nil
	case *amfvalue.Array:
		out := make([]interface{}, 0, len(val.Elements))
		for _, el := range val.Elements {
			n, err := b.toNative(el)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case *amfvalue.Object:
		return b.DecodeObject(val)
	default:
		return nil, &amfvalue.ContractViolationError{Field: "", Reason: fmt.Sprintf("no native form for %T", v)}
	}
}

func isAbsent(v amfvalue.Value) bool {
	switch v.(type) {
	case amfvalue.Null, amfvalue.Undefined:
		return true
	default:
		return false
	}
}

func numericValue(v amfvalue.Value) (float64, error) {
	switch val := v.(type) {
	case amfvalue.Int:
		return float64(val), nil
	case amfvalue.Double:
		return float64(val), nil
	default:
		return 0, &amfvalue.ContractViolationError{Field: "", Reason: fmt.Sprintf("expected a number, got %T", v)}
	}
}

// EncodeValue implements spec.md §4.G's encode path: registry lookup
// (failing closed with UnregisteredType on miss), an ordered
// (name, value) sequence in declared member order, plus dynamic extras
// from any catch-all map field.
func (b *Binder) EncodeValue(v interface{}) (amfvalue.Value, error) {
	if v == nil {
		return amfvalue.Null{}, nil
	}
	if val, ok := v.(amfvalue.Value); ok {
		return val, nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return amfvalue.Null{}, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return amfvalue.String(rv.String()), nil
	case reflect.Bool:
		return amfvalue.Bool(rv.Bool()), nil
	case reflect.Float32, reflect.Float64:
		return amfvalue.Double(rv.Float()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if desc, err := b.reg.ByType(rv.Type()); err == nil && desc.IsEnum {
			name, ok := desc.EnumNameOf(int32(rv.Int()))
			if !ok {
				return nil, &amfvalue.ContractViolationError{Field: desc.Alias, Reason: fmt.Sprintf("%d has no enum member", rv.Int())}
			}
			return amfvalue.String(name), nil
		}
		i := rv.Int()
		if i < -(1<<28) || i > (1<<28)-1 {
			return amfvalue.Double(float64(i)), nil
		}
		return amfvalue.Int(i), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return amfvalue.Double(float64(rv.Uint())), nil
	case reflect.Slice, reflect.Array:
		elements := make([]amfvalue.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := b.EncodeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			elements[i] = ev
		}
		return &amfvalue.Array{Elements: elements}, nil
	case reflect.Map:
		fields := make([]amfvalue.Field, 0, rv.Len())
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		for _, k := range keys {
			ev, err := b.EncodeValue(rv.MapIndex(reflect.ValueOf(k)).Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			fields = append(fields, amfvalue.Field{Name: k, Value: ev})
		}
		return &amfvalue.Object{Trait: amfvalue.Trait{Dynamic: true}, Fields: fields}, nil
	case reflect.Struct:
		return b.encodeStruct(rv)
	default:
		return nil, &amfvalue.ContractViolationError{Field: "", Reason: fmt.Sprintf("no wire form for Go kind %s", rv.Kind())}
	}
}

func (b *Binder) encodeStruct(rv reflect.Value) (*amfvalue.Object, error) {
	desc, err := b.reg.ByType(rv.Type())
	if err != nil {
		return nil, err
	}
	trait := amfvalue.Trait{Alias: desc.Alias, Dynamic: desc.Extra != nil, Members: desc.MemberNames()}

	fields := make([]amfvalue.Field, 0, len(desc.Members))
	for _, m := range desc.Members {
		ev, err := b.EncodeValue(rv.Field(m.FieldIdx).Interface())
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", m.Name, err)
		}
		fields = append(fields, amfvalue.Field{Name: m.Name, Value: ev})
	}
	if desc.Extra != nil {
		extras := rv.Field(desc.Extra.FieldIdx)
		if extras.Kind() == reflect.Map && !extras.IsNil() {
			keys := make([]string, 0, extras.Len())
			for _, k := range extras.MapKeys() {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			for _, k := range keys {
				ev, err := b.EncodeValue(extras.MapIndex(reflect.ValueOf(k)).Interface())
				if err != nil {
					return nil, fmt.Errorf("extra %q: %w", k, err)
				}
				fields = append(fields, amfvalue.Field{Name: k, Value: ev})
			}
		}
	}
	return &amfvalue.Object{Trait: trait, Fields: fields}, nil
}
