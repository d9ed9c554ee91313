package amfregistry

import (
	"reflect"
	"testing"
)

type point struct {
	X float64 `amf:"x"`
	Y float64 `amf:"y"`
}

type withExtras struct {
	Name  string                 `amf:"name"`
	Extra map[string]interface{} `amf:",inline"`
}

type withSkipped struct {
	Name     string `amf:"name"`
	internal int    `amf:"-"`
}

type colorLevel int32

func (colorLevel) AmfEnumMembers() []EnumMember {
	return []EnumMember{
		{Name: "GREEN", Value: 1},
		{Name: "RED", Value: 0},
		{Name: "AMBER", Value: 2},
	}
}

func (colorLevel) AmfAlias() string { return "ColorLevel" }

func TestRegisterRecordAndAlias(t *testing.T) {
	reg, err := New(point{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	desc, err := reg.ByType(reflect.TypeOf(point{}))
	if err != nil {
		t.Fatalf("ByType failed: %v", err)
	}
	if desc.Alias == "" {
		t.Fatalf("expected a non-empty fully-qualified fallback alias")
	}
	if len(desc.Members) != 2 || desc.Members[0].Name != "x" || desc.Members[1].Name != "y" {
		t.Errorf("expected members [x y], got %+v", desc.Members)
	}
}

func TestByAliasUnknown(t *testing.T) {
	reg, err := New(point{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := reg.ByAlias("nope"); err == nil {
		t.Errorf("expected UnknownTypeAliasError for unregistered alias")
	}
}

func TestByTypeUnregistered(t *testing.T) {
	reg, err := New(point{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := reg.ByType(reflect.TypeOf(withExtras{})); err == nil {
		t.Errorf("expected UnregisteredTypeError for type never passed to New")
	}
}

func TestInlineCatchAll(t *testing.T) {
	reg, err := New(withExtras{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	desc, err := reg.ByType(reflect.TypeOf(withExtras{}))
	if err != nil {
		t.Fatalf("ByType failed: %v", err)
	}
	if desc.Extra == nil || desc.Extra.Name != "Extra" {
		t.Fatalf("expected an inline catch-all member, got %+v", desc.Extra)
	}
	if len(desc.Members) != 1 || desc.Members[0].Name != "name" {
		t.Errorf("expected only [name] as sealed members, got %+v", desc.Members)
	}
}

func TestSkippedField(t *testing.T) {
	reg, err := New(withSkipped{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	desc, err := reg.ByType(reflect.TypeOf(withSkipped{}))
	if err != nil {
		t.Fatalf("ByType failed: %v", err)
	}
	if len(desc.Members) != 1 {
		t.Errorf("expected the amf:\"-\" and unexported fields to be skipped, got %+v", desc.Members)
	}
}

func TestEnumAscendingOrder(t *testing.T) {
	reg, err := New(colorLevel(0))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	desc, err := reg.ByAlias("ColorLevel")
	if err != nil {
		t.Fatalf("ByAlias failed: %v", err)
	}
	if !desc.IsEnum {
		t.Fatalf("expected IsEnum")
	}
	want := []int32{0, 1, 2}
	for i, m := range desc.EnumMembers {
		if m.Value != want[i] {
			t.Errorf("expected ascending order %v, got %+v", want, desc.EnumMembers)
			break
		}
	}
	name, ok := desc.EnumNameOf(2)
	if !ok || name != "AMBER" {
		t.Errorf("expected EnumNameOf(2) = AMBER, got %q ok=%v", name, ok)
	}
	value, ok := desc.EnumValueOf("RED")
	if !ok || value != 0 {
		t.Errorf("expected EnumValueOf(RED) = 0, got %d ok=%v", value, ok)
	}
}
