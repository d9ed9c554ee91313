package amfbind

import (
	"errors"
	"reflect"
	"testing"

	"github.com/DMA-Software/amfcodec/pkg/amfregistry"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

type suit int32

const (
	hearts suit = iota
	spades
	clubs
	diamonds
)

func (suit) AmfEnumMembers() []amfregistry.EnumMember {
	return []amfregistry.EnumMember{
		{Name: "HEARTS", Value: int32(hearts)},
		{Name: "SPADES", Value: int32(spades)},
		{Name: "CLUBS", Value: int32(clubs)},
		{Name: "DIAMONDS", Value: int32(diamonds)},
	}
}

func (suit) AmfAlias() string { return "Suit" }

type card struct {
	Rank string `amf:"rank"`
	Suit suit   `amf:"suit"`
}

type hand struct {
	Cards []card                 `amf:"cards"`
	Extra map[string]interface{} `amf:",inline"`
}

type narrow struct {
	Small int8 `amf:"small"`
}

type nonNullable struct {
	Name string `amf:"name"`
}

func newTestRegistry(t *testing.T) *amfregistry.Registry {
	t.Helper()
	reg, err := amfregistry.New(hand{}, card{}, suit(0), narrow{}, nonNullable{})
	if err != nil {
		t.Fatalf("registry construction failed: %v", err)
	}
	return reg
}

func TestDecodeObjectBindsNestedAndEnum(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)

	cardDesc, err := reg.ByType(reflect.TypeOf(card{}))
	if err != nil {
		t.Fatalf("ByType(card) failed: %v", err)
	}
	handDesc, err := reg.ByType(reflect.TypeOf(hand{}))
	if err != nil {
		t.Fatalf("ByType(hand) failed: %v", err)
	}

	cardObj := &amfvalue.Object{
		Trait: amfvalue.Trait{Alias: cardDesc.Alias, Members: cardDesc.MemberNames()},
		Fields: []amfvalue.Field{
			{Name: "rank", Value: amfvalue.String("Ace")},
			{Name: "suit", Value: amfvalue.String("HEARTS")},
		},
	}
	handObj := &amfvalue.Object{
		Trait: amfvalue.Trait{Alias: handDesc.Alias, Dynamic: true, Members: handDesc.MemberNames()},
		Fields: []amfvalue.Field{
			{Name: "cards", Value: &amfvalue.Array{Elements: []amfvalue.Value{cardObj}}},
			{Name: "note", Value: amfvalue.String("first hand")},
		},
	}

	decoded, err := b.DecodeObject(handObj)
	if err != nil {
		t.Fatalf("DecodeObject failed: %v", err)
	}
	h, ok := decoded.(*hand)
	if !ok {
		t.Fatalf("expected *hand, got %T", decoded)
	}
	if len(h.Cards) != 1 || h.Cards[0].Rank != "Ace" || h.Cards[0].Suit != hearts {
		t.Fatalf("expected one Ace of Hearts, got %+v", h.Cards)
	}
	if h.Extra["note"] != "first hand" {
		t.Errorf("expected dynamic extra note to reach the catch-all map, got %v", h.Extra)
	}
}

func TestDecodeUnknownEnumMemberIsContractViolation(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)
	cardDesc, _ := reg.ByType(reflect.TypeOf(card{}))
	cardObj := &amfvalue.Object{
		Trait: amfvalue.Trait{Alias: cardDesc.Alias, Members: cardDesc.MemberNames()},
		Fields: []amfvalue.Field{
			{Name: "rank", Value: amfvalue.String("Joker")},
			{Name: "suit", Value: amfvalue.String("STARS")},
		},
	}
	_, err := b.DecodeObject(cardObj)
	var cv *amfvalue.ContractViolationError
	if !errors.As(err, &cv) {
		t.Fatalf("expected ContractViolationError, got %v", err)
	}
}

func TestDecodeNullIntoNonNullableIsContractViolation(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)
	desc, _ := reg.ByType(reflect.TypeOf(nonNullable{}))
	obj := &amfvalue.Object{
		Trait:  amfvalue.Trait{Alias: desc.Alias, Members: desc.MemberNames()},
		Fields: []amfvalue.Field{{Name: "name", Value: amfvalue.Null{}}},
	}
	_, err := b.DecodeObject(obj)
	var cv *amfvalue.ContractViolationError
	if !errors.As(err, &cv) {
		t.Fatalf("expected ContractViolationError for Null into non-nullable string, got %v", err)
	}
}

func TestDecodeOverflowIsContractViolation(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)
	desc, _ := reg.ByType(reflect.TypeOf(narrow{}))
	obj := &amfvalue.Object{
		Trait:  amfvalue.Trait{Alias: desc.Alias, Members: desc.MemberNames()},
		Fields: []amfvalue.Field{{Name: "small", Value: amfvalue.Int(1000)}},
	}
	_, err := b.DecodeObject(obj)
	var cv *amfvalue.ContractViolationError
	if !errors.As(err, &cv) {
		t.Fatalf("expected ContractViolationError for int8 overflow, got %v", err)
	}
}

func TestDecodeUnmatchedFieldWithoutCatchAllIsDropped(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)
	desc, _ := reg.ByType(reflect.TypeOf(nonNullable{}))
	obj := &amfvalue.Object{
		Trait: amfvalue.Trait{Alias: desc.Alias, Members: desc.MemberNames()},
		Fields: []amfvalue.Field{
			{Name: "name", Value: amfvalue.String("ok")},
			{Name: "mystery", Value: amfvalue.String("unused")},
		},
	}
	decoded, err := b.DecodeObject(obj)
	if err != nil {
		t.Fatalf("expected an unmatched field with no catch-all to be silently dropped, got error: %v", err)
	}
	n := decoded.(*nonNullable)
	if n.Name != "ok" {
		t.Errorf("expected Name=ok, got %q", n.Name)
	}
}

func TestDecodeAnonymousObjectReturnsRawBag(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)
	obj := &amfvalue.Object{Fields: []amfvalue.Field{{Name: "x", Value: amfvalue.Int(1)}}}
	decoded, err := b.DecodeObject(obj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != amfvalue.Value(obj) {
		t.Errorf("expected an unaliased trait to return the raw bag unchanged")
	}
}

func TestDecodeUnknownAliasFails(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)
	obj := &amfvalue.Object{Trait: amfvalue.Trait{Alias: "nope.NoSuchType"}}
	_, err := b.DecodeObject(obj)
	var unk *amfvalue.UnknownTypeAliasError
	if !errors.As(err, &unk) {
		t.Fatalf("expected UnknownTypeAliasError, got %v", err)
	}
}

func TestEncodeValueRoundTripsThroughDecode(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)

	h := &hand{
		Cards: []card{{Rank: "Queen", Suit: spades}},
		Extra: map[string]interface{}{"note": "second hand"},
	}
	wire, err := b.EncodeValue(h)
	if err != nil {
		t.Fatalf("EncodeValue failed: %v", err)
	}
	obj, ok := wire.(*amfvalue.Object)
	if !ok {
		t.Fatalf("expected *amfvalue.Object, got %T", wire)
	}

	decoded, err := b.DecodeObject(obj)
	if err != nil {
		t.Fatalf("DecodeObject failed: %v", err)
	}
	got := decoded.(*hand)
	if len(got.Cards) != 1 || got.Cards[0].Rank != "Queen" || got.Cards[0].Suit != spades {
		t.Fatalf("expected round-tripped Queen of Spades, got %+v", got.Cards)
	}
	if got.Extra["note"] != "second hand" {
		t.Errorf("expected round-tripped dynamic extra, got %v", got.Extra)
	}
}

func TestEncodeUnregisteredTypeFails(t *testing.T) {
	reg := newTestRegistry(t)
	b := New(reg)
	type unregistered struct{ X int }
	_, err := b.EncodeValue(unregistered{X: 1})
	var ut *amfvalue.UnregisteredTypeError
	if !errors.As(err, &ut) {
		t.Fatalf("expected UnregisteredTypeError, got %v", err)
	}
}
