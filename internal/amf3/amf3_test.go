package amf3

import (
	"bytes"
	"errors"
	"testing"

	"github.com/DMA-Software/amfcodec/pkg/amfsession"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

func roundTrip(t *testing.T, v amfvalue.Value) amfvalue.Value {
	t.Helper()
	var buf bytes.Buffer
	if err := NewEncoder(&buf, amfsession.New(amfsession.AMF3, 0)).Encode(v); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := NewDecoder(&buf, amfsession.New(amfsession.AMF3, 0)).Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return got
}

func TestIntegerBoundaryScenarioS1(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf, amfsession.New(amfsession.AMF3, 0)).Encode(amfvalue.Int(127)); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := []byte{markerInteger, 0x7F}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Int(127) encoded as % x, want % x", buf.Bytes(), want)
	}
}

func TestIntegerBoundaryScenarioS2(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf, amfsession.New(amfsession.AMF3, 0)).Encode(amfvalue.Int(128)); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := []byte{markerInteger, 0x81, 0x00}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("Int(128) encoded as % x, want % x", buf.Bytes(), want)
	}
}

func TestIntegerOutOfU29RangePromotesToDouble(t *testing.T) {
	got := roundTrip(t, amfvalue.Int(1<<28))
	d, ok := got.(amfvalue.Double)
	if !ok {
		t.Fatalf("expected out-of-range Int to round-trip as Double, got %T", got)
	}
	if float64(d) != float64(1<<28) {
		t.Errorf("expected %v, got %v", float64(1<<28), d)
	}
}

func TestIntegerAtNegativeBoundary(t *testing.T) {
	got := roundTrip(t, amfvalue.Int(-(1 << 28)))
	if got != amfvalue.Int(-(1 << 28)) {
		t.Errorf("expected boundary Int to survive as Int, got %v", got)
	}
}

func TestStringTableInterning(t *testing.T) {
	sess := amfsession.New(amfsession.AMF3, 0)
	var buf bytes.Buffer
	enc := NewEncoder(&buf, sess)
	arr := &amfvalue.Array{Elements: []amfvalue.Value{amfvalue.String("dup"), amfvalue.String("dup")}}
	if err := enc.Encode(arr); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decSess := amfsession.New(amfsession.AMF3, 0)
	got, err := NewDecoder(&buf, decSess).Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	gotArr := got.(*amfvalue.Array)
	if gotArr.Elements[0] != amfvalue.String("dup") || gotArr.Elements[1] != amfvalue.String("dup") {
		t.Fatalf("expected both elements to decode as \"dup\", got %v", gotArr.Elements)
	}
}

func TestSelfCycleRoundTrips(t *testing.T) {
	obj := &amfvalue.Object{Trait: amfvalue.Trait{Alias: "Cyclic", Dynamic: true, Members: nil}}
	obj.Fields = []amfvalue.Field{{Name: "self", Value: obj}}

	var buf bytes.Buffer
	if err := NewEncoder(&buf, amfsession.New(amfsession.AMF3, 0)).Encode(obj); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := NewDecoder(&buf, amfsession.New(amfsession.AMF3, 0)).Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	gotObj := got.(*amfvalue.Object)
	self, ok := gotObj.FieldByName("self")
	if !ok {
		t.Fatalf("expected self field")
	}
	if self != amfvalue.Value(gotObj) {
		t.Fatalf("expected decoded self-cycle to point back at the same object")
	}
}

func TestTraitReuseAcrossManyObjects(t *testing.T) {
	trait := amfvalue.Trait{Alias: "Point", Members: []string{"x", "y"}}
	arr := &amfvalue.Array{}
	for i := 0; i < 130; i++ {
		arr.Elements = append(arr.Elements, &amfvalue.Object{
			Trait: trait,
			Fields: []amfvalue.Field{
				{Name: "x", Value: amfvalue.Int(int32(i))},
				{Name: "y", Value: amfvalue.Int(int32(-i))},
			},
		})
	}

	got := roundTrip(t, arr)
	gotArr := got.(*amfvalue.Array)
	if len(gotArr.Elements) != 130 {
		t.Fatalf("expected 130 elements, got %d", len(gotArr.Elements))
	}
	last := gotArr.Elements[129].(*amfvalue.Object)
	if last.Trait.Alias != "Point" || len(last.Trait.Members) != 2 {
		t.Errorf("expected trait reuse to preserve shape at index 129, got %+v", last.Trait)
	}
	x, _ := last.FieldByName("x")
	if x != amfvalue.Int(129) {
		t.Errorf("expected x=129, got %v", x)
	}
}

func TestEmptyAndSingletonArrays(t *testing.T) {
	got := roundTrip(t, &amfvalue.Array{})
	if len(got.(*amfvalue.Array).Elements) != 0 {
		t.Errorf("expected empty array to round-trip empty")
	}

	got = roundTrip(t, &amfvalue.Array{Elements: []amfvalue.Value{amfvalue.Bool(true)}})
	elems := got.(*amfvalue.Array).Elements
	if len(elems) != 1 || elems[0] != amfvalue.Bool(true) {
		t.Errorf("expected singleton array to round-trip, got %v", elems)
	}
}

func TestNonDynamicObjectWithNoSealedMembers(t *testing.T) {
	obj := &amfvalue.Object{Trait: amfvalue.Trait{Alias: "Empty"}}
	got := roundTrip(t, obj)
	gotObj := got.(*amfvalue.Object)
	if gotObj.Trait.Alias != "Empty" || gotObj.Trait.Dynamic || len(gotObj.Fields) != 0 {
		t.Errorf("expected empty non-dynamic object to round-trip unchanged, got %+v", gotObj)
	}
}

func TestExternalizableTraitRejectedOnEncode(t *testing.T) {
	obj := &amfvalue.Object{Trait: amfvalue.Trait{Alias: "Ext", Externalizable: true}}
	var buf bytes.Buffer
	err := NewEncoder(&buf, amfsession.New(amfsession.AMF3, 0)).Encode(obj)
	var unsupported *amfvalue.UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
}

func TestExternalizableTraitRejectedOnDecode(t *testing.T) {
	// handle: inline-object(bit0=1), inline-trait(bit1=1), externalizable(bit2=1)
	// => 0x07 as the low three bits, member count/alias irrelevant.
	var buf bytes.Buffer
	buf.WriteByte(markerObject)
	buf.WriteByte(0x07)
	buf.WriteByte(0x01) // empty alias string, inline, length 0

	_, err := NewDecoder(&buf, amfsession.New(amfsession.AMF3, 0)).Decode()
	var unsupported *amfvalue.UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
}

func TestDepthExceeded(t *testing.T) {
	// Build a chain of nested single-element arrays deeper than the limit.
	var v amfvalue.Value = &amfvalue.Array{}
	for i := 0; i < 10; i++ {
		v = &amfvalue.Array{Elements: []amfvalue.Value{v}}
	}
	var buf bytes.Buffer
	if err := NewEncoder(&buf, amfsession.New(amfsession.AMF3, 0)).Encode(v); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	_, err := NewDecoder(&buf, amfsession.New(amfsession.AMF3, 5)).Decode()
	if err != amfvalue.ErrDepthExceeded {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestByteArrayAndXMLDocRoundTrip(t *testing.T) {
	got := roundTrip(t, &amfvalue.ByteArray{Data: []byte{1, 2, 3}})
	ba := got.(*amfvalue.ByteArray)
	if !bytes.Equal(ba.Data, []byte{1, 2, 3}) {
		t.Errorf("expected byte array to round-trip, got %v", ba.Data)
	}

	got = roundTrip(t, &amfvalue.XMLDoc{Text: "<a>b</a>"})
	doc := got.(*amfvalue.XMLDoc)
	if doc.Text != "<a>b</a>" {
		t.Errorf("expected xml doc to round-trip, got %q", doc.Text)
	}
}

func TestDateRoundTrip(t *testing.T) {
	got := roundTrip(t, &amfvalue.Date{UTCMillis: 1717000000000})
	d := got.(*amfvalue.Date)
	if d.UTCMillis != 1717000000000 {
		t.Errorf("expected date to round-trip, got %v", d.UTCMillis)
	}
}

func TestUnknownMarker(t *testing.T) {
	buf := bytes.NewReader([]byte{0xFF})
	_, err := NewDecoder(buf, amfsession.New(amfsession.AMF3, 0)).Decode()
	var unk *amfvalue.UnknownMarkerError
	if !errors.As(err, &unk) {
		t.Fatalf("expected UnknownMarkerError, got %v", err)
	}
}
