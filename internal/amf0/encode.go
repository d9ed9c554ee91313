package amf0

import (
	"encoding/binary"
	"fmt"
	"math"

	"io"

	"github.com/DMA-Software/amfcodec/internal/amf3"
	"github.com/DMA-Software/amfcodec/pkg/amfsession"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// Encoder writes AMF0 values to a byte stream against a shared Session.
type Encoder struct {
	w    io.Writer
	sess *amfsession.Session
}

// NewEncoder creates an AMF0 Encoder. sess must have Version ==
// amfsession.AMF0.
func NewEncoder(w io.Writer, sess *amfsession.Session) *Encoder {
	return &Encoder{w: w, sess: sess}
}

// Encode writes one AMF0 value, including its leading marker byte. AMF0
// has no native Integer marker, so an amfvalue.Int is always widened to
// Number, matching the promotion spec.md §4.D requires in the other
// direction when an AMF3 integer overflows U29.
func (e *Encoder) Encode(v amfvalue.Value) error {
	switch val := v.(type) {
	case nil:
		return e.writeByte(markerNull)
	case amfvalue.Null:
		return e.writeByte(markerNull)
	case amfvalue.Undefined:
		return e.writeByte(markerUndefined)
	case amfvalue.Bool:
		if err := e.writeByte(markerBoolean); err != nil {
			return err
		}
		if val {
			return e.writeByte(1)
		}
		return e.writeByte(0)
	case amfvalue.Int:
		return e.encodeNumber(float64(val))
	case amfvalue.Double:
		return e.encodeNumber(float64(val))
	case amfvalue.String:
		return e.encodeString(string(val))
	case *amfvalue.Date:
		return e.encodeDate(val)
	case *amfvalue.XMLDoc:
		return e.encodeXMLDoc(val)
	case *amfvalue.Array:
		return e.encodeStrictArray(val)
	case *amfvalue.Object:
		return e.encodeObject(val)
	default:
		return &amfvalue.UnsupportedError{Feature: fmt.Sprintf("AMF0 encode of %T", v)}
	}
}

func (e *Encoder) encodeNumber(f float64) error {
	if err := e.writeByte(markerNumber); err != nil {
		return err
	}
	return binary.Write(e.w, binary.BigEndian, math.Float64bits(f))
}

func (e *Encoder) encodeString(s string) error {
	data := []byte(s)
	if len(data) > 0xFFFF {
		if err := e.writeByte(markerLongString); err != nil {
			return err
		}
		return e.writeUTF8(data, 32)
	}
	if err := e.writeByte(markerString); err != nil {
		return err
	}
	return e.writeUTF8(data, 16)
}

func (e *Encoder) encodeDate(date *amfvalue.Date) error {
	if idx, ok := e.sess.FindObjectValue(date, amfvalue.SameComplexValue); ok {
		return e.writeReference(idx)
	}
	if err := e.writeByte(markerDate); err != nil {
		return err
	}
	e.sess.InternObject(date)
	if err := binary.Write(e.w, binary.BigEndian, math.Float64bits(date.UTCMillis)); err != nil {
		return err
	}
	return binary.Write(e.w, binary.BigEndian, int16(0))
}

func (e *Encoder) encodeXMLDoc(doc *amfvalue.XMLDoc) error {
	if idx, ok := e.sess.FindObjectValue(doc, amfvalue.SameComplexValue); ok {
		return e.writeReference(idx)
	}
	if err := e.writeByte(markerXMLDoc); err != nil {
		return err
	}
	e.sess.InternObject(doc)
	return e.writeUTF8([]byte(doc.Text), 32)
}

func (e *Encoder) encodeStrictArray(arr *amfvalue.Array) error {
	if idx, ok := e.sess.FindObjectIdentity(arr); ok {
		return e.writeReference(idx)
	}
	if err := e.sess.EnterDepth(); err != nil {
		return err
	}
	defer e.sess.ExitDepth()

	if err := e.writeByte(markerStrictArray); err != nil {
		return err
	}
	e.sess.InternObject(arr)
	if err := binary.Write(e.w, binary.BigEndian, uint32(len(arr.Elements))); err != nil {
		return err
	}
	for _, el := range arr.Elements {
		if err := e.Encode(el); err != nil {
			return err
		}
	}
	return nil
}

// encodeObject writes a plain Object (0x03) if the trait carries no alias,
// or a TypedObject (0x10) otherwise. Every field is written through the
// flat key/value property loop AMF0 uses for both forms; AMF0 has no
// sealed-member positional encoding, so obj.Trait.Members only matters to
// the Object Binder, not to this wire layout.
func (e *Encoder) encodeObject(obj *amfvalue.Object) error {
	if idx, ok := e.sess.FindObjectIdentity(obj); ok {
		return e.writeReference(idx)
	}
	if err := e.sess.EnterDepth(); err != nil {
		return err
	}
	defer e.sess.ExitDepth()

	if obj.Trait.Alias != "" {
		if err := e.writeByte(markerTypedObject); err != nil {
			return err
		}
		if err := e.writeUTF8([]byte(obj.Trait.Alias), 16); err != nil {
			return err
		}
	} else {
		if err := e.writeByte(markerObject); err != nil {
			return err
		}
	}
	e.sess.InternObject(obj)

	for _, f := range obj.Fields {
		if err := e.writeUTF8([]byte(f.Name), 16); err != nil {
			return err
		}
		if err := e.Encode(f.Value); err != nil {
			return err
		}
	}
	if err := e.writeUTF8(nil, 16); err != nil {
		return err
	}
	return e.writeByte(markerObjectEnd)
}

// EncodeBridged writes the AvmPlus (0x11) marker followed by v encoded as
// a single AMF3 value against a fresh, isolated session — the encode-side
// half of spec.md §4.E's Version Bridge.
func (e *Encoder) EncodeBridged(v amfvalue.Value) error {
	if err := e.writeByte(markerAvmPlus); err != nil {
		return err
	}
	bridgeSess := amfsession.New(amfsession.AMF3, e.sess.MaxDepth())
	return amf3.NewEncoder(e.w, bridgeSess).Encode(v)
}

func (e *Encoder) writeReference(idx int) error {
	if err := e.writeByte(markerReference); err != nil {
		return err
	}
	return binary.Write(e.w, binary.BigEndian, uint16(idx))
}

// writeUTF8 writes a length-prefixed string using either AMF0's normal
// 16-bit short-string form or LongString/XMLDocument's 32-bit form.
func (e *Encoder) writeUTF8(data []byte, lengthBits int) error {
	switch lengthBits {
	case 16:
		if err := binary.Write(e.w, binary.BigEndian, uint16(len(data))); err != nil {
			return err
		}
	case 32:
		if err := binary.Write(e.w, binary.BigEndian, uint32(len(data))); err != nil {
			return err
		}
	}
	if len(data) == 0 {
		return nil
	}
	_, err := e.w.Write(data)
	return err
}

func (e *Encoder) writeByte(b byte) error {
	_, err := e.w.Write([]byte{b})
	return err
}
