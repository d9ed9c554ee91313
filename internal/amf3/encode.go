package amf3

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/DMA-Software/amfcodec/pkg/amfsession"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// Encoder writes AMF3 values to a byte stream against a shared Session.
type Encoder struct {
	w    io.Writer
	sess *amfsession.Session
}

// NewEncoder creates an AMF3 Encoder. sess must have Version ==
// amfsession.AMF3.
func NewEncoder(w io.Writer, sess *amfsession.Session) *Encoder {
	return &Encoder{w: w, sess: sess}
}

// Encode writes one AMF3 value, including its leading marker byte.
func (e *Encoder) Encode(v amfvalue.Value) error {
	switch val := v.(type) {
	case nil:
		return e.writeByte(markerNull)
	case amfvalue.Undefined:
		return e.writeByte(markerUndefined)
	case amfvalue.Null:
		return e.writeByte(markerNull)
	case amfvalue.Bool:
		if val {
			return e.writeByte(markerTrue)
		}
		return e.writeByte(markerFalse)
	case amfvalue.Int:
		if int32(val) < minInt29 || int32(val) > maxInt29 {
			return e.encodeDoubleValue(float64(val))
		}
		if err := e.writeByte(markerInteger); err != nil {
			return err
		}
		return e.writeU29(uint32(val) & maxU29)
	case amfvalue.Double:
		return e.encodeDoubleValue(float64(val))
	case amfvalue.String:
		if err := e.writeByte(markerString); err != nil {
			return err
		}
		return e.writeStringWithRef(string(val))
	case *amfvalue.XMLDoc:
		if err := e.writeByte(markerXMLDoc); err != nil {
			return err
		}
		return e.encodeXMLDoc(val)
	case *amfvalue.Date:
		if err := e.writeByte(markerDate); err != nil {
			return err
		}
		return e.encodeDate(val)
	case *amfvalue.ByteArray:
		if err := e.writeByte(markerByteArray); err != nil {
			return err
		}
		return e.encodeByteArray(val)
	case *amfvalue.Array:
		if err := e.writeByte(markerArray); err != nil {
			return err
		}
		return e.encodeArray(val)
	case *amfvalue.Object:
		if err := e.writeByte(markerObject); err != nil {
			return err
		}
		return e.encodeObject(val)
	default:
		return &amfvalue.UnsupportedError{Feature: fmt.Sprintf("AMF3 encode of %T", v)}
	}
}

func (e *Encoder) encodeDoubleValue(f float64) error {
	if err := e.writeByte(markerDouble); err != nil {
		return err
	}
	return binary.Write(e.w, binary.BigEndian, math.Float64bits(f))
}

func (e *Encoder) encodeDate(date *amfvalue.Date) error {
	if idx, ok := e.sess.FindObjectValue(date, amfvalue.SameComplexValue); ok {
		return e.writeU29(uint32(idx) << 1)
	}
	e.sess.InternObject(date)
	if err := e.writeU29(1); err != nil {
		return err
	}
	return binary.Write(e.w, binary.BigEndian, math.Float64bits(date.UTCMillis))
}

func (e *Encoder) encodeByteArray(ba *amfvalue.ByteArray) error {
	if idx, ok := e.sess.FindObjectValue(ba, amfvalue.SameComplexValue); ok {
		return e.writeU29(uint32(idx) << 1)
	}
	e.sess.InternObject(ba)
	if err := e.writeU29(uint32(len(ba.Data))<<1 | 1); err != nil {
		return err
	}
	_, err := e.w.Write(ba.Data)
	return err
}

func (e *Encoder) encodeXMLDoc(doc *amfvalue.XMLDoc) error {
	if idx, ok := e.sess.FindObjectValue(doc, amfvalue.SameComplexValue); ok {
		return e.writeU29(uint32(idx) << 1)
	}
	e.sess.InternObject(doc)
	data := []byte(doc.Text)
	if err := e.writeU29(uint32(len(data))<<1 | 1); err != nil {
		return err
	}
	_, err := e.w.Write(data)
	return err
}

func (e *Encoder) encodeArray(arr *amfvalue.Array) error {
	if idx, ok := e.sess.FindObjectIdentity(arr); ok {
		return e.writeU29(uint32(idx) << 1)
	}
	if err := e.sess.EnterDepth(); err != nil {
		return err
	}
	defer e.sess.ExitDepth()

	e.sess.InternObject(arr)

	if err := e.writeU29(uint32(len(arr.Elements))<<1 | 1); err != nil {
		return err
	}
	for _, f := range arr.Assoc {
		if err := e.writeStringWithRef(f.Name); err != nil {
			return err
		}
		if err := e.Encode(f.Value); err != nil {
			return err
		}
	}
	if err := e.writeStringWithRef(""); err != nil {
		return err
	}
	for _, el := range arr.Elements {
		if err := e.Encode(el); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeObject(obj *amfvalue.Object) error {
	if idx, ok := e.sess.FindObjectIdentity(obj); ok {
		return e.writeU29(uint32(idx) << 1)
	}
	if obj.Trait.Externalizable {
		return &amfvalue.UnsupportedError{Feature: "AMF3 externalizable trait"}
	}
	if err := e.sess.EnterDepth(); err != nil {
		return err
	}
	defer e.sess.ExitDepth()

	e.sess.InternObject(obj)

	if traitIdx, ok := e.sess.FindTrait(obj.Trait); ok {
		if err := e.writeU29(uint32(traitIdx)<<2 | 1); err != nil {
			return err
		}
	} else {
		handle := uint32(3) // bit0 inline-object, bit1 inline-trait
		if obj.Trait.Dynamic {
			handle |= 1 << 3
		}
		handle |= uint32(len(obj.Trait.Members)) << 4
		if err := e.writeU29(handle); err != nil {
			return err
		}
		if err := e.writeStringWithRef(obj.Trait.Alias); err != nil {
			return err
		}
		for _, m := range obj.Trait.Members {
			if err := e.writeStringWithRef(m); err != nil {
				return err
			}
		}
		e.sess.InternTrait(obj.Trait)
	}

	byName := make(map[string]amfvalue.Value, len(obj.Fields))
	for _, f := range obj.Fields {
		byName[f.Name] = f.Value
	}
	sealed := make(map[string]bool, len(obj.Trait.Members))
	for _, name := range obj.Trait.Members {
		sealed[name] = true
		val, ok := byName[name]
		if !ok {
			val = amfvalue.Undefined{}
		}
		if err := e.Encode(val); err != nil {
			return err
		}
	}

	if obj.Trait.Dynamic {
		for _, f := range obj.Fields {
			if sealed[f.Name] {
				continue
			}
			if err := e.writeStringWithRef(f.Name); err != nil {
				return err
			}
			if err := e.Encode(f.Value); err != nil {
				return err
			}
		}
		if err := e.writeStringWithRef(""); err != nil {
			return err
		}
	}
	return nil
}

// writeStringWithRef implements the encode side of spec.md §4.D's string
// payload rule: symmetric with Decoder.readStringWithRef.
func (e *Encoder) writeStringWithRef(s string) error {
	if s == "" {
		return e.writeU29(1)
	}
	if idx, ok := e.sess.FindString(s); ok {
		return e.writeU29(uint32(idx) << 1)
	}
	e.sess.InternString(s)
	if err := e.writeU29(uint32(len(s))<<1 | 1); err != nil {
		return err
	}
	_, err := e.w.Write([]byte(s))
	return err
}

// writeU29 encodes value (already masked to 29 bits by callers where the
// full 29-bit range applies) using the 1-4 byte scheme of spec.md §4.D,
// grounded on _examples/DMA-Software-dma-gortmp/internal/amf3/amf3.go's
// writeU29.
func (e *Encoder) writeU29(value uint32) error {
	value &= maxU29
	switch {
	case value < 0x80:
		return e.writeByte(byte(value))
	case value < 0x4000:
		if err := e.writeByte(byte((value >> 7) | 0x80)); err != nil {
			return err
		}
		return e.writeByte(byte(value & 0x7F))
	case value < 0x200000:
		if err := e.writeByte(byte((value >> 14) | 0x80)); err != nil {
			return err
		}
		if err := e.writeByte(byte(((value >> 7) & 0x7F) | 0x80)); err != nil {
			return err
		}
		return e.writeByte(byte(value & 0x7F))
	default:
		if err := e.writeByte(byte((value >> 22) | 0x80)); err != nil {
			return err
		}
		if err := e.writeByte(byte(((value >> 15) & 0x7F) | 0x80)); err != nil {
			return err
		}
		if err := e.writeByte(byte(((value >> 8) & 0x7F) | 0x80)); err != nil {
			return err
		}
		return e.writeByte(byte(value & 0xFF))
	}
}

func (e *Encoder) writeByte(b byte) error {
	_, err := e.w.Write([]byte{b})
	return err
}
