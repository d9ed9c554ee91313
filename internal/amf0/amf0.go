// Package amf0 implements the AMF0 Codec component of spec.md §4.C: the
// 14 AMF0 value markers it decodes, the 16-bit object-reference table, and the
// AvmPlus (0x11) bridge into an isolated internal/amf3 session.
//
// This is a rewrite of _examples/DMA-Software-dma-gortmp/internal/amf0/amf0.go.
// The teacher's version never populates an object-reference table at all
// (every AMF0 Object/Array it decodes is a fresh, unlinked value, so a
// 0x07 Reference byte it encounters is simply unsupported); this version
// adds that table against pkg/amfsession so AMF0's own self-references and
// shared sub-objects round-trip correctly.
package amf0

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"

	"github.com/DMA-Software/amfcodec/internal/amf3"
	"github.com/DMA-Software/amfcodec/pkg/amfsession"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// Marker bytes, per spec.md §4.C.
const (
	markerNumber      = 0x00
	markerBoolean     = 0x01
	markerString      = 0x02
	markerObject      = 0x03
	markerMovieClip   = 0x04 // reserved, never emitted by Flash Player
	markerNull        = 0x05
	markerUndefined   = 0x06
	markerReference   = 0x07
	markerEcmaArray   = 0x08
	markerObjectEnd   = 0x09
	markerStrictArray = 0x0A
	markerDate        = 0x0B
	markerLongString  = 0x0C
	markerUnsupported = 0x0D // reserved
	markerRecordset   = 0x0E // reserved
	markerXMLDoc      = 0x0F
	markerTypedObject = 0x10
	markerAvmPlus     = 0x11
)

// Decoder reads AMF0 values from a byte stream against a shared Session.
type Decoder struct {
	r    io.Reader
	sess *amfsession.Session

	// DisallowBridge rejects the AvmPlus (0x11) marker with an
	// UnsupportedError instead of bridging into AMF3, for callers
	// configured with allow_version_switch=false (spec.md §6).
	DisallowBridge bool
}

// NewDecoder creates an AMF0 Decoder. sess must have Version ==
// amfsession.AMF0.
func NewDecoder(r io.Reader, sess *amfsession.Session) *Decoder {
	return &Decoder{r: r, sess: sess}
}

// Decode reads exactly one AMF0 value, including its leading marker byte.
// A clean end-of-stream before any byte of the marker is read is reported
// as io.EOF unchanged, so callers decoding a sequence of top-level values
// can tell "no more values" apart from ErrUnexpectedEOF ("truncated
// inside a value").
func (d *Decoder) Decode() (amfvalue.Value, error) {
	var buf [1]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, ioErr(err)
	}
	return d.decodeByMarker(buf[0])
}

func (d *Decoder) decodeByMarker(marker byte) (amfvalue.Value, error) {
	switch marker {
	case markerNumber:
		return d.decodeNumber()
	case markerBoolean:
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		return amfvalue.Bool(b != 0), nil
	case markerString:
		s, err := d.readUTF8(16)
		if err != nil {
			return nil, err
		}
		return amfvalue.String(s), nil
	case markerObject:
		return d.decodeObjectBody("")
	case markerMovieClip:
		return nil, &amfvalue.UnsupportedError{Feature: "AMF0 MovieClip marker"}
	case markerNull:
		return amfvalue.Null{}, nil
	case markerUndefined:
		return amfvalue.Undefined{}, nil
	case markerReference:
		return d.decodeReference()
	case markerEcmaArray:
		return d.decodeEcmaArray()
	case markerObjectEnd:
		return nil, &amfvalue.UnknownMarkerError{Marker: marker}
	case markerStrictArray:
		return d.decodeStrictArray()
	case markerDate:
		return d.decodeDate()
	case markerLongString:
		s, err := d.readUTF8(32)
		if err != nil {
			return nil, err
		}
		return amfvalue.String(s), nil
	case markerUnsupported:
		return nil, &amfvalue.UnsupportedError{Feature: "AMF0 Unsupported marker"}
	case markerRecordset:
		return nil, &amfvalue.UnsupportedError{Feature: "AMF0 Recordset marker"}
	case markerXMLDoc:
		return d.decodeXMLDoc()
	case markerTypedObject:
		alias, err := d.readUTF8(16)
		if err != nil {
			return nil, err
		}
		return d.decodeObjectBody(alias)
	case markerAvmPlus:
		return d.decodeAvmPlus()
	default:
		return nil, &amfvalue.UnknownMarkerError{Marker: marker}
	}
}

func (d *Decoder) decodeNumber() (amfvalue.Value, error) {
	var bits uint64
	if err := binary.Read(d.r, binary.BigEndian, &bits); err != nil {
		return nil, ioErr(err)
	}
	return amfvalue.Double(math.Float64frombits(bits)), nil
}

func (d *Decoder) decodeReference() (amfvalue.Value, error) {
	var idx uint16
	if err := binary.Read(d.r, binary.BigEndian, &idx); err != nil {
		return nil, ioErr(err)
	}
	return d.sess.ResolveObject(int(idx))
}

// decodeObjectBody reads an AMF0 anonymous-object property loop: a run of
// (name, value) pairs terminated by an empty name followed by the
// ObjectEnd marker. AMF0 has no separate sealed-member declaration, so
// every decoded property becomes part of the trait's Members list and the
// trait is always Dynamic — spec.md §9's Object/EcmaArray/TypedObject
// normalization decision (see DESIGN.md).
func (d *Decoder) decodeObjectBody(alias string) (amfvalue.Value, error) {
	if err := d.sess.EnterDepth(); err != nil {
		return nil, err
	}
	defer d.sess.ExitDepth()

	obj := &amfvalue.Object{Trait: amfvalue.Trait{Alias: alias, Dynamic: true}}
	d.sess.InternObject(obj)

	var fields []amfvalue.Field
	var members []string
	for {
		name, err := d.readUTF8(16)
		if err != nil {
			return nil, err
		}
		if name == "" {
			end, err := d.readByte()
			if err != nil {
				return nil, err
			}
			if end != markerObjectEnd {
				return nil, &amfvalue.UnknownMarkerError{Marker: end}
			}
			break
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		fields = append(fields, amfvalue.Field{Name: name, Value: val})
		members = append(members, name)
	}
	obj.Trait.Members = members
	obj.Fields = fields
	return obj, nil
}

// decodeEcmaArray decodes the same property loop as decodeObjectBody,
// after its leading associative-count hint, into the same *amfvalue.Object
// representation: spec.md §9 accepts losing the dense/associative-count
// wire fidelity of EcmaArray in exchange for a single normalized bag type.
func (d *Decoder) decodeEcmaArray() (amfvalue.Value, error) {
	var count uint32
	if err := binary.Read(d.r, binary.BigEndian, &count); err != nil {
		return nil, ioErr(err)
	}
	return d.decodeObjectBody("")
}

func (d *Decoder) decodeStrictArray() (amfvalue.Value, error) {
	var count uint32
	if err := binary.Read(d.r, binary.BigEndian, &count); err != nil {
		return nil, ioErr(err)
	}
	if err := d.sess.EnterDepth(); err != nil {
		return nil, err
	}
	defer d.sess.ExitDepth()

	arr := &amfvalue.Array{}
	d.sess.InternObject(arr)

	elements := make([]amfvalue.Value, 0, count)
	for i := uint32(0); i < count; i++ {
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		elements = append(elements, val)
	}
	arr.Elements = elements
	return arr, nil
}

func (d *Decoder) decodeDate() (amfvalue.Value, error) {
	var bits uint64
	if err := binary.Read(d.r, binary.BigEndian, &bits); err != nil {
		return nil, ioErr(err)
	}
	var tz int16
	if err := binary.Read(d.r, binary.BigEndian, &tz); err != nil {
		return nil, ioErr(err)
	}
	date := &amfvalue.Date{UTCMillis: math.Float64frombits(bits)}
	d.sess.InternObject(date)
	return date, nil
}

func (d *Decoder) decodeXMLDoc() (amfvalue.Value, error) {
	text, err := d.readUTF8(32)
	if err != nil {
		return nil, err
	}
	doc := &amfvalue.XMLDoc{Text: text}
	d.sess.InternObject(doc)
	return doc, nil
}

// decodeAvmPlus implements spec.md §4.E's Version Bridge: exactly one AMF3
// value, starting at the next byte, is decoded against a fresh, isolated
// amf3 Session that has this call's depth limit but none of its reference
// tables; the caller then continues at the byte after that value.
func (d *Decoder) decodeAvmPlus() (amfvalue.Value, error) {
	if d.DisallowBridge {
		return nil, &amfvalue.UnsupportedError{Feature: "AMF3 version bridge (AvmPlus marker) disallowed by configuration"}
	}
	bridgeSess := amfsession.New(amfsession.AMF3, d.sess.MaxDepth())
	return amf3.NewDecoder(d.r, bridgeSess).Decode()
}

// readUTF8 reads a length-prefixed UTF-8 string. lengthBits selects
// whether the length prefix is AMF0's normal 16-bit short-string form or
// LongString/XMLDocument's 32-bit form.
func (d *Decoder) readUTF8(lengthBits int) (string, error) {
	var length uint32
	switch lengthBits {
	case 16:
		var l uint16
		if err := binary.Read(d.r, binary.BigEndian, &l); err != nil {
			return "", ioErr(err)
		}
		length = uint32(l)
	case 32:
		if err := binary.Read(d.r, binary.BigEndian, &length); err != nil {
			return "", ioErr(err)
		}
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", ioErr(err)
	}
	if !utf8.Valid(buf) {
		return "", amfvalue.ErrInvalidUTF8
	}
	return string(buf), nil
}

func (d *Decoder) readByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, ioErr(err)
	}
	return buf[0], nil
}

func ioErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return amfvalue.ErrUnexpectedEOF
	}
	return amfvalue.WrapIo(err)
}
