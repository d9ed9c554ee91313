// Package amf3 implements the AMF3 Codec component of spec.md §4.D: the
// 13 AMF3 markers, the U29 variable-length integer, the three session
// reference tables (object/string/trait), and trait inlining.
//
// This is a rewrite of _examples/DMA-Software-dma-gortmp/internal/amf3/amf3.go
// grounded on its U29 and string-reference-table helpers, but built against
// pkg/amfvalue and pkg/amfsession instead of ad hoc Go types so it can
// resolve trait references, distinguish sealed from dynamic members, and
// preserve self-cycles — none of which the teacher's version does.
package amf3

import (
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"

	"github.com/DMA-Software/amfcodec/pkg/amfsession"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// Marker bytes, per spec.md §4.D.
const (
	markerUndefined    = 0x00
	markerNull         = 0x01
	markerFalse        = 0x02
	markerTrue         = 0x03
	markerInteger      = 0x04
	markerDouble       = 0x05
	markerString       = 0x06
	markerXMLDoc       = 0x07
	markerDate         = 0x08
	markerArray        = 0x09
	markerObject       = 0x0A
	markerXML          = 0x0B
	markerByteArray    = 0x0C
	minInt29           = -(1 << 28)
	maxInt29           = (1 << 28) - 1
	maxU29             = (1 << 29) - 1
)

// Decoder reads AMF3 values from a byte stream against a shared Session.
type Decoder struct {
	r    io.Reader
	sess *amfsession.Session
}

// NewDecoder creates an AMF3 Decoder. sess must have Version ==
// amfsession.AMF3.
func NewDecoder(r io.Reader, sess *amfsession.Session) *Decoder {
	return &Decoder{r: r, sess: sess}
}

// Decode reads exactly one AMF3 value, including its leading marker byte.
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
	case markerUndefined:
		return amfvalue.Undefined{}, nil
	case markerNull:
		return amfvalue.Null{}, nil
	case markerFalse:
		return amfvalue.Bool(false), nil
	case markerTrue:
		return amfvalue.Bool(true), nil
	case markerInteger:
		return d.decodeInteger()
	case markerDouble:
		return d.decodeDouble()
	case markerString:
		s, err := d.readStringWithRef()
		if err != nil {
			return nil, err
		}
		return amfvalue.String(s), nil
	case markerXMLDoc, markerXML:
		return d.decodeXMLDoc()
	case markerDate:
		return d.decodeDate()
	case markerArray:
		return d.decodeArray()
	case markerObject:
		return d.decodeObject()
	case markerByteArray:
		return d.decodeByteArray()
	default:
		return nil, &amfvalue.UnknownMarkerError{Marker: marker}
	}
}

func (d *Decoder) decodeInteger() (amfvalue.Value, error) {
	u, err := d.readU29()
	if err != nil {
		return nil, err
	}
	return amfvalue.Int(signExtend29(u)), nil
}

// signExtend29 reinterprets the low 29 bits of u as a signed two's
// complement number, per spec.md §4.D.
func signExtend29(u uint32) int32 {
	u &= maxU29
	if u&(1<<28) != 0 {
		return int32(u) - (1 << 29)
	}
	return int32(u)
}

func (d *Decoder) decodeDouble() (amfvalue.Value, error) {
	var bits uint64
	if err := binary.Read(d.r, binary.BigEndian, &bits); err != nil {
		return nil, ioErr(err)
	}
	return amfvalue.Double(math.Float64frombits(bits)), nil
}

func (d *Decoder) decodeDate() (amfvalue.Value, error) {
	handle, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if handle&1 == 0 {
		v, err := d.sess.ResolveObject(int(handle >> 1))
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	date := &amfvalue.Date{}
	d.sess.InternObject(date)

	var bits uint64
	if err := binary.Read(d.r, binary.BigEndian, &bits); err != nil {
		return nil, ioErr(err)
	}
	date.UTCMillis = math.Float64frombits(bits)
	return date, nil
}

func (d *Decoder) decodeByteArray() (amfvalue.Value, error) {
	handle, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if handle&1 == 0 {
		v, err := d.sess.ResolveObject(int(handle >> 1))
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	ba := &amfvalue.ByteArray{}
	d.sess.InternObject(ba)

	length := handle >> 1
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, ioErr(err)
	}
	ba.Data = buf
	return ba, nil
}

func (d *Decoder) decodeXMLDoc() (amfvalue.Value, error) {
	handle, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if handle&1 == 0 {
		v, err := d.sess.ResolveObject(int(handle >> 1))
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	doc := &amfvalue.XMLDoc{}
	d.sess.InternObject(doc)

	length := handle >> 1
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, ioErr(err)
	}
	if !utf8.Valid(buf) {
		return nil, amfvalue.ErrInvalidUTF8
	}
	doc.Text = string(buf)
	return doc, nil
}

func (d *Decoder) decodeArray() (amfvalue.Value, error) {
	handle, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if handle&1 == 0 {
		v, err := d.sess.ResolveObject(int(handle >> 1))
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	if err := d.sess.EnterDepth(); err != nil {
		return nil, err
	}
	defer d.sess.ExitDepth()

	denseLen := handle >> 1
	arr := &amfvalue.Array{}
	d.sess.InternObject(arr)

	// Associative run: (string key, value) pairs until the empty key.
	for {
		key, err := d.readStringWithRef()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		arr.Assoc = append(arr.Assoc, amfvalue.Field{Name: key, Value: val})
	}

	elements := make([]amfvalue.Value, 0, denseLen)
	for i := uint32(0); i < denseLen; i++ {
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		elements = append(elements, val)
	}
	arr.Elements = elements

	return arr, nil
}

func (d *Decoder) decodeObject() (amfvalue.Value, error) {
	handle, err := d.readU29()
	if err != nil {
		return nil, err
	}
	if handle&1 == 0 {
		v, err := d.sess.ResolveObject(int(handle >> 1))
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	if err := d.sess.EnterDepth(); err != nil {
		return nil, err
	}
	defer d.sess.ExitDepth()

	var trait amfvalue.Trait
	if (handle>>1)&1 == 0 {
		// Trait reference: (handle >> 2) is the trait table index.
		trait, err = d.sess.ResolveTrait(int(handle >> 2))
		if err != nil {
			return nil, err
		}
	} else {
		if (handle>>2)&1 != 0 {
			return nil, &amfvalue.UnsupportedError{Feature: "AMF3 externalizable trait"}
		}
		dynamic := (handle>>3)&1 != 0
		memberCount := int(handle >> 4)

		alias, err := d.readStringWithRef()
		if err != nil {
			return nil, err
		}
		members := make([]string, memberCount)
		for i := 0; i < memberCount; i++ {
			m, err := d.readStringWithRef()
			if err != nil {
				return nil, err
			}
			members[i] = m
		}
		trait = amfvalue.Trait{Alias: alias, Dynamic: dynamic, Members: members}
		d.sess.InternTrait(trait)
	}

	obj := &amfvalue.Object{Trait: trait}
	d.sess.InternObject(obj)

	fields := make([]amfvalue.Field, 0, len(trait.Members))
	for _, name := range trait.Members {
		val, err := d.Decode()
		if err != nil {
			return nil, err
		}
		fields = append(fields, amfvalue.Field{Name: name, Value: val})
	}

	if trait.Dynamic {
		for {
			key, err := d.readStringWithRef()
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			val, err := d.Decode()
			if err != nil {
				return nil, err
			}
			fields = append(fields, amfvalue.Field{Name: key, Value: val})
		}
	}
	obj.Fields = fields

	return obj, nil
}

// readStringWithRef implements spec.md §4.D's string payload rule: the
// empty string is always inline and never interned; a non-empty inline
// string is appended to the string table in first-seen order; otherwise
// the handle names a string-table index.
func (d *Decoder) readStringWithRef() (string, error) {
	handle, err := d.readU29()
	if err != nil {
		return "", err
	}
	if handle&1 == 0 {
		return d.sess.ResolveString(int(handle >> 1))
	}
	length := handle >> 1
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
	s := string(buf)
	d.sess.InternString(s)
	return s, nil
}

// readU29 decodes the 1-4 byte variable-length unsigned integer described
// in spec.md §4.D. The first three bytes use their high bit as a
// continuation flag; the fourth, if reached, supplies all 8 of its
// remaining bits as data with no continuation flag of its own, so the
// format caps at exactly 4 bytes by construction. There is no byte
// sequence that can signal "read a 5th byte" — amfvalue.ErrMalformedU29
// stays in the error taxonomy for spec.md §7 completeness but this
// decoder can never return it.
func (d *Decoder) readU29() (uint32, error) {
	var result uint32
	for i := 0; i < 3; i++ {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		result = (result << 7) | uint32(b&0x7F)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	return (result << 8) | uint32(b), nil
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
