// Package amfpacket implements the Packet Framer component of spec.md
// §4.F: the envelope of version, header/body counts, and per-payload
// length honesty checks, layered on top of the AMF0/AMF3 codecs.
//
// The envelope's big-endian length-prefixed layout follows the same
// idiom internal/amf0's writeUTF8/readUTF8 already use for strings,
// generalized to whole header/body records. Reference-table reset
// between every header and body (spec.md §4.B) is not a method call
// here — it falls out of allocating a brand-new amfsession.Session for
// every single payload, matching spec.md §3's Session lifecycle rule.
package amfpacket

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/DMA-Software/amfcodec/internal/amf0"
	"github.com/DMA-Software/amfcodec/internal/amf3"
	"github.com/DMA-Software/amfcodec/pkg/amfsession"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// UnknownLength is the payload_len sentinel meaning "read the payload's
// own framing; do not verify a declared length."
const UnknownLength = 0xFFFFFFFF

// Header is one envelope header record.
type Header struct {
	Name           string
	MustUnderstand bool
	Value          amfvalue.Value
}

// Body is one envelope body record.
type Body struct {
	Target   string
	Response string
	Value    amfvalue.Value
}

// Envelope is the full decoded packet of spec.md §4.F.
type Envelope struct {
	Version amfsession.Version
	// Headers is keyed by Header.Name: DecodeEnvelope collapses a
	// repeated name to its last occurrence on the wire (spec.md §3),
	// so at most one entry per name ever survives decode. The slice
	// shape preserves first-seen ordering; EncodeEnvelope does not
	// re-enforce uniqueness on write.
	Headers []Header
	Bodies  []Body
}

// Options configures framing behavior not fixed by the wire format
// itself.
type Options struct {
	// MaxDepth bounds recursion within each payload; 0 selects
	// amfsession.DefaultMaxDepth.
	MaxDepth int
	// EmitTrueLength makes Encode compute and write each payload's real
	// byte length instead of the UnknownLength sentinel.
	EmitTrueLength bool
}

// DecodeEnvelope reads one full envelope from r.
func DecodeEnvelope(r io.Reader, opts Options) (*Envelope, error) {
	var version uint16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, ioErr(err)
	}
	env := &Envelope{Version: amfsession.Version(version)}

	headerCount, err := readU16(r)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int, headerCount)
	for i := uint16(0); i < headerCount; i++ {
		h, err := decodeHeader(r, env.Version, opts.MaxDepth)
		if err != nil {
			return nil, err
		}
		// spec.md §3: headers form a mapping keyed by name, and a
		// later header with the same name wins.
		if idx, ok := byName[h.Name]; ok {
			env.Headers[idx] = *h
			continue
		}
		byName[h.Name] = len(env.Headers)
		env.Headers = append(env.Headers, *h)
	}

	bodyCount, err := readU16(r)
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < bodyCount; i++ {
		b, err := decodeBody(r, env.Version, opts.MaxDepth)
		if err != nil {
			return nil, err
		}
		env.Bodies = append(env.Bodies, *b)
	}
	return env, nil
}

func decodeHeader(r io.Reader, version amfsession.Version, maxDepth int) (*Header, error) {
	name, err := readString16(r)
	if err != nil {
		return nil, err
	}
	mustUnderstandByte, err := readByte(r)
	if err != nil {
		return nil, err
	}
	value, err := decodePayload(r, version, maxDepth)
	if err != nil {
		return nil, err
	}
	return &Header{Name: name, MustUnderstand: mustUnderstandByte != 0, Value: value}, nil
}

func decodeBody(r io.Reader, version amfsession.Version, maxDepth int) (*Body, error) {
	target, err := readString16(r)
	if err != nil {
		return nil, err
	}
	response, err := readString16(r)
	if err != nil {
		return nil, err
	}
	value, err := decodePayload(r, version, maxDepth)
	if err != nil {
		return nil, err
	}
	return &Body{Target: target, Response: response, Value: value}, nil
}

// decodePayload implements spec.md §4.F's payload_len honesty check: a
// declared length other than UnknownLength must equal the bytes the
// payload's own codec actually consumes.
func decodePayload(r io.Reader, version amfsession.Version, maxDepth int) (amfvalue.Value, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, ioErr(err)
	}
	sess := amfsession.New(version, maxDepth)

	if length == UnknownLength {
		return decodeOne(r, sess, version)
	}

	var seen bytes.Buffer
	value, err := decodeOne(io.TeeReader(r, &seen), sess, version)
	if err != nil {
		return nil, err
	}
	if seen.Len() != int(length) {
		return nil, &amfvalue.LengthMismatchError{Declared: int(length), Actual: seen.Len()}
	}
	return value, nil
}

func decodeOne(r io.Reader, sess *amfsession.Session, version amfsession.Version) (amfvalue.Value, error) {
	if version == amfsession.AMF3 {
		return amf3.NewDecoder(r, sess).Decode()
	}
	return amf0.NewDecoder(r, sess).Decode()
}

// EncodeEnvelope writes env to w.
func EncodeEnvelope(w io.Writer, env *Envelope, opts Options) error {
	if err := binary.Write(w, binary.BigEndian, uint16(env.Version)); err != nil {
		return err
	}
	if err := writeU16(w, len(env.Headers)); err != nil {
		return err
	}
	for _, h := range env.Headers {
		if err := encodeHeader(w, h, env.Version, opts); err != nil {
			return err
		}
	}
	if err := writeU16(w, len(env.Bodies)); err != nil {
		return err
	}
	for _, b := range env.Bodies {
		if err := encodeBody(w, b, env.Version, opts); err != nil {
			return err
		}
	}
	return nil
}

func encodeHeader(w io.Writer, h Header, version amfsession.Version, opts Options) error {
	if err := writeString16(w, h.Name); err != nil {
		return err
	}
	var mu byte
	if h.MustUnderstand {
		mu = 1
	}
	if err := writeByte(w, mu); err != nil {
		return err
	}
	return encodePayload(w, h.Value, version, opts)
}

func encodeBody(w io.Writer, b Body, version amfsession.Version, opts Options) error {
	if err := writeString16(w, b.Target); err != nil {
		return err
	}
	if err := writeString16(w, b.Response); err != nil {
		return err
	}
	return encodePayload(w, b.Value, version, opts)
}

func encodePayload(w io.Writer, v amfvalue.Value, version amfsession.Version, opts Options) error {
	sess := amfsession.New(version, opts.MaxDepth)

	if !opts.EmitTrueLength {
		if err := binary.Write(w, binary.BigEndian, uint32(UnknownLength)); err != nil {
			return err
		}
		return encodeOne(w, v, sess, version)
	}

	var buf bytes.Buffer
	if err := encodeOne(&buf, v, sess, version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(buf.Len())); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func encodeOne(w io.Writer, v amfvalue.Value, sess *amfsession.Session, version amfsession.Version) error {
	if version == amfsession.AMF3 {
		return amf3.NewEncoder(w, sess).Encode(v)
	}
	return amf0.NewEncoder(w, sess).Encode(v)
}

func readU16(r io.Reader) (uint16, error) {
	var v uint16
	if err := binary.Read(r, binary.BigEndian, &v); err != nil {
		return 0, ioErr(err)
	}
	return v, nil
}

func writeU16(w io.Writer, n int) error {
	return binary.Write(w, binary.BigEndian, uint16(n))
}

func readString16(r io.Reader) (string, error) {
	length, err := readU16(r)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ioErr(err)
	}
	return string(buf), nil
}

func writeString16(w io.Writer, s string) error {
	if err := writeU16(w, len(s)); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	_, err := w.Write([]byte(s))
	return err
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ioErr(err)
	}
	return buf[0], nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func ioErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return amfvalue.ErrUnexpectedEOF
	}
	return amfvalue.WrapIo(err)
}
