// Package amfcodec is the programmatic surface of spec.md §6: one
// long-lived Codec instance wiring the Schema Registry (pkg/amfregistry),
// Session State (pkg/amfsession), the AMF0/AMF3 codecs
// (internal/amf0, internal/amf3), and the Object Binder (pkg/amfbind)
// into New/Encode/Decode/IsStartMarker.
//
// The Options struct follows the same plain-struct-literal configuration
// idiom as _examples/DMA-Software-dma-gortmp/pkg/rtmp's ServerConfig and
// ClientConfig: exported fields, zero value meaning "use the default,"
// no builder methods.
package amfcodec

import (
	"bufio"
	"io"

	"github.com/DMA-Software/amfcodec/internal/amf0"
	"github.com/DMA-Software/amfcodec/internal/amf3"
	"github.com/DMA-Software/amfcodec/pkg/amfbind"
	"github.com/DMA-Software/amfcodec/pkg/amfregistry"
	"github.com/DMA-Software/amfcodec/pkg/amfsession"
	"github.com/DMA-Software/amfcodec/pkg/amfvalue"
)

// Options configures a Codec instance, per spec.md §6.
type Options struct {
	// Version is the wire format this Codec's top-level Encode/Decode
	// calls use.
	Version amfsession.Version
	// AllowVersionSwitch permits an AMF0-configured Codec to bridge into
	// AMF3 on encountering the AvmPlus marker (spec.md §4.E). It has no
	// effect when Version is AMF3, since AMF3 never bridges into AMF0.
	AllowVersionSwitch bool
	// MaxDepth bounds recursion; 0 selects amfsession.DefaultMaxDepth.
	MaxDepth int
}

// Codec is one configured encode/decode surface over a fixed set of
// registered types. It is immutable and safe for concurrent use after
// New returns, per spec.md §5 — every Encode/Decode call allocates its
// own Session State.
type Codec struct {
	reg    *amfregistry.Registry
	binder *amfbind.Binder
	opts   Options
}

// New builds a Codec. root and knownTypes are struct/enum samples used
// only for their reflect.Type, exactly as pkg/amfregistry.New expects.
func New(root interface{}, knownTypes []interface{}, opts Options) (*Codec, error) {
	reg, err := amfregistry.New(root, knownTypes...)
	if err != nil {
		return nil, err
	}
	return &Codec{reg: reg, binder: amfbind.New(reg), opts: opts}, nil
}

// Encode writes value to sink using this Codec's configured version.
// value may be a registered struct (or pointer to one), a raw
// amfvalue.Value, or a Go primitive/slice/map.
func (c *Codec) Encode(value interface{}, sink io.Writer) error {
	wire, err := c.binder.EncodeValue(value)
	if err != nil {
		return err
	}
	sess := amfsession.New(c.opts.Version, c.opts.MaxDepth)
	if c.opts.Version == amfsession.AMF3 {
		return amf3.NewEncoder(sink, sess).Encode(wire)
	}
	return amf0.NewEncoder(sink, sess).Encode(wire)
}

// EncodeBridged writes the AvmPlus marker followed by value encoded as
// AMF3, per spec.md §4.E's encode direction. It requires this Codec be
// configured for AMF0 — the bridge only ever hands control from AMF0 to
// AMF3, never the reverse.
func (c *Codec) EncodeBridged(value interface{}, sink io.Writer) error {
	if c.opts.Version != amfsession.AMF0 {
		return &amfvalue.UnsupportedError{Feature: "EncodeBridged requires a Codec configured for AMF0"}
	}
	wire, err := c.binder.EncodeValue(value)
	if err != nil {
		return err
	}
	sess := amfsession.New(amfsession.AMF0, c.opts.MaxDepth)
	return amf0.NewEncoder(sink, sess).EncodeBridged(wire)
}

// Decode reads exactly one value from source. A decoded Object whose
// trait carries a registered alias comes back as a pointer to that Go
// type, and one whose alias is not registered fails with
// UnknownTypeAliasError; every other value comes back as its raw
// amfvalue.Value.
func (c *Codec) Decode(source io.Reader) (interface{}, error) {
	sess := amfsession.New(c.opts.Version, c.opts.MaxDepth)

	var value amfvalue.Value
	var err error
	if c.opts.Version == amfsession.AMF3 {
		value, err = amf3.NewDecoder(source, sess).Decode()
	} else {
		d := amf0.NewDecoder(source, sess)
		d.DisallowBridge = !c.opts.AllowVersionSwitch
		value, err = d.Decode()
	}
	if err != nil {
		return nil, err
	}

	if obj, ok := value.(*amfvalue.Object); ok {
		return c.binder.DecodeObject(obj)
	}
	return value, nil
}

// IsStartMarker peeks at the next byte of source without consuming it
// and reports whether it is a marker byte this Codec's configured
// version recognizes as the start of a value, per spec.md §6 ("used by
// framed transports"). The AMF0 reserved markers (0x04, 0x0D, 0x0E) and
// ObjectEnd (0x09) are not start markers.
func (c *Codec) IsStartMarker(source *bufio.Reader) (bool, error) {
	b, err := source.Peek(1)
	if err != nil {
		return false, ioErr(err)
	}
	marker := b[0]
	if c.opts.Version == amfsession.AMF3 {
		return marker <= 0x0C, nil
	}
	switch marker {
	case 0x04, 0x09, 0x0D, 0x0E:
		return false, nil
	}
	return marker <= 0x11, nil
}

func ioErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return amfvalue.ErrUnexpectedEOF
	}
	return amfvalue.WrapIo(err)
}
