// Command amfdump decodes a stream of AMF0 or AMF3 values from a file (or
// stdin) and prints each one as indented JSON, one value per top-level
// stream position, until EOF.
//
// Grounded on _examples/DMA-Software-dma-gortmp/cmd/rtmp-server/main.go's
// flag/log conventions (flag.StringVar, log.Fatalf); no JSON library
// appears anywhere in the retrieved pack, so encoding/json is the stdlib
// default for the printer.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"

	"github.com/DMA-Software/amfcodec/pkg/amfcodec"
	"github.com/DMA-Software/amfcodec/pkg/amfsession"
)

// placeholder is the Codec's registered root type. amfdump registers no
// types of its own — every value it prints comes back as a raw
// amfvalue.Value, and a typed object whose alias is not registered fails
// to decode — but pkg/amfcodec.New still requires a root sample to build
// its Registry against.
type placeholder struct{}

func main() {
	var (
		inPath     string
		versionStr string
		maxDepth   int
	)
	flag.StringVar(&inPath, "in", "", "input file to decode (default: stdin)")
	flag.StringVar(&versionStr, "version", "amf0", "wire version to decode: amf0 or amf3")
	flag.IntVar(&maxDepth, "max-depth", 0, "recursion depth limit (0 = default)")
	flag.Parse()

	version, err := parseVersion(versionStr)
	if err != nil {
		log.Fatalf("amfdump: %v", err)
	}

	in := os.Stdin
	if inPath != "" {
		f, err := os.Open(inPath)
		if err != nil {
			log.Fatalf("amfdump: failed to open %s: %v", inPath, err)
		}
		defer f.Close()
		in = f
	}

	codec, err := amfcodec.New(placeholder{}, nil, amfcodec.Options{
		Version:            version,
		AllowVersionSwitch: true,
		MaxDepth:           maxDepth,
	})
	if err != nil {
		log.Fatalf("amfdump: failed to build codec: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	count := 0
	for {
		value, err := codec.Decode(in)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("amfdump: decode failed after %d value(s): %v", count, err)
		}
		if err := enc.Encode(value); err != nil {
			log.Fatalf("amfdump: failed to print decoded value: %v", err)
		}
		count++
	}
	log.Printf("amfdump: decoded %d value(s)", count)
}

func parseVersion(s string) (amfsession.Version, error) {
	switch s {
	case "amf0":
		return amfsession.AMF0, nil
	case "amf3":
		return amfsession.AMF3, nil
	default:
		return 0, &unknownVersionError{s}
	}
}

type unknownVersionError struct{ value string }

func (e *unknownVersionError) Error() string {
	return "unknown -version " + e.value + " (want amf0 or amf3)"
}
