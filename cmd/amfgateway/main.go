// Command amfgateway is a minimal HTTP demonstration of the "service
// dispatcher" collaborator contract spec.md §6 describes as out of
// scope: something that reads a fully-buffered request body as an AMF
// packet, decodes it, and replies with an encoded AMF packet.
//
// Grounded on _examples/DMA-Software-dma-gortmp/pkg/rtmp/server.go's
// ServerConfig (an exported struct of listen address, timeouts, and
// event callbacks) and its graceful-shutdown-via-context shape from
// cmd/rtmp-server/main.go, adapted from a raw TCP accept loop to
// net/http.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DMA-Software/amfcodec/pkg/amfpacket"
	"github.com/DMA-Software/amfcodec/pkg/amfsession"
)

// GatewayConfig holds configuration for the demo HTTP gateway, following
// the same plain exported-field shape as rtmp.ServerConfig.
type GatewayConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      amfsession.Version
	MaxDepth     int
}

func main() {
	config := parseFlags()

	mux := http.NewServeMux()
	mux.HandleFunc("/amf", handlePacket(config))

	server := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("amfgateway: received shutdown signal, stopping server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("amfgateway: graceful shutdown failed: %v", err)
		}
		cancel()
	}()

	log.Printf("amfgateway: listening on %s", config.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("amfgateway: server failed: %v", err)
	}

	<-ctx.Done()
	log.Println("amfgateway: server stopped")
}

func parseFlags() *GatewayConfig {
	config := &GatewayConfig{}
	var versionStr string

	flag.StringVar(&config.Addr, "addr", ":8080", "HTTP listen address")
	flag.DurationVar(&config.ReadTimeout, "read-timeout", 10*time.Second, "Read timeout")
	flag.DurationVar(&config.WriteTimeout, "write-timeout", 10*time.Second, "Write timeout")
	flag.StringVar(&versionStr, "version", "amf0", "wire version: amf0 or amf3 (replies reuse the request envelope's version)")
	flag.IntVar(&config.MaxDepth, "max-depth", 0, "recursion depth limit (0 = default)")
	flag.Parse()

	if versionStr == "amf3" {
		config.Version = amfsession.AMF3
	} else {
		config.Version = amfsession.AMF0
	}
	return config
}

// handlePacket implements the collaborator contract of spec.md §6: it
// hands the framer a fully-read request body, gets back a decoded
// Envelope, and — since this demo has no real service logic to
// dispatch to — echoes an empty-body envelope of the same version back
// as the reply.
func handlePacket(config *GatewayConfig) http.HandlerFunc {
	opts := amfpacket.Options{MaxDepth: config.MaxDepth}
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		env, err := amfpacket.DecodeEnvelope(r.Body, opts)
		if err != nil {
			log.Printf("amfgateway: decode failed: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("amfgateway: decoded envelope version=%d headers=%d bodies=%d",
			env.Version, len(env.Headers), len(env.Bodies))

		reply := &amfpacket.Envelope{Version: env.Version}
		w.Header().Set("Content-Type", "application/x-amf")
		if err := amfpacket.EncodeEnvelope(w, reply, opts); err != nil {
			log.Printf("amfgateway: encode failed: %v", err)
		}
	}
}
