package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/receiver"
	"github.com/banshee-data/depthlink/internal/sink"
	"github.com/banshee-data/depthlink/internal/version"
)

var (
	listen      = flag.String("listen", ":8081", "HTTP listen address for debug pages")
	tcpAddr     = flag.String("tcp", ":5005", "TCP listen address for stream captures (empty disables)")
	udpAddr     = flag.String("udp", ":5005", "UDP listen address for datagram captures (empty disables)")
	root        = flag.String("root", "received", "Directory received captures are saved under")
	noStore     = flag.Bool("no-store", false, "Keep only the latest capture in memory")
	noReply     = flag.Bool("no-reply", false, "Do not acknowledge datagrams")
	maxPayload  = flag.Int("max-payload", 64<<20, "Maximum image+depth bytes per stream message")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval = flag.Duration("log-interval", 30*time.Second, "Statistics logging interval (0 disables)")
	debugLog    = flag.Bool("debug", false, "Enable diagnostic logging")
	traceLog    = flag.Bool("trace", false, "Enable per-frame logging")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func listenUDP(address string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %v", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %v", err)
	}
	if err := conn.SetReadBuffer(*rcvBuf); err != nil {
		log.Printf("Warning: failed to set UDP receive buffer to %d bytes: %v (some OSes clamp buffer sizes)", *rcvBuf, err)
	}
	return conn, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("capture-receiver"))
		return
	}
	if *tcpAddr == "" && *udpAddr == "" {
		log.Fatal("At least one of -tcp and -udp is required")
	}

	var diag, trace io.Writer
	if *debugLog || *traceLog {
		diag = os.Stderr
	}
	if *traceLog {
		trace = os.Stderr
	}
	receiver.SetLogWriters(os.Stderr, diag, trace)

	cfg := receiver.Config{
		MaxPayload: *maxPayload,
		NoReply:    *noReply,
		OnFrame: func(f *frame.CaptureFrame) {
			log.Printf("received %s (%dx%d depth, location %t)", f.ID, f.Depth.Width, f.Depth.Height, f.Location != nil)
		},
	}
	if !*noStore {
		if err := os.MkdirAll(*root, 0o755); err != nil {
			log.Fatalf("failed to create capture root: %v", err)
		}
		cfg.Sink = sink.New(*root, nil)
	}
	rcv := receiver.New(cfg)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *tcpAddr != "" {
		ln, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			log.Fatalf("failed to listen on TCP: %v", err)
		}
		log.Printf("accepting stream captures on %s", ln.Addr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rcv.ServeStream(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("stream listener stopped: %v", err)
			}
		}()
	}
	if *udpAddr != "" {
		conn, err := listenUDP(*udpAddr)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("accepting datagram captures on %s", conn.LocalAddr())
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := rcv.ServeDatagram(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("datagram listener stopped: %v", err)
			}
		}()
	}

	if *logInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(*logInterval)
			defer ticker.Stop()
			var last uint64
			for {
				select {
				case <-ticker.C:
					s := rcv.Stats()
					if s.Frames != last {
						log.Printf("frames=%d payload_bytes=%d decode_errors=%d duplicates=%d persist_errors=%d",
							s.Frames, s.PayloadBytes, s.DecodeErrors, s.Duplicates, s.PersistErrors)
						last = s.Frames
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := http.NewServeMux()
			rcv.AttachDebugRoutes(tsweb.Debugger(mux))
			server := &http.Server{Addr: *listen, Handler: mux}

			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				server.Close()
			}
		}()
	}

	wg.Wait()
	log.Printf("receiver statistics: %+v", rcv.Stats())
	log.Printf("Graceful shutdown complete")
}
