// Package pcapframes extracts capture messages sent over UDP from pcap and
// pcapng recordings. Fragmented IPv4 datagrams are reassembled before
// decoding, since frames usually exceed the link MTU.
package pcapframes

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/depthlink/internal/codec"
	"github.com/banshee-data/depthlink/internal/frame"
)

// pcapngMagic is the block type of a pcapng section header.
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// ErrStop may be returned by a Handler to end reading early without error.
var ErrStop = errors.New("stop reading")

// Options selects which datagrams are decoded.
type Options struct {
	// Port matches the UDP destination port. Zero matches every port.
	Port int
	// Limit stops after this many decoded frames. Zero reads everything.
	Limit int
}

// Record is one matched datagram.
type Record struct {
	Captured time.Time
	Src, Dst string
	Size     int
	// Frame is nil when Err is set.
	Frame *frame.CaptureFrame
	Err   error
}

// Handler receives records in capture order.
type Handler func(Record) error

// Stats counts what a read saw.
type Stats struct {
	Packets      int `json:"packets"`
	Fragments    int `json:"fragments"`
	Datagrams    int `json:"datagrams"`
	Frames       int `json:"frames"`
	DecodeErrors int `json:"decode_errors"`
}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// ReadFile opens path and calls Read.
func ReadFile(ctx context.Context, path string, opts Options, fn Handler) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	defer f.Close()
	return Read(ctx, f, opts, fn)
}

// Read decodes every matching datagram in the recording and passes it to
// fn. Decode failures are reported through Record.Err, not as an error
// from Read. An error returned by fn stops the read and is returned,
// except ErrStop.
func Read(ctx context.Context, r io.Reader, opts Options, fn Handler) (Stats, error) {
	var st Stats
	pr, err := newPacketReader(r)
	if err != nil {
		return st, fmt.Errorf("open capture: %w", err)
	}
	source := gopacket.NewPacketSource(pr, pr.LinkType())
	defrag := ip4defrag.NewIPv4Defragmenter()

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("read packet %d: %w", st.Packets+1, err)
		}
		st.Packets++
		captured := packet.Metadata().Timestamp

		udp, src, dst := udpOf(packet)
		if ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok && udp == nil {
			if ip.Flags&layers.IPv4MoreFragments == 0 && ip.FragOffset == 0 {
				continue
			}
			st.Fragments++
			whole, err := defrag.DefragIPv4WithTimestamp(ip, captured)
			if err != nil || whole == nil {
				continue
			}
			reassembled := gopacket.NewPacket(whole.Payload, whole.NextLayerType(), gopacket.Default)
			udp, _ = reassembled.Layer(layers.LayerTypeUDP).(*layers.UDP)
			src, dst = whole.SrcIP.String(), whole.DstIP.String()
		}
		if udp == nil || (opts.Port != 0 && int(udp.DstPort) != opts.Port) || len(udp.Payload) == 0 {
			continue
		}
		st.Datagrams++

		rec := Record{
			Captured: captured,
			Src:      fmt.Sprintf("%s:%d", src, udp.SrcPort),
			Dst:      fmt.Sprintf("%s:%d", dst, udp.DstPort),
			Size:     len(udp.Payload),
		}
		rec.Frame, rec.Err = codec.Decode(udp.Payload)
		if rec.Err != nil {
			st.DecodeErrors++
		} else {
			st.Frames++
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return st, nil
			}
			return st, err
		}
		if opts.Limit > 0 && st.Frames >= opts.Limit {
			return st, nil
		}
	}
}

func udpOf(p gopacket.Packet) (*layers.UDP, string, string) {
	udp, ok := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil, "", ""
	}
	if nl := p.NetworkLayer(); nl != nil {
		flow := nl.NetworkFlow()
		return udp, flow.Src().String(), flow.Dst().String()
	}
	return udp, "", ""
}
