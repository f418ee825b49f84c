package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/banshee-data/depthlink/internal/frame"
)

const (
	// Delimiter terminates every message.
	Delimiter byte = 0x0A
	// HeaderLen is the size of the metadata length prefix.
	HeaderLen = 4
	// MaxMetadataLen bounds the metadata block.
	MaxMetadataLen = 1 << 20
	// DefaultMaxPayload bounds image+depth segments accepted by a Decoder.
	DefaultMaxPayload = 64 << 20
)

// Encode serializes f into a single wire message.
func Encode(f *frame.CaptureFrame) ([]byte, error) {
	meta, err := MarshalMetadata(f, false)
	if err != nil {
		return nil, err
	}
	if len(meta) > MaxMetadataLen {
		return nil, &EncodeError{CaptureID: f.ID, Err: errors.New("metadata exceeds size limit")}
	}
	size := HeaderLen + len(meta) + len(f.Image) + len(f.Depth.Data) + 1
	buf := make([]byte, HeaderLen, size)
	binary.BigEndian.PutUint32(buf, uint32(len(meta)))
	buf = append(buf, meta...)
	buf = append(buf, f.Image...)
	buf = append(buf, f.Depth.Data...)
	buf = append(buf, Delimiter)
	return buf, nil
}

// Decode parses exactly one message. Any disagreement between declared and
// actual segment lengths, including trailing bytes, fails with
// ErrTruncatedPayload.
func Decode(b []byte) (*frame.CaptureFrame, error) {
	if len(b) < HeaderLen {
		return nil, decodeErrorf(ErrTruncatedPayload, "message is %d bytes, shorter than the header", len(b))
	}
	metaLen := int(binary.BigEndian.Uint32(b))
	if metaLen == 0 || metaLen > MaxMetadataLen {
		return nil, decodeErrorf(ErrInvalidMetadata, "metadata length %d", metaLen)
	}
	rest := b[HeaderLen:]
	if len(rest) < metaLen {
		return nil, decodeErrorf(ErrTruncatedPayload, "metadata block is %d bytes, declared %d", len(rest), metaLen)
	}
	md, err := UnmarshalMetadata(rest[:metaLen])
	if err != nil {
		return nil, err
	}
	body := rest[metaLen:]
	// Compare by subtraction so huge declared lengths cannot wrap.
	if md.ImageLength > len(body) || md.DepthLength != len(body)-md.ImageLength-1 {
		return nil, decodeErrorf(ErrTruncatedPayload, "payload is %d bytes, declared %d+%d+1",
			len(body), md.ImageLength, md.DepthLength)
	}
	if body[len(body)-1] != Delimiter {
		return nil, decodeErrorf(ErrTruncatedPayload, "missing delimiter")
	}
	image := append([]byte(nil), body[:md.ImageLength]...)
	depth := append([]byte(nil), body[md.ImageLength:md.ImageLength+md.DepthLength]...)
	return md.Frame(image, depth)
}

// Decoder reads consecutive messages from a stream.
type Decoder struct {
	r          *bufio.Reader
	maxPayload int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), maxPayload: DefaultMaxPayload}
}

// SetMaxPayload bounds the image+depth bytes a single message may declare.
func (d *Decoder) SetMaxPayload(n int) { d.maxPayload = n }

// Decode reads the next message. It returns io.EOF when the stream ends
// cleanly on a message boundary.
func (d *Decoder) Decode() (*frame.CaptureFrame, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, d.readErr(err, "header")
	}
	metaLen := int(binary.BigEndian.Uint32(header[:]))
	if metaLen == 0 || metaLen > MaxMetadataLen {
		return nil, decodeErrorf(ErrInvalidMetadata, "metadata length %d", metaLen)
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(d.r, meta); err != nil {
		return nil, d.readErr(err, "metadata")
	}
	md, err := UnmarshalMetadata(meta)
	if err != nil {
		return nil, err
	}
	if md.ImageLength > d.maxPayload || md.DepthLength > d.maxPayload-md.ImageLength {
		return nil, decodeErrorf(ErrInvalidMetadata, "declared payload %d+%d exceeds limit %d",
			md.ImageLength, md.DepthLength, d.maxPayload)
	}
	image := make([]byte, md.ImageLength)
	if _, err := io.ReadFull(d.r, image); err != nil {
		return nil, d.readErr(err, "image segment")
	}
	depth := make([]byte, md.DepthLength)
	if _, err := io.ReadFull(d.r, depth); err != nil {
		return nil, d.readErr(err, "depth segment")
	}
	delim, err := d.r.ReadByte()
	if err != nil {
		return nil, d.readErr(err, "delimiter")
	}
	if delim != Delimiter {
		return nil, decodeErrorf(ErrTruncatedPayload, "expected delimiter, got 0x%02x", delim)
	}
	return md.Frame(image, depth)
}

func (d *Decoder) readErr(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return decodeErrorf(ErrTruncatedPayload, "stream ended inside %s", what)
	}
	return &DecodeError{Err: err}
}
