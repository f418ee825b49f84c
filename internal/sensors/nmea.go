package sensors

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/depthlink/internal/frame"
)

var (
	// ErrMalformedSentence is returned for lines that are not NMEA 0183
	// sentences or are missing fields.
	ErrMalformedSentence = errors.New("malformed NMEA sentence")
	// ErrChecksum is returned when the trailing *hh checksum does not match.
	ErrChecksum = errors.New("NMEA checksum mismatch")
	// ErrUnsupportedSentence is returned for sentence types other than GGA
	// and RMC.
	ErrUnsupportedSentence = errors.New("unsupported NMEA sentence")
)

// Sentence is a decoded position sentence. Fix is nil when the receiver
// reported no valid fix.
type Sentence struct {
	Type string
	Fix  *frame.Geolocation
}

// ParseNMEA decodes a GGA or RMC sentence from any talker (GP, GN, GL...).
func ParseNMEA(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, fmt.Errorf("%w: missing '$'", ErrMalformedSentence)
	}
	body := line[1:]
	if i := strings.IndexByte(body, '*'); i >= 0 {
		want, err := strconv.ParseUint(body[i+1:], 16, 8)
		if err != nil {
			return Sentence{}, fmt.Errorf("%w: bad checksum field %q", ErrMalformedSentence, body[i+1:])
		}
		body = body[:i]
		if got := nmeaChecksum(body); got != byte(want) {
			return Sentence{}, fmt.Errorf("%w: got %02X, want %02X", ErrChecksum, got, want)
		}
	}

	fields := strings.Split(body, ",")
	if len(fields[0]) != 5 {
		return Sentence{}, fmt.Errorf("%w: address %q", ErrMalformedSentence, fields[0])
	}
	kind := fields[0][2:]
	s := Sentence{Type: kind}

	switch kind {
	case "GGA":
		if len(fields) < 7 {
			return s, fmt.Errorf("%w: GGA has %d fields", ErrMalformedSentence, len(fields))
		}
		if fields[6] == "" || fields[6] == "0" {
			return s, nil
		}
		fix, err := parseLatLon(fields[2], fields[3], fields[4], fields[5])
		if err != nil {
			return s, err
		}
		s.Fix = fix
	case "RMC":
		if len(fields) < 7 {
			return s, fmt.Errorf("%w: RMC has %d fields", ErrMalformedSentence, len(fields))
		}
		if fields[2] != "A" {
			return s, nil
		}
		fix, err := parseLatLon(fields[3], fields[4], fields[5], fields[6])
		if err != nil {
			return s, err
		}
		s.Fix = fix
	default:
		return s, fmt.Errorf("%w: %s", ErrUnsupportedSentence, fields[0])
	}
	return s, nil
}

func nmeaChecksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

func parseLatLon(lat, ns, lon, ew string) (*frame.Geolocation, error) {
	latDeg, err := parseCoordinate(lat, 2)
	if err != nil {
		return nil, err
	}
	lonDeg, err := parseCoordinate(lon, 3)
	if err != nil {
		return nil, err
	}
	switch ns {
	case "N":
	case "S":
		latDeg = -latDeg
	default:
		return nil, fmt.Errorf("%w: hemisphere %q", ErrMalformedSentence, ns)
	}
	switch ew {
	case "E":
	case "W":
		lonDeg = -lonDeg
	default:
		return nil, fmt.Errorf("%w: hemisphere %q", ErrMalformedSentence, ew)
	}
	if latDeg > 90 || latDeg < -90 || lonDeg > 180 || lonDeg < -180 {
		return nil, fmt.Errorf("%w: coordinate out of range (%v, %v)", ErrMalformedSentence, latDeg, lonDeg)
	}
	return &frame.Geolocation{Latitude: latDeg, Longitude: lonDeg}, nil
}

// parseCoordinate converts NMEA (d)ddmm.mmmm to decimal degrees.
func parseCoordinate(v string, degDigits int) (float64, error) {
	dot := strings.IndexByte(v, '.')
	if dot < 0 {
		dot = len(v)
	}
	if dot != degDigits+2 {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformedSentence, v)
	}
	deg, err := strconv.Atoi(v[:degDigits])
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformedSentence, v)
	}
	minutes, err := strconv.ParseFloat(v[degDigits:], 64)
	if err != nil || minutes >= 60 || math.IsNaN(minutes) {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformedSentence, v)
	}
	return float64(deg) + minutes/60, nil
}
