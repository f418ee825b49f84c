package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depthlink/internal/codec"
	"github.com/banshee-data/depthlink/internal/frame"
	"github.com/banshee-data/depthlink/internal/frame/frametest"
	"github.com/banshee-data/depthlink/internal/fsutil"
	"github.com/banshee-data/depthlink/internal/monitoring"
	"github.com/banshee-data/depthlink/internal/sink"
	"github.com/banshee-data/depthlink/internal/timeutil"
	"github.com/banshee-data/depthlink/internal/transport"
)

func init() {
	monitoring.SetLogger(nil)
}

var dest = transport.Destination{Host: "receiver.local", Port: 5005, Protocol: transport.Stream}

type fakeSensors struct {
	cam   *frame.CameraSample
	depth *frame.DepthSample
	loc   *frame.Geolocation
}

func (s *fakeSensors) LatestCamera() (*frame.CameraSample, bool)  { return s.cam, s.cam != nil }
func (s *fakeSensors) LatestDepth() (*frame.DepthSample, bool)    { return s.depth, s.depth != nil }
func (s *fakeSensors) LatestLocation() (*frame.Geolocation, bool) { return s.loc, s.loc != nil }

func exampleSensors() *fakeSensors {
	return &fakeSensors{cam: frametest.CameraSample(), depth: frametest.DepthSample()}
}

// recordingSender decodes every payload and records the capture ids in
// the order they were sent.
type recordingSender struct {
	mu       sync.Mutex
	ids      []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	entered  chan struct{}
	gate     chan struct{}
	delay    time.Duration
}

func (s *recordingSender) Send(ctx context.Context, payload []byte, d transport.Destination) (*transport.Receipt, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	f, err := codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ids = append(s.ids, f.ID)
	s.mu.Unlock()
	return &transport.Receipt{Dest: d, Bytes: len(payload)}, nil
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []*Outcome
}

func (r *outcomeRecorder) Record(ctx context.Context, o *Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

type fixture struct {
	clock  *timeutil.MockClock
	fs     *fsutil.MemoryFileSystem
	dialer *transport.MockDialer
	states []transport.State
	mu     sync.Mutex
}

func (fx *fixture) onState(_ transport.Destination, s transport.State) {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	fx.states = append(fx.states, s)
}

func (fx *fixture) waits() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	n := 0
	for _, s := range fx.states {
		if s == transport.Waiting {
			n++
		}
	}
	return n
}

func newFixture(t *testing.T, sensors *fakeSensors, mutate func(*Config)) (*Coordinator, *fixture) {
	t.Helper()
	fx := &fixture{
		clock:  timeutil.NewMockClock(time.Date(2025, 4, 17, 18, 0, 0, 0, time.UTC)),
		fs:     fsutil.NewMemoryFileSystem(),
		dialer: &transport.MockDialer{},
	}
	tr := transport.New(transport.Config{
		Resolver: &transport.MockResolver{Hosts: map[string][]string{"receiver.local": {"10.1.1.1"}}},
		Dialer:   fx.dialer,
		OnState:  fx.onState,
	})
	cfg := Config{
		Sources:     Sources{Camera: sensors, Depth: sensors, Location: sensors},
		Assembler:   frame.NewAssembler(frame.AssemblerConfig{Clock: timeutil.NewSessionClock(fx.clock, time.UTC)}),
		Sink:        sink.New("captures", fx.fs),
		Transport:   tr,
		Destination: dest,
		Clock:       fx.clock,
		OnState:     fx.onState,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	c.Start(context.Background())
	t.Cleanup(func() { c.Close() })
	return c, fx
}

func TestCapture_ExampleScenario(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), nil)

	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Err)

	assert.Equal(t, Succeeded, o.Local.Status)
	assert.Equal(t, "captures/"+o.CaptureID, o.Local.Path)
	for _, name := range sink.Artifacts {
		assert.True(t, fx.fs.Exists(o.Local.Path+"/"+name), name)
	}

	assert.Equal(t, Succeeded, o.Network.Status)
	assert.Equal(t, 1, o.Network.Attempts)
	assert.Equal(t, "saved and sent", o.Summary())

	conns := fx.dialer.Conns()
	require.Len(t, conns, 1)
	wire := conns[0].Written()
	assert.Equal(t, codec.Delimiter, wire[len(wire)-1])
	got, err := codec.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, o.CaptureID, got.ID)
	assert.Len(t, got.Depth.Data, 64)
	assert.Nil(t, got.Location)
}

func TestCapture_RetryBound(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), nil)
	fx.dialer.Err = syscall.ECONNREFUSED

	o, err := c.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Failed, o.Network.Status)
	assert.Equal(t, 3, o.Network.Attempts)
	assert.ErrorIs(t, o.Network.Err, transport.ErrConnectFailed)
	assert.Len(t, fx.dialer.Calls(), 3)

	sleeps := fx.clock.Sleeps()
	require.Len(t, sleeps, 2)
	assert.Less(t, sleeps[0], sleeps[1], "backoff delays must strictly increase")
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, sleeps)
	assert.Equal(t, 2, fx.waits())

	// Local persistence is independent of the network failure.
	assert.Equal(t, Succeeded, o.Local.Status)
	assert.Equal(t, "saved but not sent", o.Summary())
	assert.Equal(t, int64(2), c.Stats().Retries)
}

func TestCapture_RetryThenSucceed(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), nil)
	fx.dialer.Err = syscall.ECONNREFUSED
	fx.dialer.Failures = 2

	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Succeeded, o.Network.Status)
	assert.Equal(t, 3, o.Network.Attempts)
	assert.Nil(t, o.Network.Err)
}

func TestCapture_ResolutionFailureIsRetried(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), func(cfg *Config) {
		cfg.Destination = transport.Destination{Host: "unknown.local", Port: 5005, Protocol: transport.Stream}
		cfg.Retry = RetryPolicy{MaxAttempts: 4, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 3}
	})

	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, o.Network.Attempts)
	assert.ErrorIs(t, o.Network.Err, transport.ErrResolutionFailed)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 90 * time.Millisecond}, fx.clock.Sleeps())
}

func TestCapture_OversizeDatagramIsNotRetried(t *testing.T) {
	dialer := &transport.MockDialer{}
	c, _ := newFixture(t, exampleSensors(), func(cfg *Config) {
		cfg.Transport = transport.New(transport.Config{Dialer: dialer, MaxDatagramSize: 16})
		cfg.Destination = transport.Destination{Host: "10.1.1.1", Port: 5005, Protocol: transport.Datagram}
	})

	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Err)
	assert.Equal(t, Succeeded, o.Local.Status)
	assert.Equal(t, Failed, o.Network.Status)
	assert.Equal(t, 1, o.Network.Attempts)
	assert.ErrorIs(t, o.Network.Err, transport.ErrPayloadTooLarge)
	assert.Empty(t, dialer.Calls())
	assert.Equal(t, int64(0), c.Stats().Retries)
}

func TestCapture_PersistFailureDoesNotBlockSend(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), nil)
	fx.fs.FailOn(fsutil.OpWriteFile, sink.ImageFile+sink.PartialSuffix, syscall.ENOSPC)

	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, o.Local.Status)
	assert.ErrorIs(t, o.Local.Err, syscall.ENOSPC)
	assert.Equal(t, Succeeded, o.Network.Status)
	assert.Equal(t, "sent but not saved", o.Summary())
	assert.Equal(t, int64(1), c.Stats().PersistErr)
}

func TestCapture_AssemblyFailure(t *testing.T) {
	sensors := &fakeSensors{cam: frametest.CameraSample()}
	c, fx := newFixture(t, sensors, nil)

	o, err := c.Capture(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, o.Err, frame.ErrMissingRequiredSensor)
	var ae *frame.AssemblyError
	require.True(t, errors.As(o.Err, &ae))
	assert.Equal(t, frame.SensorDepth, ae.Sensor)

	assert.Equal(t, NotAttempted, o.Local.Status)
	assert.Equal(t, NotAttempted, o.Network.Status)
	assert.Empty(t, fx.fs.Files())
	assert.Empty(t, fx.dialer.Calls())
}

func TestCapture_CancelledBeforeAssembly(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := c.Request(ctx).Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, o.Err, context.Canceled)
	assert.Empty(t, fx.fs.Files())
	assert.Empty(t, fx.dialer.Calls())
}

func TestCapture_OrderingAndSingleFlight(t *testing.T) {
	sender := &recordingSender{delay: 2 * time.Millisecond}
	c, _ := newFixture(t, exampleSensors(), func(cfg *Config) { cfg.Transport = sender })

	var tickets []*Ticket
	for i := 0; i < 8; i++ {
		tickets = append(tickets, c.Request(context.Background()))
	}

	var want []string
	for _, tk := range tickets {
		o, err := tk.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, Succeeded, o.Network.Status)
		want = append(want, o.CaptureID)
	}
	assert.Equal(t, want, sender.sent(), "captures must leave in request order")
	assert.Equal(t, int32(1), sender.maxSeen.Load(), "at most one send in flight per destination")
}

func TestCapture_DestinationsAreIndependentLanes(t *testing.T) {
	sender := &recordingSender{entered: make(chan struct{}, 4), gate: make(chan struct{})}
	c, _ := newFixture(t, exampleSensors(), func(cfg *Config) { cfg.Transport = sender })
	other := transport.Destination{Host: "backup.local", Port: 5006, Protocol: transport.Datagram}

	t1 := c.Request(context.Background())
	t2 := c.RequestTo(context.Background(), other)
	<-sender.entered
	<-sender.entered
	assert.Equal(t, int32(2), sender.inFlight.Load())

	close(sender.gate)
	for _, tk := range []*Ticket{t1, t2} {
		o, err := tk.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Succeeded, o.Network.Status)
	}
}

func TestCapture_QueueFull(t *testing.T) {
	sender := &recordingSender{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	c, fx := newFixture(t, exampleSensors(), func(cfg *Config) {
		cfg.Transport = sender
		cfg.QueueSize = 1
	})

	first := c.Request(context.Background())
	<-sender.entered // the lane has taken the first job off the queue

	second := c.Request(context.Background())
	third := c.Request(context.Background())

	// The overflowing capture is still saved; only its send is skipped.
	o, err := third.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Err)
	assert.Equal(t, Succeeded, o.Local.Status)
	for _, name := range sink.Artifacts {
		assert.True(t, fx.fs.Exists(o.Local.Path+"/"+name), name)
	}
	assert.Equal(t, Failed, o.Network.Status)
	assert.ErrorIs(t, o.Network.Err, ErrQueueFull)
	assert.Equal(t, 0, o.Network.Attempts)
	assert.Equal(t, "saved but not sent", o.Summary())
	dropped := o.CaptureID

	close(sender.gate)
	for _, tk := range []*Ticket{first, second} {
		o, err := tk.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Succeeded, o.Network.Status)
	}
	assert.NotContains(t, sender.sent(), dropped)
	assert.Equal(t, int64(1), c.Stats().Dropped)
}

func TestCapture_QueueFullOnSendFailurePolicy(t *testing.T) {
	sender := &recordingSender{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	c, fx := newFixture(t, exampleSensors(), func(cfg *Config) {
		cfg.Transport = sender
		cfg.QueueSize = 1
		cfg.Persist = PersistOnSendFailure
	})

	first := c.Request(context.Background())
	<-sender.entered
	second := c.Request(context.Background())

	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, o.Network.Err, ErrQueueFull)
	assert.Equal(t, Succeeded, o.Local.Status)
	assert.True(t, fx.fs.Exists(o.Local.Path+"/meta.json"))

	close(sender.gate)
	for _, tk := range []*Ticket{first, second} {
		o, err := tk.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, NotAttempted, o.Local.Status)
	}
}

func TestCapture_PersistOnSendFailure(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), func(cfg *Config) { cfg.Persist = PersistOnSendFailure })

	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Succeeded, o.Network.Status)
	assert.Equal(t, NotAttempted, o.Local.Status)
	assert.Empty(t, fx.fs.Files())

	fx.dialer.Err = syscall.ECONNREFUSED
	o, err = c.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failed, o.Network.Status)
	assert.Equal(t, Succeeded, o.Local.Status)
	assert.Len(t, fx.fs.Files(), 3)
}

func TestRedeliver_SendsWithoutPersisting(t *testing.T) {
	rec := &outcomeRecorder{}
	c, fx := newFixture(t, exampleSensors(), func(cfg *Config) { cfg.Recorder = rec })

	f := frametest.Frame("backlog-1", true)
	o, err := c.Redeliver(context.Background(), f).Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, o.Redelivery)
	assert.Equal(t, "backlog-1", o.CaptureID)
	assert.Equal(t, NotAttempted, o.Local.Status)
	assert.Equal(t, Succeeded, o.Network.Status)
	assert.Empty(t, fx.fs.Files())

	got, err := codec.Decode(fx.dialer.Conns()[0].Written())
	require.NoError(t, err)
	assert.Equal(t, f.Image, got.Image)

	require.Len(t, rec.outcomes, 1)
	assert.Same(t, o, rec.outcomes[0])
}

func TestRedeliver_InvalidFrame(t *testing.T) {
	c, fx := newFixture(t, exampleSensors(), nil)
	f := frametest.Frame("broken", false)
	f.Depth.Data = f.Depth.Data[:3]

	o, err := c.Redeliver(context.Background(), f).Wait(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, o.Err, frame.ErrMalformedDepthBuffer)
	assert.Empty(t, fx.dialer.Calls())
}

func TestCoordinator_RecorderSeesEveryCapture(t *testing.T) {
	rec := &outcomeRecorder{}
	c, _ := newFixture(t, exampleSensors(), func(cfg *Config) { cfg.Recorder = rec })

	for i := 0; i < 3; i++ {
		_, err := c.Capture(context.Background())
		require.NoError(t, err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.outcomes, 3)
}

func TestCoordinator_Close(t *testing.T) {
	sender := &recordingSender{delay: 5 * time.Millisecond}
	c, _ := newFixture(t, exampleSensors(), func(cfg *Config) { cfg.Transport = sender })

	pending := c.Request(context.Background())
	require.NoError(t, c.Close())

	// Close waits for accepted work.
	select {
	case <-pending.Done():
	default:
		t.Fatal("Close returned before accepted capture finished")
	}
	o, err := c.Capture(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, o.Err, ErrClosed)
}

func TestNew_Validation(t *testing.T) {
	base := Config{
		Assembler:   frame.NewAssembler(frame.AssemblerConfig{}),
		Sink:        sink.New("x", fsutil.NewMemoryFileSystem()),
		Transport:   &recordingSender{},
		Destination: dest,
	}
	_, err := New(base)
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"no assembler": func(c *Config) { c.Assembler = nil },
		"no sink":      func(c *Config) { c.Sink = nil },
		"no transport": func(c *Config) { c.Transport = nil },
		"bad dest":     func(c *Config) { c.Destination.Port = 0 },
		"bad policy":   func(c *Config) { c.Persist = "never" },
		"bad retry":    func(c *Config) { c.Retry = RetryPolicy{MaxAttempts: 0, InitialBackoff: 1, MaxBackoff: 1, Multiplier: 2} },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		_, err := New(cfg)
		assert.Error(t, err, name)
	}
}

func ExampleOutcome_Summary() {
	o := &Outcome{
		Local:   LocalResult{Status: Succeeded, Path: "captures/a"},
		Network: NetworkResult{Status: Failed, Attempts: 3},
	}
	fmt.Println(o.Summary())
	// Output: saved but not sent
}
