package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// MockResolver implements Resolver for testing.
type MockResolver struct {
	mu sync.Mutex
	// Hosts maps host names to addresses.
	Hosts map[string][]string
	// Err is returned for every lookup if set.
	Err error
	// Lookups records every looked-up host.
	Lookups []string
}

// LookupHost returns the configured addresses.
func (m *MockResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups = append(m.Lookups, host)
	if m.Err != nil {
		return nil, m.Err
	}
	addrs, ok := m.Hosts[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

// MockDialCall records a call to DialContext.
type MockDialCall struct {
	Network string
	Address string
}

// MockDialer implements Dialer for testing. Each dial returns a fresh
// MockConn unless Err is set.
type MockDialer struct {
	mu sync.Mutex
	// Err is returned by DialContext if set.
	Err error
	// Failures makes the first Failures dials fail with Err before later
	// dials succeed. Zero means Err applies to every dial.
	Failures int
	// NewConn customises the connection returned by a successful dial.
	NewConn func() *MockConn

	calls []MockDialCall
	conns []*MockConn
}

// DialContext records the call and returns a MockConn.
func (m *MockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockDialCall{Network: network, Address: address})
	if m.Err != nil && (m.Failures == 0 || len(m.calls) <= m.Failures) {
		return nil, m.Err
	}
	var c *MockConn
	if m.NewConn != nil {
		c = m.NewConn()
	} else {
		c = NewMockConn()
	}
	c.remote = address
	m.conns = append(m.conns, c)
	return c, nil
}

// Calls returns a copy of the recorded dial calls.
func (m *MockDialer) Calls() []MockDialCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockDialCall(nil), m.calls...)
}

// Conns returns the connections handed out so far.
func (m *MockDialer) Conns() []*MockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockConn(nil), m.conns...)
}

// MockConn implements net.Conn for testing.
type MockConn struct {
	mu sync.Mutex
	// MaxWrite limits the bytes accepted per Write to exercise short
	// writes. Zero accepts everything.
	MaxWrite int
	// WriteErr is returned by Write if set.
	WriteErr error
	// Reply is returned by the first Read. A nil Reply makes Read time out.
	Reply []byte
	// Gate, if set, blocks Write until it is closed.
	Gate chan struct{}

	remote  string
	written bytes.Buffer
	writes  int
	closed  bool
	read    bool
}

// NewMockConn returns an empty MockConn.
func NewMockConn() *MockConn { return &MockConn{} }

func (c *MockConn) Write(b []byte) (int, error) {
	if c.Gate != nil {
		<-c.Gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.WriteErr != nil {
		return 0, c.WriteErr
	}
	n := len(b)
	if c.MaxWrite > 0 && n > c.MaxWrite {
		n = c.MaxWrite
	}
	c.written.Write(b[:n])
	c.writes++
	return n, nil
}

func (c *MockConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.Reply == nil || c.read {
		return 0, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	c.read = true
	return copy(b, c.Reply), nil
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("already closed")
	}
	c.closed = true
	return nil
}

// Written returns everything written so far.
func (c *MockConn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()...)
}

// Writes returns the number of successful Write calls.
func (c *MockConn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Closed reports whether Close was called.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockConn) LocalAddr() net.Addr                { return mockAddr("local") }
func (c *MockConn) RemoteAddr() net.Addr               { return mockAddr(c.remote) }
func (c *MockConn) SetDeadline(t time.Time) error      { return nil }
func (c *MockConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *MockConn) SetWriteDeadline(t time.Time) error { return nil }

type mockAddr string

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return string(a) }

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
