package channel

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/2se/leaderlink/config"
)

var (
	ClosedErr          = errors.New("channel: closed")
	SessionMismatchErr = errors.New("channel: response for another session")
	NoRequestErr       = errors.New("channel: write outside of a request")
	NoResponseErr      = errors.New("channel: read outside of a response")
)

var _ Channel = (*Client)(nil)

// Client is the TCP implementation of Channel used by the leader.
//
// Requests are buffered between BeginRequest and EndRequest and written as one
// frame. BeginResponse reads the whole response frame before returning, so
// EndResponse never has anything left to drain.
//
// A response that does not start arriving within the socket timeout is not a
// broken transport: the channel stays open and the late frame is skipped by
// the next BeginResponse.
type Client struct {
	conn     net.Conn
	settings *config.Context
	r        *bufio.Reader
	w        *bufio.Writer

	reqMu     sync.Mutex
	inRequest bool
	out       Encoder

	respMu sync.Mutex
	in     *Decoder
	// responses abandoned after a read timeout, still due on the wire
	stale int

	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial is the default Dialer.
func Dial(address string, port int, settings *config.Context) (Channel, error) {
	if settings == nil {
		settings = config.NewContext()
	}

	addr := net.JoinHostPort(address, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, settings.ConnectTimeout())
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", addr, err)
	}

	return NewClient(conn, settings), nil
}

func NewClient(conn net.Conn, settings *config.Context) *Client {
	if settings == nil {
		settings = config.NewContext()
	}

	c := &Client{
		conn:     conn,
		settings: settings,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
	}
	c.connected.Store(true)
	return c
}

func (c *Client) BeginRequest() error {
	if !c.IsConnected() {
		return ClosedErr
	}

	c.reqMu.Lock()
	c.out.Reset()
	c.inRequest = true
	return nil
}

// EndRequest sends the buffered request and releases the request side.
func (c *Client) EndRequest() error {
	defer c.reqMu.Unlock()
	c.inRequest = false

	if err := c.arm(c.conn.SetWriteDeadline); err != nil {
		return c.fail(err)
	}

	err := writeFrame(c.w, c.out.Bytes())
	if errors.Is(err, FrameTooLargeErr) {
		// nothing reached the wire
		return err
	}
	if err != nil {
		return c.fail(err)
	}

	if err := c.w.Flush(); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *Client) BeginResponse(sessionID int32) error {
	if !c.IsConnected() {
		return ClosedErr
	}

	c.respMu.Lock()

	d, err := c.receive(sessionID)
	if err != nil {
		c.respMu.Unlock()
		return err
	}

	c.in = d
	return nil
}

func (c *Client) receive(sessionID int32) (*Decoder, error) {
	if err := c.arm(c.conn.SetReadDeadline); err != nil {
		return nil, c.fail(err)
	}

	for c.stale > 0 {
		if _, err := c.next(); err != nil {
			return nil, c.abandon(err)
		}
		c.stale--
	}

	payload, err := c.next()
	if err != nil {
		return nil, c.abandon(err)
	}

	d := NewDecoder(payload)
	status, err := d.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("channel: malformed response header: %w", err)
	}
	got, err := d.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("channel: malformed response header: %w", err)
	}

	if status == StatusError {
		msg, _ := d.ReadString()
		return nil, &RemoteError{SessionID: got, Message: msg}
	}

	if got != sessionID {
		return nil, fmt.Errorf("%w: expected %d, got %d", SessionMismatchErr, sessionID, got)
	}

	return d, nil
}

// EndResponse releases the response side. The frame was consumed whole in
// BeginResponse, so unread fields are simply dropped.
func (c *Client) EndResponse() {
	c.in = nil
	c.respMu.Unlock()
}

func (c *Client) WriteByte(b byte) error {
	if !c.inRequest {
		return NoRequestErr
	}
	return c.out.WriteByte(b)
}

func (c *Client) WriteInt(v int32) error {
	if !c.inRequest {
		return NoRequestErr
	}
	return c.out.WriteInt(v)
}

func (c *Client) WriteBytes(p []byte) error {
	if !c.inRequest {
		return NoRequestErr
	}
	return c.out.WriteBytes(p)
}

func (c *Client) ReadByte() (byte, error) {
	if c.in == nil {
		return 0, NoResponseErr
	}
	return c.in.ReadByte()
}

func (c *Client) ReadInt() (int32, error) {
	if c.in == nil {
		return 0, NoResponseErr
	}
	return c.in.ReadInt()
}

func (c *Client) ReadBytes() ([]byte, error) {
	if c.in == nil {
		return nil, NoResponseErr
	}
	return c.in.ReadBytes()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Close is safe to call more than once and from any goroutine; an in-flight
// exchange fails with an I/O error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// next reads one frame. A timeout before the first byte of the frame arrived
// consumes nothing and leaves the channel open.
func (c *Client) next() ([]byte, error) {
	if _, err := c.r.Peek(1); err != nil {
		if isTimeout(err) {
			return nil, err
		}
		return nil, c.fail(err)
	}

	payload, err := readFrame(c.r)
	if err != nil {
		return nil, c.fail(err)
	}
	return payload, nil
}

// abandon gives up on the awaited response. After a timeout it is still due
// and has to be skipped later.
func (c *Client) abandon(err error) error {
	if isTimeout(err) {
		c.stale++
		log.WithError(err).
			WithFields(log.Fields{"remote": c.conn.RemoteAddr(), "stale": c.stale}).
			Debug("channel: response timed out")
	}
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// fail marks the channel broken after a transport error.
func (c *Client) fail(err error) error {
	log.WithError(err).
		WithField("remote", c.conn.RemoteAddr()).
		Debug("channel: i/o failure, closing")
	c.Close() //nolint:errcheck
	return err
}

func (c *Client) arm(set func(time.Time) error) error {
	timeout := c.settings.SocketTimeout()
	if timeout <= 0 {
		return set(time.Time{})
	}
	return set(time.Now().Add(timeout))
}
