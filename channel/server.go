package channel

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// ServerConn is the responding end of a channel: it reads request frames and
// answers with status framed responses.
type ServerConn struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	mu      sync.Mutex
	timeout time.Duration
}

func NewServerConn(conn net.Conn, timeout time.Duration) *ServerConn {
	return &ServerConn{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		timeout: timeout,
	}
}

// ReadMessage blocks for the next frame. Idle connections are not timed out.
func (s *ServerConn) ReadMessage() (*Decoder, error) {
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}

	payload, err := readFrame(s.r)
	if err != nil {
		return nil, err
	}
	return NewDecoder(payload), nil
}

// WriteOK answers sessionID with a success response; body may be nil.
func (s *ServerConn) WriteOK(sessionID int32, body func(*Encoder) error) error {
	var e Encoder
	e.WriteByte(StatusOK)  //nolint:errcheck
	e.WriteInt(sessionID) //nolint:errcheck

	if body != nil {
		if err := body(&e); err != nil {
			return err
		}
	}
	return s.send(e.Bytes())
}

func (s *ServerConn) WriteError(sessionID int32, message string) error {
	var e Encoder
	e.WriteByte(StatusError) //nolint:errcheck
	e.WriteInt(sessionID)    //nolint:errcheck
	e.WriteString(message)   //nolint:errcheck
	return s.send(e.Bytes())
}

func (s *ServerConn) send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return err
		}
	}

	if err := writeFrame(s.w, payload); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *ServerConn) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *ServerConn) Close() error {
	return s.conn.Close()
}
