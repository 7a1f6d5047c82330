package channel

import (
	"fmt"

	"github.com/2se/leaderlink/config"
)

// Request opcodes of the distributed protocol.
const (
	RequestLeaderConnect        byte = 80
	RequestDistributedHeartbeat byte = 81
	RequestDistributedDBConfig  byte = 82
)

// Response status bytes.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// Channel is an ordered, bidirectional binary connection with explicit
// request and response delimiters.
//
// A successful BeginRequest must be paired with EndRequest, and a successful
// BeginResponse with EndResponse. When a Begin call fails nothing is held and
// the matching End must not be called.
type Channel interface {
	BeginRequest() error
	EndRequest() error
	// BeginResponse blocks until the next response frame arrives and checks it
	// belongs to sessionID.
	BeginResponse(sessionID int32) error
	EndResponse()

	WriteByte(b byte) error
	WriteInt(v int32) error
	WriteBytes(p []byte) error

	ReadByte() (byte, error)
	ReadInt() (int32, error)
	ReadBytes() ([]byte, error)

	// IsConnected reports the transport liveness flag without doing I/O.
	IsConnected() bool
	Close() error
}

// Dialer opens a channel to a remote node. settings is owned by the caller
// and may change between operations; the channel reads it on every exchange.
type Dialer func(address string, port int, settings *config.Context) (Channel, error)

// RemoteError is an error reported by the remote node inside a response.
type RemoteError struct {
	SessionID int32
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("channel: remote error on session %d: %s", e.SessionID, e.Message)
}
