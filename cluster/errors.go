package cluster

import (
	"errors"
	"fmt"
)

var (
	NoConfigErr          = errors.New("cluster: no configuration")
	ConnectInProgressErr = errors.New("cluster: connect already in progress")
	NotConnectedErr      = errors.New("cluster: peer not connected")
	NotLeaderErr         = errors.New("cluster: node is not the leader")
	PeerExistsErr        = errors.New("cluster: peer already registered")
	StoppedErr           = errors.New("cluster: node stopped")
)

// ConnectionError is returned by RemotePeer.Connect when the channel cannot
// be opened or the handshake fails on the wire.
type ConnectionError struct {
	Peer string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cluster: connect to peer %s failed at %s: %v", e.Peer, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
