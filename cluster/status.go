package cluster

// Status is the connection state of a RemotePeer as seen by the leader.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	// reserved for liveness and recovery refinements, never entered yet
	StatusUnreachable
	StatusSynchronizing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusUnreachable:
		return "UNREACHABLE"
	case StatusSynchronizing:
		return "SYNCHRONIZING"
	}
	return "UNKNOWN"
}
