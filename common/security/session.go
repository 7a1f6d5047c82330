package security

import "sync/atomic"

// Sessions hands out session identifiers that are unique across every peer
// connection sharing it. Pass one instance to all peers of a node.
type Sessions struct {
	next int32
}

func NewSessions() *Sessions {
	return &Sessions{}
}

// Next returns a fresh session id. Safe for concurrent use.
func (s *Sessions) Next() int32 {
	return atomic.AddInt32(&s.next, 1)
}
