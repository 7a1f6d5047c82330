package mock

import (
	"sync"
	"time"

	"github.com/2se/leaderlink/document"
)

// Leader is a local leader stand-in for peer connection tests. It records
// every call and answers UpdatePeerDatabases with Answer.
type Leader struct {
	Name    string
	Address string
	Since   time.Time
	// returned by UpdatePeerDatabases; nil means an empty document
	Answer *document.Document
	Err    error

	mu         sync.Mutex
	becamePeer int
	updates    []Update
}

// Update is one recorded UpdatePeerDatabases call.
type Update struct {
	PeerID string
	Remote *document.Document
}

func NewLeader(clusterName string) *Leader {
	return &Leader{
		Name:    clusterName,
		Address: "mock-leader:2434",
		Since:   time.Now(),
	}
}

func (l *Leader) ID() string {
	return l.Address
}

func (l *Leader) RunningSince() time.Time {
	return l.Since
}

func (l *Leader) ClusterName() string {
	return l.Name
}

func (l *Leader) BecomePeer() {
	l.mu.Lock()
	l.becamePeer++
	l.mu.Unlock()
}

func (l *Leader) UpdatePeerDatabases(peerID string, remote *document.Document) (*document.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.updates = append(l.updates, Update{PeerID: peerID, Remote: remote})
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Answer == nil {
		return document.New(), nil
	}
	return l.Answer, nil
}

// BecamePeer returns how many times BecomePeer was invoked.
func (l *Leader) BecamePeer() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.becamePeer
}

func (l *Leader) Updates() []Update {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Update(nil), l.updates...)
}
