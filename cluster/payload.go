package cluster

import (
	"time"

	"github.com/2se/leaderlink/common/security"
	"github.com/2se/leaderlink/document"
)

// Leader is the local node as seen by its remote peers.
type Leader interface {
	// ID is the node identity, also used as its advertised address.
	ID() string
	RunningSince() time.Time
	ClusterName() string
	// BecomePeer is invoked when a remote node refuses the connection because
	// it is the leader itself. It must only signal and return.
	BecomePeer()
	// UpdatePeerDatabases reconciles the configuration reported by a peer and
	// returns the answer sent back to it.
	UpdatePeerDatabases(peerID string, remote *document.Document) (*document.Document, error)
}

// handshakePayload is the document sent with LEADER_CONNECT.
func handshakePayload(leader Leader, clusterName string, key security.Key) *document.Document {
	return document.New().
		Set(document.FieldClusterName, clusterName).
		Set(document.FieldClusterKey, key.Encoded()).
		Set(document.FieldLeaderNodeAddress, leader.ID()).
		Set(document.FieldLeaderRunningSince, leader.RunningSince())
}
