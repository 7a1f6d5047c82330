package cluster

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2se/leaderlink/config"
	"github.com/2se/leaderlink/document"
	"github.com/2se/leaderlink/responder"
)

func testClusterConfig() *config.ClusterConfig {
	return &config.ClusterConfig{
		Name:        testCluster,
		Self:        "127.0.0.1:2434",
		SecurityKey: "s3cret",
		Connection: &config.ClusterConnectionConfig{
			SocketTimeout: config.Duration{Duration: time.Second},
			BaseDelay:     config.Duration{Duration: 20 * time.Millisecond},
			MaxDelay:      config.Duration{Duration: 100 * time.Millisecond},
		},
		Failover: &config.ClusterFailoverConfig{
			Heartbeat:     config.Duration{Duration: 20 * time.Millisecond},
			NodeFailAfter: 2,
		},
	}
}

func newTestNode(t *testing.T) *Node {
	t.Helper()

	n, err := NewNode(testClusterConfig())
	require.NoError(t, err)
	t.Cleanup(n.Shutdown)
	return n
}

func waitStatus(t *testing.T, p *RemotePeer, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Status() == want }, 2*time.Second, 10*time.Millisecond,
		"peer %s never reached %s", p, want)
}

func TestNewNode(t *testing.T) {
	_, err := NewNode(nil)
	assert.ErrorIs(t, err, NoConfigErr)

	_, err = NewNode(&config.ClusterConfig{SecurityKey: "s3cret"})
	assert.ErrorIs(t, err, config.NoClusterNameErr)

	cnf := testClusterConfig()
	cnf.Self = ""
	n, err := NewNode(cnf)
	require.NoError(t, err)
	assert.Contains(t, n.ID(), "node-")
	assert.Equal(t, testCluster, n.ClusterName())
	assert.True(t, n.IsLeader())
	assert.False(t, n.RunningSince().IsZero())
	n.Shutdown()
}

func TestNodeConnectsAndHeartbeats(t *testing.T) {
	r1, port1 := startResponder(t, responder.WithDatabases("demo", "geo"))
	r2, port2 := startResponder(t, responder.WithDatabases("demo"))

	n := newTestNode(t)

	p1, err := n.AddPeer("127.0.0.1", port1)
	require.NoError(t, err)
	waitStatus(t, p1, StatusConnected)

	p2, err := n.AddPeer("127.0.0.1", port2)
	require.NoError(t, err)
	waitStatus(t, p2, StatusConnected)

	require.Eventually(t, func() bool { return r1.Heartbeats() > 0 && r2.Heartbeats() > 0 },
		2*time.Second, 10*time.Millisecond)

	assert.Equal(t, sortedIDs(p1, p2), n.Holders("demo"))
	assert.Equal(t, []string{p1.ID()}, n.Holders("geo"))

	// the first peer hears about the second one
	require.Eventually(t, func() bool {
		cfg := r1.LastConfiguration()
		return cfg != nil && len(cfg.Document(document.FieldDatabases).Strings("demo")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// the second peer got the holders on connect
	require.Eventually(t, func() bool { return r2.Assignment() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, sortedIDs(p1, p2), r2.Assignment().Document(document.FieldDatabases).Strings("demo"))

	assert.Equal(t, sortedIDs(p1, p2), sortedIDs(n.Peers()...))

	n.Shutdown()
	assert.Equal(t, StatusDisconnected, p1.Status())
	assert.Equal(t, StatusDisconnected, p2.Status())
	require.Eventually(t, func() bool { return r1.Connections() == 0 && r2.Connections() == 0 },
		2*time.Second, 10*time.Millisecond)

	_, err = n.AddPeer("127.0.0.1", 1)
	assert.ErrorIs(t, err, StoppedErr)
}

func TestNodeStepsDownWhenPeerIsLeader(t *testing.T) {
	_, port := startResponder(t, responder.AsLeader())

	cnf := testClusterConfig()
	cnf.Peers = []*config.ClusterPeerConfig{{Address: "127.0.0.1", Port: port}}

	n, err := NewNode(cnf)
	require.NoError(t, err)
	require.NoError(t, n.Start())

	select {
	case <-n.Demoted():
	case <-time.After(2 * time.Second):
		t.Fatal("node never stepped down")
	}

	assert.False(t, n.IsLeader())
	_, err = n.AddPeer("127.0.0.1", port+1)
	assert.ErrorIs(t, err, NotLeaderErr)

	n.Shutdown()
	for _, p := range n.Peers() {
		assert.False(t, p.HasChannel())
	}
}

func TestNodeReconnectsAfterMissedHeartbeats(t *testing.T) {
	r, port := startResponder(t)
	n := newTestNode(t)

	p, err := n.AddPeer("127.0.0.1", port)
	require.NoError(t, err)
	waitStatus(t, p, StatusConnected)
	first := p.SessionID()

	r.RejectHeartbeats(true)
	require.Eventually(t, func() bool { return p.SessionID() > first }, 2*time.Second, 10*time.Millisecond)

	r.RejectHeartbeats(false)
	waitStatus(t, p, StatusConnected)
}

func TestNodeRetriesUnreachablePeer(t *testing.T) {
	n := newTestNode(t)

	p, err := n.AddPeer("127.0.0.1", closedPort(t))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.NotEqual(t, StatusConnected, p.Status())

	done := make(chan struct{})
	go func() {
		n.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked on a retrying worker")
	}
}

func TestNodeAddRemovePeer(t *testing.T) {
	_, port := startResponder(t, responder.WithDatabases("demo"))
	n := newTestNode(t)

	p, err := n.AddPeer("127.0.0.1", port)
	require.NoError(t, err)
	waitStatus(t, p, StatusConnected)

	_, err = n.AddPeer("127.0.0.1", port)
	assert.ErrorIs(t, err, PeerExistsErr)

	got, ok := n.Peer(p.ID())
	require.True(t, ok)
	assert.Same(t, p, got)
	assert.Equal(t, []string{p.ID()}, n.Holders("demo"))

	assert.True(t, n.RemovePeer(p.ID()))
	assert.False(t, n.RemovePeer(p.ID()))
	assert.Equal(t, StatusDisconnected, p.Status())
	assert.False(t, p.HasChannel())
	assert.Empty(t, n.Holders("demo"))

	_, ok = n.Peer(p.ID())
	assert.False(t, ok)
}

func TestUpdatePeerDatabases(t *testing.T) {
	n := newTestNode(t)

	reported := func(dbs ...string) *document.Document {
		return document.New().Set(document.FieldDatabases, dbs)
	}

	answer, err := n.UpdatePeerDatabases("10.0.0.1:2434", reported("users", "orders"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:2434"}, answer.Document(document.FieldDatabases).Strings("users"))
	assert.Equal(t, []string{"10.0.0.1:2434"}, answer.Document(document.FieldDatabases).Strings("orders"))

	answer, err = n.UpdatePeerDatabases("10.0.0.0:2434", reported("users"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0:2434", "10.0.0.1:2434"}, answer.Document(document.FieldDatabases).Strings("users"))
	assert.Equal(t, []string{"users"}, answer.Document(document.FieldDatabases).Names())

	// a peer reporting again replaces what it held before
	_, err = n.UpdatePeerDatabases("10.0.0.1:2434", reported("orders"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0:2434"}, n.Holders("users"))

	answer, err = n.UpdatePeerDatabases("10.0.0.2:2434", nil)
	require.NoError(t, err)
	assert.Zero(t, answer.Document(document.FieldDatabases).Len())

	full := n.DistributedConfiguration().Document(document.FieldDatabases)
	assert.Equal(t, []string{"orders", "users"}, full.Names())
}

func TestWorkerPushKeepsLatest(t *testing.T) {
	w := newWorker(nil)
	first := document.New().Set("v", 1)
	second := document.New().Set("v", 2)

	w.push(first)
	w.push(second)

	assert.Same(t, second, <-w.configs)
	select {
	case <-w.configs:
		t.Fatal("stale configuration left in the queue")
	default:
	}
}

func sortedIDs(peers ...*RemotePeer) []string {
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.ID()
	}
	sort.Strings(ids)
	return ids
}
