package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/2se/leaderlink/channel"
	"github.com/2se/leaderlink/common/backoff"
	"github.com/2se/leaderlink/common/security"
	"github.com/2se/leaderlink/config"
	"github.com/2se/leaderlink/document"
)

var _ Leader = (*Node)(nil)

type NodeOption func(*Node)

// WithNodeDialer makes every peer of the node dial through d.
func WithNodeDialer(d channel.Dialer) NodeOption {
	return func(n *Node) {
		n.dial = d
	}
}

// Node is the local leader: it keeps one worker per configured peer that
// connects, heartbeats and pushes configuration changes.
type Node struct {
	id           string
	runningSince time.Time
	cnf          *config.ClusterConfig
	key          security.Key
	settings     *config.Context
	sessions     *security.Sessions
	dial         channel.Dialer
	backoff      *backoff.Backoff

	peers    *xsync.MapOf[string, *worker]
	topology *topology

	leading    atomic.Bool
	demoted    chan struct{}
	demoteOnce sync.Once
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	// 当前处于连接状态的对等节点数量
	connected atomic.Int64
}

func NewNode(cnf *config.ClusterConfig, opts ...NodeOption) (*Node, error) {
	if cnf == nil {
		return nil, NoConfigErr
	}
	if err := cnf.Normalize(); err != nil {
		return nil, err
	}

	// every peer starts from a copy of these
	settings, err := config.NewContextFrom(cnf.Connection)
	if err != nil {
		return nil, err
	}

	id := cnf.Self
	if id == "" {
		id = "node-" + uuid.NewString()
		log.WithField("node", id).Info("cluster: no self address configured, generated a node id")
	}

	n := &Node{
		id:           id,
		runningSince: time.Now(),
		cnf:          cnf,
		key:          security.DeriveKey(cnf.SecurityKey, cnf.Name),
		settings:     settings,
		sessions:     security.NewSessions(),
		dial:         channel.Dial,
		backoff:      backoff.New(cnf.Connection),
		peers:        xsync.NewMapOf[string, *worker](),
		topology:     newTopology(),
		demoted:      make(chan struct{}),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.leading.Store(true)

	metrics.GetOrCreateGauge(fmt.Sprintf(`leaderlink_connected_peers{node=%q}`, n.id), func() float64 {
		return float64(n.connected.Load())
	})
	return n, nil
}

// Start registers every peer from the configuration.
func (n *Node) Start() error {
	for _, pc := range n.cnf.Peers {
		if _, err := n.AddPeer(pc.Address, pc.Port); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{
		"node":    n.id,
		"cluster": n.cnf.Name,
		"key":     n.key.Fingerprint(),
	}).Infof("cluster: leader started with %d peers", n.peers.Size())
	return nil
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) RunningSince() time.Time {
	return n.runningSince
}

func (n *Node) ClusterName() string {
	return n.cnf.Name
}

func (n *Node) IsLeader() bool {
	return n.leading.Load()
}

// Demoted is closed once another leader won and this node stepped down.
func (n *Node) Demoted() <-chan struct{} {
	return n.demoted
}

// BecomePeer steps the node down: workers stop and their connections are
// closed. It only signals and never waits.
func (n *Node) BecomePeer() {
	n.demoteOnce.Do(func() {
		n.leading.Store(false)
		log.WithField("node", n.id).Warn("cluster: another leader is running, this node steps down to peer")
		close(n.demoted)
		n.halt()
	})
}

// UpdatePeerDatabases records the databases a peer holds and answers with the
// holders of each of them. Other connected peers get the new configuration
// when the topology changed.
func (n *Node) UpdatePeerDatabases(peerID string, remote *document.Document) (*document.Document, error) {
	var dbs []string
	if remote != nil {
		dbs = remote.Strings(document.FieldDatabases)
	}

	changed := n.topology.assign(peerID, dbs)
	answer := document.New().Set(document.FieldDatabases, document.New())
	if len(dbs) > 0 {
		answer = n.topology.document(dbs...)
	}

	log.WithFields(log.Fields{"peer": peerID, "databases": dbs}).Debug("cluster: peer databases updated")

	if changed {
		n.broadcast(peerID)
	}
	return answer, nil
}

// DistributedConfiguration is the full database topology.
func (n *Node) DistributedConfiguration() *document.Document {
	return n.topology.document()
}

// Holders returns the ids of the peers holding db.
func (n *Node) Holders(db string) []string {
	return n.topology.holdersOf(db)
}

// AddPeer registers a peer and starts its worker.
func (n *Node) AddPeer(address string, port int) (*RemotePeer, error) {
	if !n.IsLeader() {
		return nil, NotLeaderErr
	}
	if n.stopped() {
		return nil, StoppedErr
	}

	p := NewRemotePeer(n, n.sessions, address, port,
		WithDialer(n.dial),
		WithSettings(n.settings.Clone()),
		WithService(n.track),
	)

	w := newWorker(p)
	if _, loaded := n.peers.LoadOrStore(p.ID(), w); loaded {
		return nil, PeerExistsErr
	}

	n.wg.Add(1)
	go n.run(w)
	return p, nil
}

// RemovePeer stops the worker of a peer and disconnects it.
func (n *Node) RemovePeer(id string) bool {
	w, ok := n.peers.LoadAndDelete(id)
	if !ok {
		return false
	}

	w.close()
	w.peer.Disconnect()
	<-w.done

	if n.topology.remove(id) {
		n.broadcast(id)
	}
	log.WithField("peer", id).Info("cluster: peer node removed")
	return true
}

func (n *Node) Peer(id string) (*RemotePeer, bool) {
	w, ok := n.peers.Load(id)
	if !ok {
		return nil, false
	}
	return w.peer, true
}

// Peers returns the registered peers ordered by id.
func (n *Node) Peers() []*RemotePeer {
	var peers []*RemotePeer
	n.peers.Range(func(_ string, w *worker) bool {
		peers = append(peers, w.peer)
		return true
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })
	return peers
}

// Shutdown stops every worker and waits for them to disconnect.
func (n *Node) Shutdown() {
	n.halt()
	n.wg.Wait()
	log.WithField("node", n.id).Info("cluster: leader shut down")
}

func (n *Node) halt() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})
}

func (n *Node) stopped() bool {
	select {
	case <-n.stop:
		return true
	default:
		return false
	}
}

// broadcast queues the current configuration for every connected peer
// except the one that caused the change.
func (n *Node) broadcast(except string) {
	cfg := n.DistributedConfiguration()
	n.peers.Range(func(id string, w *worker) bool {
		if id != except && w.peer.Status() == StatusConnected {
			w.push(cfg)
		}
		return true
	})
}

// track keeps the connected peers gauge up to date for the lifetime of a
// connection.
func (n *Node) track(ctx context.Context, _ *RemotePeer) {
	n.connected.Add(1)
	defer n.connected.Add(-1)
	<-ctx.Done()
}

func count(kind, peer, result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`leaderlink_%s_total{peer=%q,result=%q}`, kind, peer, result)).Inc()
}
