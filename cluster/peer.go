package cluster

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/2se/leaderlink/channel"
	"github.com/2se/leaderlink/common/security"
	"github.com/2se/leaderlink/config"
	"github.com/2se/leaderlink/document"
)

// SessionAllocator hands out session ids unique across all peers of a node.
type SessionAllocator interface {
	Next() int32
}

// ServiceFunc runs next to an established connection until ctx is cancelled.
// It must not call Disconnect on the peer it was started for.
type ServiceFunc func(ctx context.Context, p *RemotePeer)

type PeerOption func(*RemotePeer)

// WithDialer replaces channel.Dial, mostly for tests.
func WithDialer(dial channel.Dialer) PeerOption {
	return func(p *RemotePeer) {
		p.dial = dial
	}
}

// WithSettings shares a connection context with the channel. The socket
// timeout of the context is overwritten by Connect and SendHeartBeat.
func WithSettings(settings *config.Context) PeerOption {
	return func(p *RemotePeer) {
		p.settings = settings
	}
}

func WithService(fn ServiceFunc) PeerOption {
	return func(p *RemotePeer) {
		p.service = fn
	}
}

// RemotePeer is the leader side of the connection to one peer node.
//
// Status, channel presence and the connecting flag may be read from any
// goroutine. Exchanges on the channel are serialized per peer.
type RemotePeer struct {
	Address  string
	Port     int
	JoinedOn time.Time

	id       string
	leader   Leader
	sessions SessionAllocator
	dial     channel.Dialer
	settings *config.Context
	service  ServiceFunc

	status     atomic.Int32
	connecting atomic.Bool
	sessionID  atomic.Int32

	// io serializes request/response exchanges
	io sync.Mutex

	mu   sync.RWMutex
	ch   channel.Channel
	task *serviceTask

	log *log.Entry
}

func NewRemotePeer(leader Leader, sessions SessionAllocator, address string, port int, opts ...PeerOption) *RemotePeer {
	p := &RemotePeer{
		Address:  address,
		Port:     port,
		JoinedOn: time.Now(),
		id:       PeerID(address, port),
		leader:   leader,
		sessions: sessions,
		dial:     channel.Dial,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.settings == nil {
		p.settings = config.NewContext()
	}
	if p.sessions == nil {
		p.sessions = security.NewSessions()
	}

	// a peer is created when its address is discovered and the leader is
	// about to connect
	p.status.Store(int32(StatusConnecting))
	p.log = log.WithField("peer", p.id)
	return p
}

// PeerID is the identity of a peer node inside its cluster, "<address>:<port>"
// with the address as configured.
func PeerID(address string, port int) string {
	return address + ":" + strconv.Itoa(port)
}

func (p *RemotePeer) ID() string {
	return p.id
}

func (p *RemotePeer) String() string {
	return p.id
}

func (p *RemotePeer) Status() Status {
	return Status(p.status.Load())
}

// Connecting reports whether a Connect call is running.
func (p *RemotePeer) Connecting() bool {
	return p.connecting.Load()
}

// HasChannel reports whether a channel is currently held, open or not.
func (p *RemotePeer) HasChannel() bool {
	return p.channel() != nil
}

// SessionID returns the session negotiated by the last handshake.
func (p *RemotePeer) SessionID() int32 {
	return p.sessionID.Load()
}

// Connect opens a channel to the peer and performs the leader handshake.
//
// It returns (true, nil) once the peer accepted this node as its leader and
// the reconciled configuration was sent back. A peer that is itself the
// leader answers with a refusal: BecomePeer is invoked on the local leader
// and (false, nil) is returned. Transport and protocol failures come back
// as *ConnectionError; the status then stays CONNECTING and the caller
// decides whether to Disconnect.
func (p *RemotePeer) Connect(timeout time.Duration, clusterName string, key security.Key) (bool, error) {
	if !p.connecting.CompareAndSwap(false, true) {
		return false, ConnectInProgressErr
	}
	defer p.connecting.Store(false)

	p.io.Lock()
	defer p.io.Unlock()

	p.setStatus(StatusConnecting)
	p.settings.SetSocketTimeout(timeout)

	ch, err := p.dial(p.Address, p.Port, p.settings)
	if err != nil {
		return false, p.connectErr("open", err)
	}
	p.replaceChannel(ch)

	p.log.WithField("cluster", clusterName).Info("cluster: joining peer node, checking authorizations")

	accepted, err := p.handshake(ch, clusterName, key)
	if err != nil {
		return false, err
	}

	if !accepted {
		p.log.WithField("cluster", p.leader.ClusterName()).
			Warn("cluster: remote node refused the connection because it is the leader, switching to peer role")
		p.leader.BecomePeer()
		return false, nil
	}

	p.mu.Lock()
	if p.ch != ch {
		// disconnected while the handshake was running
		p.mu.Unlock()
		return false, p.connectErr("handshake", channel.ClosedErr)
	}
	p.status.Store(int32(StatusConnected))
	p.mu.Unlock()

	p.startService()
	p.log.WithField("session", p.sessionID.Load()).Info("cluster: peer node joined")
	return true, nil
}

func (p *RemotePeer) handshake(ch channel.Channel, clusterName string, key security.Key) (accepted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			accepted, err = false, p.connectErr("handshake", fmt.Errorf("panic: %v", r))
		}
	}()

	hello, err := handshakePayload(p.leader, clusterName, key).ToStream()
	if err != nil {
		return false, p.connectErr("encode", err)
	}

	sid := p.sessions.Next()
	p.sessionID.Store(sid)

	if err := request(ch, channel.RequestLeaderConnect, sid, writeBytes(hello)); err != nil {
		return false, p.connectErr("request", err)
	}

	var remote *document.Document
	err = response(ch, sid, func(r channel.Channel) error {
		remoteSession, err := r.ReadInt()
		if err != nil {
			return err
		}
		// later exchanges use the session chosen by the peer
		p.sessionID.Store(remoteSession)

		flag, err := r.ReadByte()
		if err != nil {
			return err
		}
		if flag == 0 {
			return nil
		}
		accepted = true

		raw, err := r.ReadBytes()
		if err != nil {
			return err
		}
		remote, err = document.FromStream(raw)
		return err
	})
	if err != nil {
		return false, p.connectErr("response", err)
	}
	if !accepted {
		return false, nil
	}

	answer, err := p.leader.UpdatePeerDatabases(p.id, remote)
	if err != nil {
		return false, p.connectErr("reconcile", err)
	}
	if answer == nil {
		answer = document.New()
	}

	raw, err := answer.ToStream()
	if err != nil {
		return false, p.connectErr("encode", err)
	}
	if err := message(ch, writeBytes(raw)); err != nil {
		return false, p.connectErr("answer", err)
	}
	return true, nil
}

// SendConfiguration pushes the distributed database configuration and waits
// for the acknowledgement. Failures are logged, never returned; the status is
// left as it is.
func (p *RemotePeer) SendConfiguration(cfg *document.Document) {
	p.log.Info("cluster: sending distributed configuration to peer node")

	if err := p.sendConfiguration(cfg); err != nil {
		p.log.WithError(err).Warn("cluster: error on sending distributed configuration to peer node")
	}
}

func (p *RemotePeer) sendConfiguration(cfg *document.Document) (err error) {
	defer recovered(&err)

	raw, err := cfg.ToStream()
	if err != nil {
		return err
	}

	p.io.Lock()
	defer p.io.Unlock()

	ch := p.channel()
	if ch == nil {
		return NotConnectedErr
	}

	sid := p.sessionID.Load()
	if err := request(ch, channel.RequestDistributedDBConfig, sid, writeBytes(raw)); err != nil {
		return err
	}
	return response(ch, sid, nil)
}

// SendHeartBeat sends one heartbeat and reports whether it was acknowledged
// within timeout. Peers that are not CONNECTED are skipped without I/O.
func (p *RemotePeer) SendHeartBeat(timeout time.Duration) bool {
	if p.Status() != StatusConnected || p.channel() == nil {
		return false
	}

	if err := p.sendHeartBeat(timeout); err != nil {
		p.log.WithError(err).Debug("cluster: heartbeat failed")
		return false
	}
	return true
}

func (p *RemotePeer) sendHeartBeat(timeout time.Duration) (err error) {
	defer recovered(&err)

	p.io.Lock()
	defer p.io.Unlock()

	ch := p.channel()
	if ch == nil {
		return NotConnectedErr
	}

	p.settings.SetSocketTimeout(timeout)
	p.log.Debug("cluster: sending heartbeat")

	sid := p.sessionID.Load()
	if err := request(ch, channel.RequestDistributedHeartbeat, sid, nil); err != nil {
		return err
	}
	return response(ch, sid, nil)
}

// CheckConnection looks at the transport flag of the channel without doing
// any I/O. When the channel is gone the status is forced to DISCONNECTED.
func (p *RemotePeer) CheckConnection() bool {
	if p.transportConnected() {
		return true
	}
	p.setStatus(StatusDisconnected)
	return false
}

func (p *RemotePeer) transportConnected() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	ch := p.channel()
	return ch != nil && ch.IsConnected()
}

// Disconnect closes and drops the channel and stops the service task. It is
// idempotent and does not wait for an in-flight exchange, which fails with an
// I/O error instead.
func (p *RemotePeer) Disconnect() {
	p.mu.Lock()
	ch, task := p.ch, p.task
	p.ch, p.task = nil, nil
	p.status.Store(int32(StatusDisconnected))
	p.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			p.log.WithError(err).Debug("cluster: error on closing channel")
		}
		p.log.Info("cluster: disconnected from peer node")
	}
	if task != nil {
		task.stop()
	}
}

func (p *RemotePeer) channel() channel.Channel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ch
}

// replaceChannel installs a freshly opened channel, closing a stale one left
// by a failed attempt.
func (p *RemotePeer) replaceChannel(ch channel.Channel) {
	p.mu.Lock()
	old, task := p.ch, p.task
	p.ch, p.task = ch, nil
	p.mu.Unlock()

	if old != nil {
		old.Close() //nolint:errcheck
	}
	if task != nil {
		task.stop()
	}
}

func (p *RemotePeer) setStatus(s Status) {
	if old := Status(p.status.Swap(int32(s))); old != s {
		p.log.WithFields(log.Fields{"from": old, "to": s}).Debug("cluster: peer status changed")
	}
}

func (p *RemotePeer) connectErr(op string, err error) error {
	return &ConnectionError{Peer: p.id, Op: op, Err: err}
}

type serviceTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *serviceTask) stop() {
	t.cancel()
	<-t.done
}

func (p *RemotePeer) startService() {
	if p.service == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &serviceTask{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	if p.ch == nil {
		p.mu.Unlock()
		cancel()
		return
	}
	p.task = t
	p.mu.Unlock()

	go func() {
		defer close(t.done)
		p.service(ctx, p)
	}()
}
