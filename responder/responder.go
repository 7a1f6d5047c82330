// Package responder implements the peer side of the leader link: it accepts
// leader connections, checks their credentials and acknowledges heartbeats
// and configuration pushes.
package responder

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"

	"github.com/2se/leaderlink/channel"
	"github.com/2se/leaderlink/common/security"
	"github.com/2se/leaderlink/document"
)

const defaultTimeout = 10 * time.Second

var ServerClosedErr = errors.New("responder: server closed")

type Option func(*Responder)

// WithDatabases sets the databases reported to the leader on connect.
func WithDatabases(dbs ...string) Option {
	return func(r *Responder) {
		r.databases = append([]string(nil), dbs...)
	}
}

// AsLeader makes the responder refuse every leader: it is the leader itself.
func AsLeader() Option {
	return func(r *Responder) {
		r.leader = true
	}
}

// WithWriteTimeout bounds every response write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Responder) {
		r.timeout = d
	}
}

type Responder struct {
	clusterName string
	key         security.Key
	databases   []string
	leader      bool
	timeout     time.Duration
	sessions    *security.Sessions

	mu     sync.Mutex
	ln     net.Listener
	closed atomic.Bool
	wg     sync.WaitGroup
	conns  *xsync.MapOf[string, *channel.ServerConn]

	rejectHeartbeats atomic.Bool
	heartbeatDelay   atomic.Int64
	heartbeats       atomic.Int64
	leaderID         atomic.Value
	assignment       atomic.Pointer[document.Document]
	lastConfig       atomic.Pointer[document.Document]
}

func New(clusterName string, key security.Key, opts ...Option) *Responder {
	r := &Responder{
		clusterName: clusterName,
		key:         key,
		timeout:     defaultTimeout,
		sessions:    security.NewSessions(),
		conns:       xsync.NewMapOf[string, *channel.ServerConn](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Responder) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.Serve(ln)
}

// Serve accepts leader connections on ln until Close is called, then
// returns ServerClosedErr.
func (r *Responder) Serve(ln net.Listener) error {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		ln.Close()
		return ServerClosedErr
	}
	r.ln = ln
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"cluster": r.clusterName,
		"addr":    ln.Addr().String(),
		"leader":  r.leader,
	}).Info("responder: accepting leader connections")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if r.closed.Load() {
				return ServerClosedErr
			}
			return err
		}

		r.wg.Add(1)
		go r.handle(conn)
	}
}

// Addr is the listening address, nil before Serve.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Close stops accepting, drops every open connection and waits for the
// handlers to return.
func (r *Responder) Close() error {
	r.closed.Store(true)

	r.mu.Lock()
	var err error
	if r.ln != nil {
		err = r.ln.Close()
	}
	r.mu.Unlock()

	r.conns.Range(func(_ string, sc *channel.ServerConn) bool {
		sc.Close()
		return true
	})
	r.wg.Wait()
	return err
}

// DelayHeartbeats holds every heartbeat acknowledgement back by d.
func (r *Responder) DelayHeartbeats(d time.Duration) {
	r.heartbeatDelay.Store(int64(d))
}

// RejectHeartbeats makes heartbeats fail with an error response while the
// connection stays open.
func (r *Responder) RejectHeartbeats(reject bool) {
	r.rejectHeartbeats.Store(reject)
}

func (r *Responder) Heartbeats() int64 {
	return r.heartbeats.Load()
}

// LeaderID is the address announced by the leader that joined last.
func (r *Responder) LeaderID() string {
	s, _ := r.leaderID.Load().(string)
	return s
}

// Assignment is the configuration the leader answered with on connect.
func (r *Responder) Assignment() *document.Document {
	return r.assignment.Load()
}

// LastConfiguration is the last distributed configuration pushed by the
// leader.
func (r *Responder) LastConfiguration() *document.Document {
	return r.lastConfig.Load()
}

// Connections is the number of open leader connections.
func (r *Responder) Connections() int {
	return r.conns.Size()
}

func (r *Responder) handle(conn net.Conn) {
	id := uuid.NewString()
	sc := channel.NewServerConn(conn, r.timeout)
	r.conns.Store(id, sc)

	logger := log.WithFields(log.Fields{"conn": id, "remote": sc.RemoteAddr().String()})
	logger.Debug("responder: leader connection opened")

	defer func() {
		r.conns.Delete(id)
		sc.Close()
		r.wg.Done()
		logger.Debug("responder: leader connection closed")
	}()

	s := &session{Responder: r, sc: sc, log: logger}
	for {
		msg, err := sc.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !r.closed.Load() {
				logger.WithError(err).Debug("responder: read failed")
			}
			return
		}

		if err := s.dispatch(msg); err != nil {
			logger.WithError(err).Warn("responder: dropping leader connection")
			return
		}
	}
}

// session is the state of one leader connection.
type session struct {
	*Responder
	sc  *channel.ServerConn
	id  int32
	log *log.Entry
}

// dispatch answers one request. A returned error closes the connection.
func (s *session) dispatch(msg *channel.Decoder) error {
	op, err := msg.ReadByte()
	if err != nil {
		return err
	}
	sid, err := msg.ReadInt()
	if err != nil {
		return err
	}

	switch op {
	case channel.RequestLeaderConnect:
		return s.join(sid, msg)

	case channel.RequestDistributedHeartbeat:
		if s.id == 0 || sid != s.id {
			return s.sc.WriteError(sid, "unknown session")
		}
		if s.rejectHeartbeats.Load() {
			return s.sc.WriteError(sid, "heartbeat rejected")
		}
		if d := time.Duration(s.heartbeatDelay.Load()); d > 0 {
			time.Sleep(d)
		}
		s.heartbeats.Add(1)
		return s.sc.WriteOK(sid, nil)

	case channel.RequestDistributedDBConfig:
		if s.id == 0 || sid != s.id {
			return s.sc.WriteError(sid, "unknown session")
		}
		raw, err := msg.ReadBytes()
		if err != nil {
			return s.sc.WriteError(sid, "malformed configuration")
		}
		cfg, err := document.FromStream(raw)
		if err != nil {
			return s.sc.WriteError(sid, "malformed configuration")
		}
		s.lastConfig.Store(cfg)
		s.log.WithField("databases", cfg.Document(document.FieldDatabases).Names()).
			Info("responder: distributed configuration received")
		return s.sc.WriteOK(sid, nil)
	}

	return s.sc.WriteError(sid, fmt.Sprintf("unknown request %d", op))
}

func (s *session) join(sid int32, msg *channel.Decoder) error {
	raw, err := msg.ReadBytes()
	if err != nil {
		return s.sc.WriteError(sid, "malformed handshake")
	}
	hello, err := document.FromStream(raw)
	if err != nil {
		return s.sc.WriteError(sid, "malformed handshake")
	}

	if name := hello.String(document.FieldClusterName); name != s.clusterName {
		s.log.WithField("cluster", name).Warn("responder: leader belongs to another cluster")
		return s.sc.WriteError(sid, "cluster name mismatch")
	}
	if !s.key.Matches(hello.Bytes(document.FieldClusterKey)) {
		s.log.Warn("responder: leader presented a wrong cluster key")
		return s.sc.WriteError(sid, "cluster key mismatch")
	}

	leaderID := hello.String(document.FieldLeaderNodeAddress)
	if s.leader {
		s.log.WithField("leader", leaderID).Warn("responder: refusing leader, this node is the leader")
		return s.sc.WriteOK(sid, func(e *channel.Encoder) error {
			e.WriteInt(0) //nolint:errcheck
			return e.WriteByte(0)
		})
	}

	cfg, err := document.New().Set(document.FieldDatabases, s.databases).ToStream()
	if err != nil {
		return err
	}

	s.id = s.sessions.Next()
	err = s.sc.WriteOK(sid, func(e *channel.Encoder) error {
		e.WriteInt(s.id) //nolint:errcheck
		e.WriteByte(1)   //nolint:errcheck
		return e.WriteBytes(cfg)
	})
	if err != nil {
		return err
	}

	// the leader follows up with the reconciled configuration
	answer, err := s.sc.ReadMessage()
	if err != nil {
		return err
	}
	raw, err = answer.ReadBytes()
	if err != nil {
		return err
	}
	assigned, err := document.FromStream(raw)
	if err != nil {
		return err
	}

	s.assignment.Store(assigned)
	s.leaderID.Store(leaderID)
	s.log.WithFields(log.Fields{
		"leader":  leaderID,
		"session": s.id,
		"since":   hello.Time(document.FieldLeaderRunningSince),
	}).Info("responder: joined leader")
	return nil
}
