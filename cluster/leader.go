package cluster

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/2se/leaderlink/document"
)

// worker drives one remote peer: connect with backoff, then heartbeat until
// the peer fails too many times or the connection drops.
type worker struct {
	peer *RemotePeer
	// latest configuration waiting to be pushed; older ones are dropped
	configs  chan *document.Document
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newWorker(p *RemotePeer) *worker {
	return &worker{
		peer:     p,
		configs:  make(chan *document.Document, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// push queues cfg, replacing a configuration not yet sent.
func (w *worker) push(cfg *document.Document) {
	for {
		select {
		case w.configs <- cfg:
			return
		default:
		}
		select {
		case <-w.configs:
		default:
		}
	}
}

func (w *worker) close() {
	w.quitOnce.Do(func() {
		close(w.quit)
	})
}

func (n *Node) run(w *worker) {
	defer n.wg.Done()
	defer close(w.done)
	defer w.peer.Disconnect()

	id := w.peer.ID()
	socketTimeout := n.cnf.Connection.SocketTimeout.Get()

	for attempt := 0; ; {
		if n.quitting(w) {
			return
		}

		ok, err := w.peer.Connect(socketTimeout, n.cnf.Name, n.key)
		if err != nil {
			count("connects", id, "failed")
			log.WithError(err).WithField("peer", id).Debug("cluster: connect to peer node failed")
			w.peer.Disconnect()

			delay := n.backoff.Duration(attempt)
			attempt++
			if !n.sleep(w, delay) {
				return
			}
			continue
		}

		if !ok {
			count("connects", id, "refused")
			return
		}

		count("connects", id, "ok")
		attempt = 0

		if !n.heartbeat(w) {
			return
		}
		w.peer.Disconnect()
	}
}

// heartbeat pings the peer on every tick and pushes queued configurations.
// It returns true when the peer should be reconnected, false when the worker
// has to stop.
func (n *Node) heartbeat(w *worker) bool {
	id := w.peer.ID()
	timeout := n.cnf.Connection.SocketTimeout.Get()
	limit := n.cnf.Failover.NodeFailAfter

	ticker := time.NewTicker(n.cnf.Failover.Heartbeat.Get())
	defer ticker.Stop()

	failCount := 0
	for {
		select {
		case <-n.stop:
			return false
		case <-w.quit:
			return false
		case cfg := <-w.configs:
			w.peer.SendConfiguration(cfg)
		case <-ticker.C:
			if w.peer.SendHeartBeat(timeout) {
				count("heartbeats", id, "ok")
				if failCount > 0 {
					log.WithField("peer", id).Info("cluster: peer node recovered")
				}
				failCount = 0
				continue
			}

			count("heartbeats", id, "failed")
			failCount++

			if !w.peer.CheckConnection() {
				log.WithField("peer", id).Warn("cluster: connection to peer node lost")
				return true
			}
			// peer failed too many times
			if failCount >= limit {
				log.WithField("peer", id).Warnf("cluster: peer node missed %d heartbeats, reconnecting", failCount)
				return true
			}
		}
	}
}

func (n *Node) quitting(w *worker) bool {
	select {
	case <-n.stop:
		return true
	case <-w.quit:
		return true
	default:
		return false
	}
}

func (n *Node) sleep(w *worker, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-n.stop:
		return false
	case <-w.quit:
		return false
	}
}
