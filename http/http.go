package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	log "github.com/sirupsen/logrus"

	"github.com/2se/leaderlink/cluster"
)

const shutdownTimeout = 5 * time.Second

// Node is the part of the local leader exposed over HTTP.
type Node interface {
	ID() string
	ClusterName() string
	IsLeader() bool
	Peers() []*cluster.RemotePeer
}

type peerInfo struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	Port     int       `json:"port"`
	Status   string    `json:"status"`
	JoinedOn time.Time `json:"joinedOn"`
}

type nodeInfo struct {
	Node    string     `json:"node"`
	Cluster string     `json:"cluster"`
	Leader  bool       `json:"leader"`
	Peers   []peerInfo `json:"peers"`
}

type errorMessage struct {
	Timestamp time.Time `json:"ts"`
	Code      int       `json:"code"`
	Text      string    `json:"text"`
}

// NewHandler serves /metrics in Prometheus text format and the peer table
// under /peers.
func NewHandler(node Node) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(wrt http.ResponseWriter, req *http.Request) {
		metrics.WritePrometheus(wrt, true)
	})
	mux.HandleFunc("/peers", func(wrt http.ResponseWriter, req *http.Request) {
		servePeers(node, wrt, req)
	})
	mux.HandleFunc("/", Serve404)
	return mux
}

func servePeers(node Node, wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(wrt, http.StatusMethodNotAllowed, errorMessage{
			Timestamp: now(),
			Code:      http.StatusMethodNotAllowed,
			Text:      "method not allowed",
		})
		return
	}

	info := nodeInfo{
		Node:    node.ID(),
		Cluster: node.ClusterName(),
		Leader:  node.IsLeader(),
		Peers:   []peerInfo{},
	}
	for _, p := range node.Peers() {
		info.Peers = append(info.Peers, peerInfo{
			ID:       p.ID(),
			Address:  p.Address,
			Port:     p.Port,
			Status:   p.Status().String(),
			JoinedOn: p.JoinedOn.UTC(),
		})
	}
	writeJSON(wrt, http.StatusOK, info)
}

// Custom 404 response.
func Serve404(wrt http.ResponseWriter, req *http.Request) {
	writeJSON(wrt, http.StatusNotFound, errorMessage{
		Timestamp: now(),
		Code:      http.StatusNotFound,
		Text:      "not found",
	})
}

// ListenAndServe runs the handler on addr until stop fires.
func ListenAndServe(addr string, node Node, stop <-chan bool) error {
	srv := &http.Server{Addr: addr, Handler: NewHandler(node)}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http: listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("http: shutdown failed")
			return err
		}
		log.Info("http: server stopped")
		return nil
	}
}

func writeJSON(wrt http.ResponseWriter, code int, v interface{}) {
	wrt.Header().Set("Content-Type", "application/json; charset=utf-8")
	wrt.WriteHeader(code)
	if err := json.NewEncoder(wrt).Encode(v); err != nil {
		log.WithError(err).Debug("http: failed to write response")
	}
}

func now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
