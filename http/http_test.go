package http

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2se/leaderlink/cluster"
	"github.com/2se/leaderlink/config"
)

func newNode(t *testing.T) *cluster.Node {
	t.Helper()

	n, err := cluster.NewNode(&config.ClusterConfig{
		Name:        "orbit",
		Self:        "127.0.0.1:2434",
		SecurityKey: "s3cret",
	})
	require.NoError(t, err)
	t.Cleanup(n.Shutdown)
	return n
}

func closedPort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestPeers(t *testing.T) {
	n := newNode(t)
	p, err := n.AddPeer("127.0.0.1", closedPort(t))
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(n))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/peers")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var info nodeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "127.0.0.1:2434", info.Node)
	assert.Equal(t, "orbit", info.Cluster)
	assert.True(t, info.Leader)
	require.Len(t, info.Peers, 1)
	assert.Equal(t, p.ID(), info.Peers[0].ID)
	assert.Equal(t, p.Port, info.Peers[0].Port)
	assert.NotEqual(t, "CONNECTED", info.Peers[0].Status)

	resp, err = http.Post(srv.URL+"/peers", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	n := newNode(t)

	rec := httptest.NewRecorder()
	NewHandler(n).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `leaderlink_connected_peers{node="127.0.0.1:2434"}`)
}

func TestServe404(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(newNode(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var msg errorMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, http.StatusNotFound, msg.Code)
	assert.Equal(t, "not found", msg.Text)
	assert.WithinDuration(t, time.Now(), msg.Timestamp, time.Minute)
}

func TestListenAndServeStops(t *testing.T) {
	n := newNode(t)
	stop := make(chan bool, 1)
	errc := make(chan error, 1)
	go func() { errc <- ListenAndServe("127.0.0.1:0", n, stop) }()

	time.Sleep(50 * time.Millisecond)
	stop <- true

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
