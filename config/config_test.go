package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[cluster]
name = "orbit"
self = "10.0.0.1:2424"
security_key = "s3cret"

[cluster.connection]
dial_timeout = "1s"
max_delay = "30s"
factor = 2.0

[cluster.connection.properties]
"network.retry" = "5"

[cluster.failover]
heartbeat = "500ms"

[[cluster.peers]]
address = "10.0.0.2"
port = 2434

[[cluster.peers]]
address = "10.0.0.3"

[peer]
listen = ":2434"
databases = ["demo", "geo"]
`

func TestConfigLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cnf, err := Load(path)
	require.NoError(t, err)

	ccnf := cnf.ClusterCnf
	assert.Equal(t, "orbit", ccnf.Name)
	assert.Equal(t, "10.0.0.1:2424", ccnf.Self)
	assert.Equal(t, time.Second, ccnf.Connection.DialTimeout.Get())
	assert.Equal(t, defaultSocketTimeout, ccnf.Connection.SocketTimeout.Get())
	assert.Equal(t, 500*time.Millisecond, ccnf.Failover.Heartbeat.Get())
	assert.Equal(t, defaultFailAfter, ccnf.Failover.NodeFailAfter)
	require.Len(t, ccnf.Peers, 2)
	assert.Equal(t, 2434, ccnf.Peers[0].Port)
	assert.Equal(t, defaultPeerPort, ccnf.Peers[1].Port)
	assert.Equal(t, []string{"demo", "geo"}, cnf.PeerCnf.Databases)
}

func TestConfigLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestNormalizeRequiresKey(t *testing.T) {
	_, err := Decode(`
[cluster]
name = "orbit"
`)
	assert.ErrorIs(t, err, NoSecurityKeyErr)

	_, err = Decode(`
[cluster]
security_key = "k"
`)
	assert.ErrorIs(t, err, NoClusterNameErr)
}

func TestContextFromConfig(t *testing.T) {
	cnf, err := Decode(sample)
	require.NoError(t, err)

	ctx, err := NewContextFrom(cnf.ClusterCnf.Connection)
	require.NoError(t, err)

	assert.Equal(t, time.Second, ctx.ConnectTimeout())
	assert.Equal(t, defaultSocketTimeout, ctx.SocketTimeout())

	v, ok := ctx.Value("network.retry")
	assert.True(t, ok)
	assert.Equal(t, "5", v)
}

func TestContextSocketTimeout(t *testing.T) {
	ctx := NewContext()
	assert.Zero(t, ctx.SocketTimeout())

	ctx.SetSocketTimeout(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, ctx.SocketTimeout())

	clone := ctx.Clone()
	ctx.SetSocketTimeout(time.Second)
	assert.Equal(t, 250*time.Millisecond, clone.SocketTimeout())
	assert.Equal(t, time.Second, ctx.SocketTimeout())
}
