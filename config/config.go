package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultDialTimeout   = 5 * time.Second
	defaultSocketTimeout = 10 * time.Second
	defaultHeartbeat     = 2 * time.Second
	defaultFailAfter     = 3
	defaultPeerPort      = 2434
)

var (
	NoClusterNameErr = errors.New("config: cluster name is empty")
	NoSecurityKeyErr = errors.New("config: cluster security key is empty")
)

type Config struct {
	ClusterCnf *ClusterConfig `toml:"cluster"`
	PeerCnf    *PeerConfig    `toml:"peer"`
	HttpCnf    *HttpConfig    `toml:"http"`
}

// ClusterConfig describes the leader side of the cluster link.
type ClusterConfig struct {
	// name shared by every node of the cluster
	Name string `toml:"name"`
	// identity of this node as announced to peers, usually host:port
	Self string `toml:"self"`
	// passphrase the cluster key is derived from
	SecurityKey string                   `toml:"security_key"`
	Connection  *ClusterConnectionConfig `toml:"connection"`
	Failover    *ClusterFailoverConfig   `toml:"failover"`
	Peers       []*ClusterPeerConfig     `toml:"peers"`
}

type ClusterConnectionConfig struct {
	DialTimeout   Duration `toml:"dial_timeout"`
	SocketTimeout Duration `toml:"socket_timeout"`
	MaxDelay      Duration `toml:"max_delay"`
	BaseDelay     Duration `toml:"base_delay"`
	Factor        float64  `toml:"factor"`
	Jitter        float64  `toml:"jitter"`
	// extra per-peer settings, copied into every peer's Context
	Properties map[string]string `toml:"properties"`
}

type ClusterFailoverConfig struct {
	Heartbeat     Duration `toml:"heartbeat"`
	NodeFailAfter int      `toml:"node_fail_after"`
}

type ClusterPeerConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// PeerConfig configures the responding side used by the peer command.
type PeerConfig struct {
	Listen    string   `toml:"listen"`
	Leader    bool     `toml:"leader"`
	Databases []string `toml:"databases"`
}

type HttpConfig struct {
	Listen string `toml:"listen"`
}

// Normalize fills in defaults and validates the cluster section.
func (cnf *Config) Normalize() error {
	if cnf.ClusterCnf == nil {
		return nil
	}
	return cnf.ClusterCnf.Normalize()
}

func (ccnf *ClusterConfig) Normalize() error {
	if ccnf.Name == "" {
		return NoClusterNameErr
	}

	if ccnf.SecurityKey == "" {
		return NoSecurityKeyErr
	}

	if ccnf.Connection == nil {
		ccnf.Connection = &ClusterConnectionConfig{}
	}

	if ccnf.Connection.DialTimeout.Get() <= 0 {
		ccnf.Connection.DialTimeout.Duration = defaultDialTimeout
	}

	if ccnf.Connection.SocketTimeout.Get() <= 0 {
		ccnf.Connection.SocketTimeout.Duration = defaultSocketTimeout
	}

	if ccnf.Failover == nil {
		ccnf.Failover = &ClusterFailoverConfig{}
	}

	if ccnf.Failover.Heartbeat.Get() <= 0 {
		ccnf.Failover.Heartbeat.Duration = defaultHeartbeat
	}

	if ccnf.Failover.NodeFailAfter <= 0 {
		ccnf.Failover.NodeFailAfter = defaultFailAfter
	}

	for _, p := range ccnf.Peers {
		if p.Address == "" {
			return fmt.Errorf("config: peer without address in cluster %q", ccnf.Name)
		}
		if p.Port <= 0 {
			p.Port = defaultPeerPort
		}
	}

	return nil
}

func (cnf *Config) String() string {
	if cnf.ClusterCnf != nil {
		return fmt.Sprintf("\n%s\n%s\n%s\n", cnf.ClusterCnf, cnf.PeerCnf, cnf.HttpCnf)
	}
	return "-"
}

func (ccnf *ClusterConfig) String() string {
	return fmt.Sprintf("\n[cluster]\nname: \"%s\" | self: \"%s\"\n%s\n[cluster.peers]: %s\n%s",
		ccnf.Name, ccnf.Self, ccnf.Connection, ccnf.Peers, ccnf.Failover)
}

func (ccc *ClusterConnectionConfig) String() string {
	if ccc == nil {
		return "[cluster.connection] -"
	}
	return fmt.Sprintf("[cluster.connection]\ndial timeout: %s | socket timeout: %s | (backoff)max delay: %s"+
		" | base delay: %s | factor: %f | jitter: %f\nproperties: %v",
		ccc.DialTimeout, ccc.SocketTimeout, ccc.MaxDelay, ccc.BaseDelay, ccc.Factor, ccc.Jitter, ccc.Properties)
}

func (cfc *ClusterFailoverConfig) String() string {
	if cfc == nil {
		return "\n[cluster.failover] -"
	}
	return fmt.Sprintf("\n[cluster.failover]\nheartbeat: %s | node_fail_after: %d", cfc.Heartbeat, cfc.NodeFailAfter)
}

func (cpc *ClusterPeerConfig) String() string {
	return fmt.Sprintf("\n{address: \"%s\", port: %d}", cpc.Address, cpc.Port)
}

func (pcnf *PeerConfig) String() string {
	if pcnf == nil {
		return "[peer] -"
	}
	return fmt.Sprintf("[peer]\nlisten: %s | leader: %v | databases: %v", pcnf.Listen, pcnf.Leader, pcnf.Databases)
}

func (hcnf *HttpConfig) String() string {
	if hcnf == nil {
		return "[http] -"
	}
	return fmt.Sprintf("[http]\nlisten: %s", hcnf.Listen)
}

// Duration is a time.Duration read from TOML text such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) Get() time.Duration {
	return d.Duration
}

func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return err
}
