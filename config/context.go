package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/magiconair/properties"
)

const (
	KeySocketTimeout  = "network.socketTimeout"
	KeyConnectTimeout = "network.connectTimeout"
)

// Context holds the mutable settings of a single peer connection. The peer
// owns it and updates the socket timeout before every network operation; the
// channel reads it when it arms connection deadlines.
type Context struct {
	mu    sync.RWMutex
	props *properties.Properties
}

func NewContext() *Context {
	return &Context{props: properties.NewProperties()}
}

// NewContextFrom seeds a Context from the connection section of the config.
func NewContextFrom(cnf *ClusterConnectionConfig) (*Context, error) {
	c := NewContext()
	if cnf == nil {
		return c, nil
	}

	for k, v := range cnf.Properties {
		if err := c.SetValue(k, v); err != nil {
			return nil, err
		}
	}

	if cnf.DialTimeout.Get() > 0 {
		if err := c.SetValue(KeyConnectTimeout, cnf.DialTimeout.Get()); err != nil {
			return nil, err
		}
	}

	if cnf.SocketTimeout.Get() > 0 {
		if err := c.SetValue(KeySocketTimeout, cnf.SocketTimeout.Get()); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// SetValue stores value under key using its fmt representation.
func (c *Context) SetValue(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, err := c.props.Set(key, fmt.Sprint(value)); err != nil {
		return fmt.Errorf("config: set %s: %w", key, err)
	}
	return nil
}

func (c *Context) Value(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.props.Get(key)
}

func (c *Context) Duration(key string, def time.Duration) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.props.GetParsedDuration(key, def)
}

func (c *Context) SetSocketTimeout(timeout time.Duration) {
	// a duration string never contains an expansion, Set cannot fail here
	_ = c.SetValue(KeySocketTimeout, timeout)
}

// SocketTimeout is zero when no timeout was configured, which means no deadline.
func (c *Context) SocketTimeout() time.Duration {
	return c.Duration(KeySocketTimeout, 0)
}

func (c *Context) ConnectTimeout() time.Duration {
	return c.Duration(KeyConnectTimeout, defaultDialTimeout)
}

// Clone returns an independent copy, so peers never share a Context.
func (c *Context) Clone() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := NewContext()
	for _, k := range c.props.Keys() {
		v, _ := c.props.Get(k)
		clone.props.Set(k, v) //nolint:errcheck
	}
	return clone
}
