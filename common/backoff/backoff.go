package backoff

import (
	"math/rand"
	"time"

	"github.com/2se/leaderlink/config"
)

const (
	defaultMaxDelay  = time.Minute
	defaultBaseDelay = 200 * time.Millisecond
	defaultFactor    = 1.6
	defaultJitter    = 0.2
)

// Backoff paces reconnect attempts to an unreachable peer.
type Backoff struct {
	MaxDelay  time.Duration
	baseDelay time.Duration
	factor    float64
	jitter    float64
}

// New builds a Backoff from the connection config, falling back to defaults
// for every unset field. A nil config yields the defaults.
func New(cnf *config.ClusterConnectionConfig) *Backoff {
	b := &Backoff{
		MaxDelay:  defaultMaxDelay,
		baseDelay: defaultBaseDelay,
		factor:    defaultFactor,
		jitter:    defaultJitter,
	}

	if cnf == nil {
		return b
	}

	if cnf.Factor > 1 {
		b.factor = cnf.Factor
	}
	if cnf.Jitter > 0 && cnf.Jitter < 1 {
		b.jitter = cnf.Jitter
	}
	if cnf.MaxDelay.Get() > 0 {
		b.MaxDelay = cnf.MaxDelay.Get()
	}
	if cnf.BaseDelay.Get() > 0 {
		b.baseDelay = cnf.BaseDelay.Get()
	}
	if b.baseDelay > b.MaxDelay {
		b.baseDelay = b.MaxDelay
	}

	return b
}

// Duration returns how long to wait before attempt number retries+1.
func (bc *Backoff) Duration(retries int) time.Duration {
	if retries <= 0 {
		return bc.baseDelay
	}

	backoff, max := float64(bc.baseDelay), float64(bc.MaxDelay)
	for backoff < max && retries > 0 {
		backoff *= bc.factor
		retries--
	}

	if backoff > max {
		backoff = max
	}

	backoff *= 1 + bc.jitter*(rand.Float64()*2-1)
	if backoff < 0 {
		return 0
	}

	return time.Duration(backoff)
}
