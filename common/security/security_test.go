package security

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsUniqueUnderConcurrency(t *testing.T) {
	const workers, perWorker = 16, 500

	sessions := NewSessions()
	ids := make(chan int32, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- sessions.Next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int32]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "session id %d issued twice", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("passphrase", "orbit")
	b := DeriveKey("passphrase", "orbit")
	other := DeriveKey("passphrase", "nebula")

	assert.Len(t, a.Encoded(), keyLength)
	assert.True(t, a.Matches(b.Encoded()))
	assert.False(t, a.Matches(other.Encoded()))
	assert.False(t, Key{}.Matches(nil))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	raw := a.Encoded()
	raw[0] ^= 0xff
	assert.True(t, a.Matches(b.Encoded()), "Encoded must hand out a copy")
}
