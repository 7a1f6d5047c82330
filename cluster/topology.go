package cluster

import (
	"sort"
	"sync"

	"github.com/2se/leaderlink/document"
)

// topology records which peers hold which databases.
type topology struct {
	mu sync.RWMutex
	// database name -> sorted peer ids
	holders map[string][]string
}

func newTopology() *topology {
	return &topology{holders: make(map[string][]string)}
}

// assign replaces the set of databases held by peerID and reports whether
// anything changed.
func (t *topology) assign(peerID string, databases []string) bool {
	want := make(map[string]struct{}, len(databases))
	for _, db := range databases {
		if db != "" {
			want[db] = struct{}{}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for db, ids := range t.holders {
		if _, keep := want[db]; keep {
			continue
		}
		if i := indexOf(ids, peerID); i >= 0 {
			t.drop(db, i)
			changed = true
		}
	}

	for db := range want {
		ids := t.holders[db]
		if indexOf(ids, peerID) >= 0 {
			continue
		}
		ids = append(ids, peerID)
		sort.Strings(ids)
		t.holders[db] = ids
		changed = true
	}
	return changed
}

func (t *topology) remove(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for db, ids := range t.holders {
		if i := indexOf(ids, peerID); i >= 0 {
			t.drop(db, i)
			changed = true
		}
	}
	return changed
}

// drop must be called with mu held.
func (t *topology) drop(db string, i int) {
	ids := t.holders[db]
	ids = append(ids[:i:i], ids[i+1:]...)
	if len(ids) == 0 {
		delete(t.holders, db)
		return
	}
	t.holders[db] = ids
}

func (t *topology) holdersOf(db string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.holders[db]...)
}

// document renders the holders of the given databases, or of every known
// database when none are named, as {databases: {db: [peer ids]}}.
func (t *topology) document(databases ...string) *document.Document {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dbs := document.New()
	if len(databases) == 0 {
		for db, ids := range t.holders {
			dbs.Set(db, append([]string(nil), ids...))
		}
	}
	for _, db := range databases {
		dbs.Set(db, append([]string{}, t.holders[db]...))
	}
	return document.New().Set(document.FieldDatabases, dbs)
}

func indexOf(ids []string, id string) int {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return i
	}
	return -1
}
