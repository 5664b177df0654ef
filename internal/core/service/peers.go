package service

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
)

// PeerSnapshot is the observable view of one room peer.
type PeerSnapshot struct {
	ID     domain.PeerID
	State  domain.ConnectionState
	Remote *domain.MediaStream
}

type peerEntry struct {
	id         domain.PeerID
	conn       port.Connection
	candidates *bounded[domain.ICECandidate]
	timer      *time.Timer
	// awaiting is set while our offer has no answer yet.
	awaiting bool

	state  domain.ConnectionState
	remote *domain.MediaStream
}

// PeerTable is the single record of a room's peer connections, their remote
// streams and the last roster the relay sent. Only the owning RoomCall
// mutates it; observers get a fresh snapshot after every change.
type PeerTable struct {
	mu        sync.Mutex
	peers     map[domain.PeerID]*peerEntry
	roster    map[domain.PeerID]struct{}
	observers map[int]func([]PeerSnapshot)
	nextObs   int
}

func NewPeerTable() *PeerTable {
	return &PeerTable{
		peers:     make(map[domain.PeerID]*peerEntry),
		roster:    make(map[domain.PeerID]struct{}),
		observers: make(map[int]func([]PeerSnapshot)),
	}
}

// Observe registers f and returns a func removing it.
func (t *PeerTable) Observe(f func([]PeerSnapshot)) func() {
	t.mu.Lock()
	id := t.nextObs
	t.nextObs++
	t.observers[id] = f
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

func (t *PeerTable) Snapshot() []PeerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *PeerTable) Roster() []domain.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]domain.PeerID, 0, len(t.roster))
	for id := range t.roster {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (t *PeerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

func (t *PeerTable) get(id domain.PeerID) *peerEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peers[id]
}

func (t *PeerTable) ids() []domain.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]domain.PeerID, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}

func (t *PeerTable) put(e *peerEntry) {
	t.mu.Lock()
	t.peers[e.id] = e
	t.mu.Unlock()
	t.notify()
}

// remove drops id and returns its entry, or nil if there was none.
func (t *PeerTable) remove(id domain.PeerID) *peerEntry {
	t.mu.Lock()
	e, ok := t.peers[id]
	delete(t.peers, id)
	t.mu.Unlock()
	if ok {
		t.notify()
	}
	return e
}

func (t *PeerTable) setState(e *peerEntry, st domain.ConnectionState) {
	t.mu.Lock()
	e.state = st
	t.mu.Unlock()
	t.notify()
}

func (t *PeerTable) setRemote(e *peerEntry, s *domain.MediaStream) {
	t.mu.Lock()
	e.remote = s
	t.mu.Unlock()
	t.notify()
}

func (t *PeerTable) setRoster(ids []domain.PeerID) {
	t.mu.Lock()
	t.roster = make(map[domain.PeerID]struct{}, len(ids))
	for _, id := range ids {
		t.roster[id] = struct{}{}
	}
	t.mu.Unlock()
}

func (t *PeerTable) addRoster(id domain.PeerID) {
	t.mu.Lock()
	t.roster[id] = struct{}{}
	t.mu.Unlock()
}

func (t *PeerTable) dropRoster(id domain.PeerID) {
	t.mu.Lock()
	delete(t.roster, id)
	t.mu.Unlock()
}

func (t *PeerTable) notify() {
	t.mu.Lock()
	snap := t.snapshotLocked()
	obs := make([]func([]PeerSnapshot), 0, len(t.observers))
	for _, f := range t.observers {
		obs = append(obs, f)
	}
	t.mu.Unlock()
	for _, f := range obs {
		f(snap)
	}
}

func (t *PeerTable) snapshotLocked() []PeerSnapshot {
	out := make([]PeerSnapshot, 0, len(t.peers))
	for _, e := range t.peers {
		out = append(out, PeerSnapshot{ID: e.id, State: e.state, Remote: e.remote})
	}
	slices.SortFunc(out, func(a, b PeerSnapshot) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
