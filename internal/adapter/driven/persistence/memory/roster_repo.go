package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
)

type RosterRepository struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.PeerID]struct{}
	peers map[domain.PeerID]map[domain.RoomID]struct{}
}

func NewRosterRepository() *RosterRepository {
	return &RosterRepository{
		rooms: make(map[domain.RoomID]map[domain.PeerID]struct{}),
		peers: make(map[domain.PeerID]map[domain.RoomID]struct{}),
	}
}

func (r *RosterRepository) Join(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.PeerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[domain.PeerID]struct{})
		r.rooms[room] = members
	}
	others := membersExcept(members, peer)
	members[peer] = struct{}{}

	rooms, ok := r.peers[peer]
	if !ok {
		rooms = make(map[domain.RoomID]struct{})
		r.peers[peer] = rooms
	}
	rooms[room] = struct{}{}
	return others, nil
}

func (r *RosterRepository) Leave(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.PeerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	delete(members, peer)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if rooms, ok := r.peers[peer]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.peers, peer)
		}
	}
	return membersExcept(members, peer), nil
}

func (r *RosterRepository) RoomsOf(ctx context.Context, peer domain.PeerID) ([]domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RoomID, 0, len(r.peers[peer]))
	for room := range r.peers[peer] {
		out = append(out, room)
	}
	slices.Sort(out)
	return out, nil
}

func membersExcept(members map[domain.PeerID]struct{}, peer domain.PeerID) []domain.PeerID {
	out := make([]domain.PeerID, 0, len(members))
	for id := range members {
		if id != peer {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
