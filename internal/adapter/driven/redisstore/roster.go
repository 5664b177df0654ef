package redisstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "nexus:"

func roomKey(room domain.RoomID) string { return keyPrefix + "room:" + room.String() }
func peerKey(peer domain.PeerID) string { return keyPrefix + "peer:" + peer.String() }

// RosterRepository keeps rosters in Redis sets so every relay instance sees
// the same rooms.
type RosterRepository struct {
	rdb *redis.Client
}

func NewRosterRepository(rdb *redis.Client) *RosterRepository {
	return &RosterRepository{rdb: rdb}
}

func (r *RosterRepository) Join(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.PeerID, error) {
	var members *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		members = p.SMembers(ctx, roomKey(room))
		p.SAdd(ctx, roomKey(room), peer.String())
		p.SAdd(ctx, peerKey(peer), room.String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis join: %w", err)
	}
	return peersExcept(members.Val(), peer), nil
}

func (r *RosterRepository) Leave(ctx context.Context, room domain.RoomID, peer domain.PeerID) ([]domain.PeerID, error) {
	var members *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, roomKey(room), peer.String())
		p.SRem(ctx, peerKey(peer), room.String())
		members = p.SMembers(ctx, roomKey(room))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis leave: %w", err)
	}
	return peersExcept(members.Val(), peer), nil
}

func (r *RosterRepository) RoomsOf(ctx context.Context, peer domain.PeerID) ([]domain.RoomID, error) {
	ids, err := r.rdb.SMembers(ctx, peerKey(peer)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis rooms of %s: %w", peer, err)
	}
	out := make([]domain.RoomID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.RoomID(id))
	}
	slices.Sort(out)
	return out, nil
}

func peersExcept(ids []string, peer domain.PeerID) []domain.PeerID {
	out := make([]domain.PeerID, 0, len(ids))
	for _, id := range ids {
		if domain.PeerID(id) != peer {
			out = append(out, domain.PeerID(id))
		}
	}
	slices.Sort(out)
	return out
}
