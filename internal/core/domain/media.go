package domain

import (
	"sync"
)

// MediaKind is both the call type of a direct call and the kind of a track.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// Constraints selects which capture devices to open.
type Constraints struct {
	Audio bool
	Video bool
}

// ConstraintsFor maps a call type to capture constraints: audio is always
// captured, video only for video calls.
func ConstraintsFor(kind MediaKind) Constraints {
	return Constraints{Audio: true, Video: kind == MediaVideo}
}

type TrackState int32

const (
	TrackLive TrackState = iota
	TrackEnded
)

func (s TrackState) String() string {
	if s == TrackEnded {
		return "ended"
	}
	return "live"
}

// Track is a single local or remote media track. Stop is idempotent.
type Track interface {
	ID() string
	Kind() MediaKind
	State() TrackState
	Stop()
}

// MediaStream groups tracks and counts the consumers holding it.
// The creator holds the first reference. Tracks are stopped once, either
// when the last reference is released or on Stop.
type MediaStream struct {
	id string

	mu       sync.Mutex
	tracks   []Track
	refs     int
	released bool
}

func NewMediaStream(id string, tracks ...Track) *MediaStream {
	return &MediaStream{
		id:     id,
		tracks: append([]Track(nil), tracks...),
		refs:   1,
	}
}

func (s *MediaStream) ID() string {
	return s.id
}

func (s *MediaStream) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.tracks...)
}

func (s *MediaStream) TracksOf(kind MediaKind) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// AddTrack appends t unless a track with the same ID is already present.
// Adding to a released stream stops t immediately.
func (s *MediaStream) AddTrack(t Track) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		t.Stop()
		return
	}
	for _, existing := range s.tracks {
		if existing.ID() == t.ID() {
			s.mu.Unlock()
			return
		}
	}
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// RemoveKind detaches every track of kind and returns them. The caller owns
// the returned tracks and decides whether to stop them.
func (s *MediaStream) RemoveKind(kind MediaKind) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []Track
	kept := s.tracks[:0]
	for _, t := range s.tracks {
		if t.Kind() == kind {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	s.tracks = kept
	return removed
}

// Retain adds a consumer. It returns false once the stream was released.
func (s *MediaStream) Retain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	s.refs++
	return true
}

// Release drops a consumer and stops every track when none remain.
func (s *MediaStream) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		s.mu.Unlock()
		return
	}
	tracks := s.markReleased()
	s.mu.Unlock()
	stopAll(tracks)
}

// Stop stops every track regardless of outstanding references.
func (s *MediaStream) Stop() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	tracks := s.markReleased()
	s.mu.Unlock()
	stopAll(tracks)
}

func (s *MediaStream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *MediaStream) markReleased() []Track {
	s.released = true
	s.refs = 0
	return append([]Track(nil), s.tracks...)
}

func stopAll(tracks []Track) {
	for _, t := range tracks {
		t.Stop()
	}
}

type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription has the same JSON shape as RTCSessionDescriptionInit.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate has the same JSON shape as RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
