package pion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errForeignTrack = errors.New("track was not created by this engine")

// Connection adapts a pion PeerConnection to port.Connection.
type Connection struct {
	pc  *webrtc.PeerConnection
	obs port.ConnectionObserver

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender
	streams []*domain.MediaStream
	remotes []*RemoteTrack
	closed  bool
}

func newConnection(pc *webrtc.PeerConnection, obs port.ConnectionObserver) *Connection {
	c := &Connection{
		pc:      pc,
		obs:     obs,
		senders: make(map[string]*webrtc.RTPSender),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || obs.OnICECandidate == nil {
			return
		}
		init := cand.ToJSON()
		obs.OnICECandidate(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t := newRemoteTrack(remote)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			t.Stop()
			return
		}
		c.remotes = append(c.remotes, t)
		c.mu.Unlock()

		log.Debug().Str("kind", string(t.Kind())).Str("track_id", t.ID()).Msg("Received remote track")
		go t.read()
		if t.Kind() == domain.MediaVideo {
			go t.requestKeyframes(pc)
		}
		if obs.OnTrack != nil {
			obs.OnTrack(t, remote.StreamID())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if obs.OnStateChange != nil {
			obs.OnStateChange(connectionState(s))
		}
	})
	return c
}

func (c *Connection) AttachStream(stream *domain.MediaStream) error {
	if !stream.Retain() {
		return domain.ErrStreamReleased
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, stream)
	for _, t := range stream.Tracks() {
		if err := c.addLocked(t); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) ReplaceOrAddTrack(stream *domain.MediaStream, t domain.Track) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return errForeignTrack
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.holdsLocked(stream) {
		if !stream.Retain() {
			return domain.ErrStreamReleased
		}
		c.streams = append(c.streams, stream)
	}

	for id, sender := range c.senders {
		current := sender.Track()
		if current == nil || current.Kind() != lt.track.Kind() {
			continue
		}
		if err := sender.ReplaceTrack(lt.track); err != nil {
			return fmt.Errorf("replace track: %w", err)
		}
		delete(c.senders, id)
		c.senders[lt.ID()] = sender
		return nil
	}
	return c.addLocked(lt)
}

func (c *Connection) RemoveTrack(t domain.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sender, ok := c.senders[t.ID()]
	if !ok {
		return nil
	}
	delete(c.senders, t.ID())
	return c.pc.RemoveTrack(sender)
}

func (c *Connection) addLocked(t domain.Track) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return errForeignTrack
	}
	if _, ok := c.senders[lt.ID()]; ok {
		return nil
	}
	sender, err := c.pc.AddTrack(lt.track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", lt.Kind(), err)
	}
	c.senders[lt.ID()] = sender

	// RTCP has to be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) holdsLocked(stream *domain.MediaStream) bool {
	for _, s := range c.streams {
		if s == stream {
			return true
		}
	}
	return false
}

func (c *Connection) CreateOffer() (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (c *Connection) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

func (c *Connection) SetRemoteDescription(sd domain.SessionDescription) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(sd.Type)),
		SDP:  sd.SDP,
	})
}

func (c *Connection) Rollback() error {
	return c.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (c *Connection) AddICECandidate(cand domain.ICECandidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *Connection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *Connection) SignalingState() domain.SignalingState {
	switch c.pc.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveLocalPranswer:
		return domain.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveRemotePranswer:
		return domain.SignalingHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return domain.SignalingClosed
	default:
		return domain.SignalingStable
	}
}

func (c *Connection) State() domain.ConnectionState {
	return connectionState(c.pc.ConnectionState())
}

// Close stops remote tracks and releases every attached stream. The
// streams' own tracks stop only when no other holder remains.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	remotes := c.remotes
	streams := c.streams
	c.remotes, c.streams = nil, nil
	c.mu.Unlock()

	err := c.pc.Close()
	for _, t := range remotes {
		t.Stop()
	}
	for _, s := range streams {
		s.Release()
	}
	return err
}

func connectionState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}
