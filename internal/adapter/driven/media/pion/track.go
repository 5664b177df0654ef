package pion

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

// LocalTrack feeds samples from a source into a pion sample track until it
// is stopped.
type LocalTrack struct {
	kind  domain.MediaKind
	track *webrtc.TrackLocalStaticSample
	src   sampleSource

	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
}

func newLocalTrack(kind domain.MediaKind, capability webrtc.RTPCodecCapability, src sampleSource, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(capability, uuid.New().String(), streamID)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{
		kind:  kind,
		track: track,
		src:   src,
		done:  make(chan struct{}),
	}
	go t.pump()
	return t, nil
}

func (t *LocalTrack) ID() string               { return t.track.ID() }
func (t *LocalTrack) Kind() domain.MediaKind   { return t.kind }
func (t *LocalTrack) State() domain.TrackState { return domain.TrackState(t.state.Load()) }

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.state.Store(int32(domain.TrackEnded))
		close(t.done)
	})
}

// Done is closed once the track is stopped.
func (t *LocalTrack) Done() <-chan struct{} {
	return t.done
}

func (t *LocalTrack) pump() {
	defer t.src.Close()
	timer := time.NewTimer(0)
	defer timer.Stop()
	next := time.Now()
	for {
		select {
		case <-t.done:
			return
		case <-timer.C:
		}
		sample, err := t.src.Next()
		if err != nil {
			log.Error().Err(err).Str("track_id", t.ID()).Msg("Media source failed")
			t.Stop()
			return
		}
		if err := t.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Err(err).Str("track_id", t.ID()).Msg("Failed to write sample")
		}
		next = next.Add(sample.Duration)
		timer.Reset(time.Until(next))
	}
}

// RemoteTrack is a track received from a peer. Its packets go to the sink,
// if any, until the peer stops sending or the track is stopped.
type RemoteTrack struct {
	remote *webrtc.TrackRemote
	kind   domain.MediaKind

	mu   sync.Mutex
	sink func(*rtp.Packet)

	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
}

func newRemoteTrack(remote *webrtc.TrackRemote) *RemoteTrack {
	kind := domain.MediaAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaVideo
	}
	return &RemoteTrack{
		remote: remote,
		kind:   kind,
		done:   make(chan struct{}),
	}
}

func (t *RemoteTrack) ID() string               { return t.remote.ID() }
func (t *RemoteTrack) Kind() domain.MediaKind   { return t.kind }
func (t *RemoteTrack) State() domain.TrackState { return domain.TrackState(t.state.Load()) }

func (t *RemoteTrack) Codec() webrtc.RTPCodecParameters {
	return t.remote.Codec()
}

func (t *RemoteTrack) Stop() {
	t.stopOnce.Do(func() {
		t.state.Store(int32(domain.TrackEnded))
		close(t.done)
		t.SetSink(nil)
	})
}

// SetSink replaces the packet consumer. A nil sink discards packets.
func (t *RemoteTrack) SetSink(f func(*rtp.Packet)) {
	t.mu.Lock()
	t.sink = f
	t.mu.Unlock()
}

func (t *RemoteTrack) read() {
	defer t.Stop()
	for {
		pkt, _, err := t.remote.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("track_id", t.ID()).Msg("Remote track read ended")
			}
			return
		}
		t.mu.Lock()
		sink := t.sink
		t.mu.Unlock()
		if sink != nil {
			sink(pkt)
		}
	}
}

// requestKeyframes sends a PLI now and then every pliInterval so recorders
// and late renderers get a decodable picture.
func (t *RemoteTrack) requestKeyframes(pc *webrtc.PeerConnection) {
	send := func() {
		_ = pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(t.remote.SSRC())},
		})
	}
	send()
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			send()
		}
	}
}
