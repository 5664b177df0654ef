package pion

import (
	"context"
	"fmt"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	STUNURLs       []string
	TURNURL        string
	TURNUser       string
	TURNCredential string

	AudioSource string
	VideoSource string

	ICEDisconnectTimeout time.Duration
	ICEFailedTimeout     time.Duration
	ICEKeepalive         time.Duration
}

// Engine opens local media from file or synthetic sources and creates pion
// peer connections. It implements port.MediaEngine.
type Engine struct {
	cfg     Config
	api     *webrtc.API
	servers []webrtc.ICEServer
}

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.ICEDisconnectTimeout > 0 && cfg.ICEFailedTimeout > 0 && cfg.ICEKeepalive > 0 {
		se.SetICETimeouts(cfg.ICEDisconnectTimeout, cfg.ICEFailedTimeout, cfg.ICEKeepalive)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return &Engine{cfg: cfg, api: api, servers: iceServers(cfg)}, nil
}

func iceServers(cfg Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}
	if cfg.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{cfg.TURNURL},
			Username:   cfg.TURNUser,
			Credential: cfg.TURNCredential,
		})
	}
	return servers
}

// AcquireLocalMedia opens one track per requested kind. If any kind fails the
// tracks already opened are stopped.
func (e *Engine) AcquireLocalMedia(ctx context.Context, c domain.Constraints) (*domain.MediaStream, error) {
	streamID := domain.NewStreamID()
	var tracks []domain.Track
	fail := func(err error) (*domain.MediaStream, error) {
		for _, t := range tracks {
			t.Stop()
		}
		return nil, err
	}

	wanted := []struct {
		on     bool
		kind   domain.MediaKind
		source string
	}{
		{c.Audio, domain.MediaAudio, e.cfg.AudioSource},
		{c.Video, domain.MediaVideo, e.cfg.VideoSource},
	}
	for _, w := range wanted {
		if !w.on {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		src, capability, err := openSource(w.kind, w.source)
		if err != nil {
			return fail(err)
		}
		t, err := newLocalTrack(w.kind, capability, src, streamID)
		if err != nil {
			src.Close()
			return fail(&domain.MediaAccessError{Kind: w.kind, Err: err})
		}
		tracks = append(tracks, t)
	}

	log.Debug().Str("stream_id", streamID).Int("tracks", len(tracks)).Msg("Local media acquired")
	return domain.NewMediaStream(streamID, tracks...), nil
}

func (e *Engine) CreateConnection(ctx context.Context, obs port.ConnectionObserver) (port.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, obs), nil
}
