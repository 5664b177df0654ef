package pion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

type recording struct {
	track *RemoteTrack
	path  string

	mu     sync.Mutex
	w      rtpWriter
	failed bool
}

func (r *recording) write(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil || r.failed {
		return
	}
	if err := r.w.WriteRTP(pkt); err != nil {
		r.failed = true
		log.Warn().Err(err).Str("path", r.path).Msg("Recording write failed")
	}
}

func (r *recording) close() {
	r.track.SetSink(nil)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return
	}
	if err := r.w.Close(); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("Failed to close recording")
	}
	r.w = nil
}

// Recorder renders remote streams to disk: Opus audio to Ogg and VP8 video
// to IVF. It implements port.Surface; local streams have no RemoteTrack and
// are ignored.
type Recorder struct {
	dir string

	mu   sync.Mutex
	byID map[string]map[string]*recording
}

func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &Recorder{dir: dir, byID: make(map[string]map[string]*recording)}, nil
}

func (r *Recorder) Attach(key string, stream *domain.MediaStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs, ok := r.byID[key]
	if !ok {
		recs = make(map[string]*recording)
		r.byID[key] = recs
	}
	for _, t := range stream.Tracks() {
		rt, ok := t.(*RemoteTrack)
		if !ok {
			continue
		}
		if _, ok := recs[rt.ID()]; ok {
			continue
		}
		rec, err := r.open(key, rt)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Str("track_id", rt.ID()).Msg("Not recording track")
			continue
		}
		recs[rt.ID()] = rec
		rt.SetSink(rec.write)
		log.Info().Str("key", key).Str("path", rec.path).Msg("Recording track")
	}
}

func (r *Recorder) Detach(key string) {
	r.mu.Lock()
	recs := r.byID[key]
	delete(r.byID, key)
	r.mu.Unlock()
	for _, rec := range recs {
		rec.close()
	}
}

func (r *Recorder) open(key string, t *RemoteTrack) (*recording, error) {
	base := sanitize(key) + "-" + sanitize(t.ID())
	codec := t.Codec()
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		path := filepath.Join(r.dir, base+".ogg")
		w, err := oggwriter.New(path, codec.ClockRate, codec.Channels)
		if err != nil {
			return nil, err
		}
		return &recording{track: t, path: path, w: w}, nil
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		path := filepath.Join(r.dir, base+".ivf")
		w, err := ivfwriter.New(path)
		if err != nil {
			return nil, err
		}
		return &recording{track: t, path: path, w: w}, nil
	default:
		return nil, fmt.Errorf("no writer for %s", codec.MimeType)
	}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
