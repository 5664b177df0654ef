package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubTrack struct {
	id    string
	kind  MediaKind
	stops int
}

func (t *stubTrack) ID() string      { return t.id }
func (t *stubTrack) Kind() MediaKind { return t.kind }
func (t *stubTrack) Stop()           { t.stops++ }

func (t *stubTrack) State() TrackState {
	if t.stops > 0 {
		return TrackEnded
	}
	return TrackLive
}

func TestMediaStream_Refcount(t *testing.T) {
	audio := &stubTrack{id: "a", kind: MediaAudio}
	video := &stubTrack{id: "v", kind: MediaVideo}
	s := NewMediaStream("s1", audio, video)

	assert.True(t, s.Retain())
	assert.True(t, s.Retain())
	s.Release()
	s.Release()
	assert.False(t, s.Released())
	assert.Zero(t, audio.stops)

	s.Release()
	assert.True(t, s.Released())
	assert.Equal(t, 1, audio.stops)
	assert.Equal(t, 1, video.stops)

	s.Release()
	s.Stop()
	assert.Equal(t, 1, audio.stops, "tracks stop once")
	assert.False(t, s.Retain())
}

func TestMediaStream_StopIgnoresRefs(t *testing.T) {
	audio := &stubTrack{id: "a", kind: MediaAudio}
	s := NewMediaStream("s1", audio)
	s.Retain()
	s.Stop()
	assert.True(t, s.Released())
	assert.Equal(t, TrackEnded, audio.State())
}

func TestMediaStream_Tracks(t *testing.T) {
	s := NewMediaStream("s1", &stubTrack{id: "a", kind: MediaAudio})
	s.AddTrack(&stubTrack{id: "a", kind: MediaAudio})
	assert.Len(t, s.Tracks(), 1, "duplicate ids are ignored")

	s.AddTrack(&stubTrack{id: "v", kind: MediaVideo})
	assert.Len(t, s.TracksOf(MediaVideo), 1)

	removed := s.RemoveKind(MediaVideo)
	assert.Len(t, removed, 1)
	assert.Empty(t, s.TracksOf(MediaVideo))
	assert.Len(t, s.Tracks(), 1)

	s.Stop()
	late := &stubTrack{id: "late", kind: MediaVideo}
	s.AddTrack(late)
	assert.Equal(t, TrackEnded, late.State())
	assert.Len(t, s.Tracks(), 1)
}

func TestConstraintsFor(t *testing.T) {
	assert.Equal(t, Constraints{Audio: true}, ConstraintsFor(MediaAudio))
	assert.Equal(t, Constraints{Audio: true, Video: true}, ConstraintsFor(MediaVideo))
}

func TestIsMediaAccess(t *testing.T) {
	err := fmt.Errorf("acquire: %w", &MediaAccessError{Kind: MediaVideo, Err: errors.New("denied")})
	assert.True(t, IsMediaAccess(err))
	assert.False(t, IsMediaAccess(errors.New("denied")))
	assert.EqualError(t, err, "acquire: media access (video): denied")
}
