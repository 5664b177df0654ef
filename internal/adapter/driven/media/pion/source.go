package pion

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	SourceNone    = "none"
	SourceSilence = "silence"
)

var errNoDevice = errors.New("no capture device configured")

// opusSilence is a single Opus frame of comfort noise.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	vp8Capability  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// sampleSource produces encoded media in presentation order.
type sampleSource interface {
	Next() (media.Sample, error)
	Close() error
}

// openSource resolves a configured source name for kind. "none" fails with a
// MediaAccessError, like a capture device the user denied.
func openSource(kind domain.MediaKind, name string) (sampleSource, webrtc.RTPCodecCapability, error) {
	switch {
	case name == "" || name == SourceNone:
		return nil, webrtc.RTPCodecCapability{}, &domain.MediaAccessError{Kind: kind, Err: errNoDevice}
	case name == SourceSilence && kind == domain.MediaAudio:
		return silence{}, opusCapability, nil
	case kind == domain.MediaAudio:
		src, err := openOgg(name)
		if err != nil {
			return nil, webrtc.RTPCodecCapability{}, &domain.MediaAccessError{Kind: kind, Err: err}
		}
		return src, opusCapability, nil
	default:
		src, capability, err := openIVF(name)
		if err != nil {
			return nil, webrtc.RTPCodecCapability{}, &domain.MediaAccessError{Kind: kind, Err: err}
		}
		return src, capability, nil
	}
}

type silence struct{}

func (silence) Next() (media.Sample, error) {
	return media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}, nil
}

func (silence) Close() error { return nil }

// oggSource loops an Ogg/Opus file.
type oggSource struct {
	f       *os.File
	reader  *oggreader.OggReader
	granule uint64
}

func openOgg(path string) (*oggSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &oggSource{f: f}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	reader, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return fmt.Errorf("ogg header: %w", err)
	}
	s.reader = reader
	s.granule = 0
	return nil
}

func (s *oggSource) Next() (media.Sample, error) {
	for attempt := 0; attempt < 2; attempt++ {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if err := s.rewind(); err != nil {
				return media.Sample{}, err
			}
			continue
		}
		if err != nil {
			return media.Sample{}, err
		}
		samples := header.GranulePosition - s.granule
		s.granule = header.GranulePosition
		return media.Sample{
			Data:     page,
			Duration: time.Duration(float64(samples) / 48000 * float64(time.Second)),
		}, nil
	}
	return media.Sample{}, io.ErrUnexpectedEOF
}

func (s *oggSource) Close() error {
	return s.f.Close()
}

// ivfSource loops a VP8/VP9/AV1 IVF file.
type ivfSource struct {
	f      *os.File
	reader *ivfreader.IVFReader
	frame  time.Duration
}

func openIVF(path string) (*ivfSource, webrtc.RTPCodecCapability, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, webrtc.RTPCodecCapability{}, err
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, webrtc.RTPCodecCapability{}, fmt.Errorf("ivf header: %w", err)
	}

	capability := vp8Capability
	switch header.FourCC {
	case "VP80":
	case "VP90":
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}
	case "AV01":
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeAV1, ClockRate: 90000}
	default:
		f.Close()
		return nil, webrtc.RTPCodecCapability{}, fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}

	frame := 33 * time.Millisecond
	if header.TimebaseDenominator > 0 {
		frame = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	return &ivfSource{f: f, reader: reader, frame: frame}, capability, nil
}

func (s *ivfSource) Next() (media.Sample, error) {
	for attempt := 0; attempt < 2; attempt++ {
		data, _, err := s.reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := s.f.Seek(0, io.SeekStart); err != nil {
				return media.Sample{}, err
			}
			reader, _, err := ivfreader.NewWith(s.f)
			if err != nil {
				return media.Sample{}, err
			}
			s.reader = reader
			continue
		}
		if err != nil {
			return media.Sample{}, err
		}
		return media.Sample{Data: data, Duration: s.frame}, nil
	}
	return media.Sample{}, io.ErrUnexpectedEOF
}

func (s *ivfSource) Close() error {
	return s.f.Close()
}
