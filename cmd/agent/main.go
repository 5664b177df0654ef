package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/gateway/ws"
	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/media/pion"
	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/meeting/rest"
	"github.com/developer-khadim/Business-nexus/internal/adapter/driven/ringer"
	"github.com/developer-khadim/Business-nexus/internal/auth"
	"github.com/developer-khadim/Business-nexus/internal/config"
	"github.com/developer-khadim/Business-nexus/internal/core/domain"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/developer-khadim/Business-nexus/internal/core/service"
	"github.com/developer-khadim/Business-nexus/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: agent <command> [flags]

commands:
  dial <userId>     call a user (--video for a video call)
  answer            wait for an incoming call (--decline to reject it)
  room [roomId]     join a meeting room (--meeting, --start)
`

type options struct {
	video   bool
	decline bool
	toggle  time.Duration
	meeting string
	start   bool
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	var opts options
	fs := pflag.NewFlagSet("agent "+cmd, pflag.ExitOnError)
	fs.String("signaling.url", "ws://localhost:8080/ws", "relay websocket url")
	fs.String("signaling.user_id", "", "user id of this agent")
	fs.String("signaling.token", "", "bearer token for the relay")
	fs.String("media.audio_source", "silence", `"silence", "none" or an Ogg/Opus file`)
	fs.String("media.video_source", "none", `"none" or an IVF file`)
	fs.String("media.record_dir", "", "record remote media into this directory")
	fs.String("app.log_level", "info", "log level")
	fs.BoolVar(&opts.video, "video", false, "dial: start a video call")
	fs.BoolVar(&opts.decline, "decline", false, "answer: decline instead of accepting")
	fs.DurationVar(&opts.toggle, "toggle-after", 0, "switch between audio and video after this long in the call")
	fs.StringVar(&opts.meeting, "meeting", "", "room: meeting id")
	fs.BoolVar(&opts.start, "start", false, "room: start the meeting on the backend first and end it on exit")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(fs)
	if err != nil {
		l := logger.Setup("info", "console")
		l.Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logger.Setup(cfg.App.LogLevel, cfg.App.LogFormat)
	if cfg.Signaling.UserID == "" {
		l.Fatal().Msg("signaling.user_id is required")
	}
	self := domain.UserID(cfg.Signaling.UserID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cmd, fs.Args(), opts, cfg, self, l); err != nil && !errors.Is(err, context.Canceled) {
		l.Error().Err(err).Str("command", cmd).Msg("Agent failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, opts options, cfg *config.Config, self domain.UserID, l zerolog.Logger) error {
	client, err := dialRelay(ctx, cfg, self)
	if err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer client.Close()

	engine, err := pion.NewEngine(pion.Config{
		STUNURLs:             cfg.Media.STUNURLs,
		TURNURL:              cfg.Media.TURNURL,
		TURNUser:             cfg.Media.TURNUser,
		TURNCredential:       cfg.Media.TURNCredential,
		AudioSource:          cfg.Media.AudioSource,
		VideoSource:          cfg.Media.VideoSource,
		ICEDisconnectTimeout: cfg.Media.ICEDisconnectTimeout,
		ICEFailedTimeout:     cfg.Media.ICEFailedTimeout,
		ICEKeepalive:         cfg.Media.ICEKeepalive,
	})
	if err != nil {
		return err
	}

	var surface port.Surface
	if cfg.Media.RecordDir != "" {
		rec, err := pion.NewRecorder(cfg.Media.RecordDir)
		if err != nil {
			return err
		}
		surface = rec
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	g.Go(func() error {
		return client.Run(runCtx)
	})
	g.Go(func() error {
		defer cancelRun()
		switch cmd {
		case "dial", "answer":
			return directCall(gctx, cmd, args, opts, cfg, self, client, engine, surface, l)
		case "room":
			return roomCall(gctx, args, opts, cfg, self, client, engine, surface, l)
		default:
			fmt.Fprint(os.Stderr, usage)
			return fmt.Errorf("unknown command %q", cmd)
		}
	})
	return g.Wait()
}

// dialRelay connects to the relay. Without a token the agent mints one when
// it knows the relay secret, or identifies itself with the userId query
// parameter accepted by development relays.
func dialRelay(ctx context.Context, cfg *config.Config, self domain.UserID) (*ws.Client, error) {
	token := cfg.Signaling.Token
	target := cfg.Signaling.URL
	if token == "" && cfg.Relay.JWTSecret != "" {
		am, err := auth.NewManager(cfg.Relay.JWTSecret, cfg.Relay.JWTIssuer, time.Hour)
		if err != nil {
			return nil, err
		}
		if token, err = am.Issue(time.Now(), self); err != nil {
			return nil, err
		}
	}
	if token == "" {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("userId", self.String())
		u.RawQuery = q.Encode()
		target = u.String()
	}
	return ws.Dial(ctx, ws.ClientConfig{
		URL:          target,
		Token:        token,
		WriteTimeout: cfg.Signaling.WriteTimeout,
		PingInterval: cfg.Signaling.PingInterval,
	})
}

func directCall(ctx context.Context, cmd string, args []string, opts options, cfg *config.Config, self domain.UserID, transport port.SignalingTransport, engine port.MediaEngine, surface port.Surface, l zerolog.Logger) error {
	board := service.NewSwitchboard(self, service.CallDeps{
		Transport: transport,
		Media:     engine,
		Ringer:    ringer.NewLog(2 * time.Second),
		Surface:   surface,
	}, service.CallConfig{
		RingTimeout:    cfg.Call.RingTimeout,
		AnswerTimeout:  cfg.Call.AnswerTimeout,
		ICEBufferLimit: cfg.Call.ICEBufferLimit,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = board.Close(closeCtx)
	}()

	states, unsubscribe := board.Subscribe()
	defer unsubscribe()
	go func() {
		for st := range states {
			l.Info().Str("phase", string(st.Phase)).Str("remote", st.RemoteUser.String()).Str("kind", string(st.Kind)).Msg("Call state")
		}
	}()

	sessions := make(chan *service.CallSession, 1)
	switch cmd {
	case "dial":
		if len(args) != 1 {
			return errors.New("dial needs exactly one user id")
		}
		kind := domain.MediaAudio
		if opts.video {
			kind = domain.MediaVideo
		}
		s, err := board.Dial(ctx, domain.UserID(args[0]), kind)
		if err != nil {
			return err
		}
		sessions <- s
	case "answer":
		board.OnIncoming(func(s *service.CallSession) {
			select {
			case sessions <- s:
			default:
				_ = s.Decline(ctx)
			}
		})
		l.Info().Msg("Waiting for a call")
	}

	var s *service.CallSession
	select {
	case <-ctx.Done():
		return nil
	case s = <-sessions:
	}

	ended := make(chan domain.EndReason, 1)
	s.OnClose(func(r domain.EndReason) { ended <- r })

	if cmd == "answer" {
		if opts.decline {
			return s.Decline(ctx)
		}
		if err := s.Accept(ctx); err != nil {
			return err
		}
	}

	var toggle <-chan time.Time
	if opts.toggle > 0 {
		t := time.NewTimer(opts.toggle)
		defer t.Stop()
		toggle = t.C
	}
	for {
		select {
		case <-ctx.Done():
			endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.End(endCtx)
		case r := <-ended:
			l.Info().Str("reason", string(r)).Msg("Call ended")
			return nil
		case <-toggle:
			toggle = nil
			if err := s.ToggleMedia(ctx); err != nil {
				l.Warn().Err(err).Msg("Media toggle failed")
			}
		}
	}
}

func roomCall(ctx context.Context, args []string, opts options, cfg *config.Config, self domain.UserID, transport port.SignalingTransport, engine port.MediaEngine, surface port.Surface, l zerolog.Logger) error {
	var backend port.MeetingBackend
	if cfg.Backend.BaseURL != "" {
		backend = rest.NewClient(rest.Config{
			BaseURL: cfg.Backend.BaseURL,
			Token:   cfg.Backend.Token,
			Timeout: cfg.Backend.Timeout,
		})
	}

	var room domain.RoomID
	if len(args) > 0 {
		room = domain.RoomID(args[0])
	}
	meeting := domain.MeetingID(opts.meeting)
	if opts.start {
		if backend == nil || meeting == "" {
			return errors.New("--start needs --meeting and backend.base_url")
		}
		m, err := backend.StartMeeting(ctx, meeting)
		if err != nil {
			return &domain.BackendSyncError{MeetingID: meeting, Op: "start", Err: err}
		}
		l.Info().Str("meeting_id", meeting.String()).Str("title", m.Title).Msg("Meeting started")
		if room == "" {
			room = m.RoomID
		}
	}
	if room == "" {
		room = domain.RoomID(meeting)
	}
	if room == "" {
		return errors.New("room needs a room id or --meeting")
	}

	closed := make(chan struct{})
	rc, err := service.OpenRoom(ctx, service.RoomDeps{
		Transport: transport,
		Media:     engine,
		Meetings:  backend,
		Surface:   surface,
	}, service.RoomConfig{
		AnswerTimeout:  cfg.Call.AnswerTimeout,
		ICEBufferLimit: cfg.Call.ICEBufferLimit,
		BackendTimeout: cfg.Backend.Timeout,
	}, self, meeting, room, func() { close(closed) })
	if err != nil {
		return err
	}
	stopObserving := rc.Observe(func(peers []service.PeerSnapshot) {
		l.Info().Int("peers", len(peers)).Str("room_id", room.String()).Msg("Room peers changed")
	})
	defer stopObserving()

	select {
	case <-closed:
		return nil
	case <-ctx.Done():
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if opts.start {
		return rc.End(endCtx)
	}
	return rc.Leave(endCtx)
}
