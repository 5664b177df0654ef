package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "NEXUS"

type Config struct {
	App       AppConfig
	Relay     RelayConfig
	Signaling SignalingConfig
	Media     MediaConfig
	Call      CallConfig
	Backend   BackendConfig
}

type AppConfig struct {
	Env       string `validate:"oneof=development production test"`
	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogFormat string `validate:"oneof=console json"`
}

type RelayConfig struct {
	Addr           string `validate:"required"`
	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins []string
	// RedisAddr switches rosters and fan-out to Redis when set.
	RedisAddr       string
	RateLimit       float64       `validate:"gte=0"`
	RateBurst       int           `validate:"gte=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

type SignalingConfig struct {
	URL          string        `validate:"required,url"`
	Token        string
	UserID       string
	WriteTimeout time.Duration `validate:"gt=0"`
	PingInterval time.Duration `validate:"gt=0"`
}

type MediaConfig struct {
	STUNURLs       []string `validate:"min=1,dive,required"`
	TURNURL        string
	TURNUser       string
	TURNCredential string
	// AudioSource is "silence", "none" or a path to an Ogg/Opus file.
	AudioSource string `validate:"required"`
	// VideoSource is "none" or a path to an IVF/VP8 file.
	VideoSource          string `validate:"required"`
	RecordDir            string
	ICEDisconnectTimeout time.Duration `validate:"gt=0"`
	ICEFailedTimeout     time.Duration `validate:"gt=0"`
	ICEKeepalive         time.Duration `validate:"gt=0"`
}

type CallConfig struct {
	RingTimeout    time.Duration `validate:"gte=0"`
	AnswerTimeout  time.Duration `validate:"gte=0"`
	ICEBufferLimit int           `validate:"gt=0"`
}

type BackendConfig struct {
	BaseURL string        `validate:"omitempty,url"`
	Token   string
	Timeout time.Duration `validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("relay.addr", ":8080")
	v.SetDefault("relay.jwt_issuer", "business-nexus")
	v.SetDefault("relay.allowed_origins", []string{"*"})
	v.SetDefault("relay.rate_limit", 50.0)
	v.SetDefault("relay.rate_burst", 100)
	v.SetDefault("relay.shutdown_timeout", 5*time.Second)

	v.SetDefault("signaling.url", "ws://localhost:8080/ws")
	v.SetDefault("signaling.write_timeout", 5*time.Second)
	v.SetDefault("signaling.ping_interval", 25*time.Second)

	v.SetDefault("media.stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.audio_source", "silence")
	v.SetDefault("media.video_source", "none")
	v.SetDefault("media.ice_disconnect_timeout", 5*time.Second)
	v.SetDefault("media.ice_failed_timeout", 25*time.Second)
	v.SetDefault("media.ice_keepalive", 2*time.Second)

	v.SetDefault("call.ring_timeout", 45*time.Second)
	v.SetDefault("call.answer_timeout", 30*time.Second)
	v.SetDefault("call.ice_buffer_limit", 64)

	v.SetDefault("backend.timeout", 10*time.Second)
}

// Load reads nexus.{toml,yaml} if present, then NEXUS_* environment
// variables, then any flags bound from fs. fs may be nil. Flag names use the
// viper key with dots, e.g. --signaling.url.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("nexus")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/nexus")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Env:       v.GetString("app.env"),
			LogLevel:  v.GetString("app.log_level"),
			LogFormat: v.GetString("app.log_format"),
		},
		Relay: RelayConfig{
			Addr:            v.GetString("relay.addr"),
			JWTSecret:       v.GetString("relay.jwt_secret"),
			JWTIssuer:       v.GetString("relay.jwt_issuer"),
			AllowedOrigins:  v.GetStringSlice("relay.allowed_origins"),
			RedisAddr:       v.GetString("relay.redis_addr"),
			RateLimit:       v.GetFloat64("relay.rate_limit"),
			RateBurst:       v.GetInt("relay.rate_burst"),
			ShutdownTimeout: v.GetDuration("relay.shutdown_timeout"),
		},
		Signaling: SignalingConfig{
			URL:          v.GetString("signaling.url"),
			Token:        v.GetString("signaling.token"),
			UserID:       v.GetString("signaling.user_id"),
			WriteTimeout: v.GetDuration("signaling.write_timeout"),
			PingInterval: v.GetDuration("signaling.ping_interval"),
		},
		Media: MediaConfig{
			STUNURLs:             v.GetStringSlice("media.stun_urls"),
			TURNURL:              v.GetString("media.turn_url"),
			TURNUser:             v.GetString("media.turn_user"),
			TURNCredential:       v.GetString("media.turn_credential"),
			AudioSource:          v.GetString("media.audio_source"),
			VideoSource:          v.GetString("media.video_source"),
			RecordDir:            v.GetString("media.record_dir"),
			ICEDisconnectTimeout: v.GetDuration("media.ice_disconnect_timeout"),
			ICEFailedTimeout:     v.GetDuration("media.ice_failed_timeout"),
			ICEKeepalive:         v.GetDuration("media.ice_keepalive"),
		},
		Call: CallConfig{
			RingTimeout:    v.GetDuration("call.ring_timeout"),
			AnswerTimeout:  v.GetDuration("call.answer_timeout"),
			ICEBufferLimit: v.GetInt("call.ice_buffer_limit"),
		},
		Backend: BackendConfig{
			BaseURL: v.GetString("backend.base_url"),
			Token:   v.GetString("backend.token"),
			Timeout: v.GetDuration("backend.timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if c.App.Env == "production" && c.Relay.JWTSecret == "" {
		errs = append(errs, errors.New("relay.jwt_secret is required in production"))
	}
	if u, err := url.Parse(c.Signaling.URL); err == nil && u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("signaling.url: scheme must be ws or wss, got %q", u.Scheme))
	}
	for _, s := range c.Media.STUNURLs {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			errs = append(errs, fmt.Errorf("media.stun_urls: %q is not a stun url", s))
		}
	}
	if c.Media.TURNURL != "" && (c.Media.TURNUser == "" || c.Media.TURNCredential == "") {
		errs = append(errs, errors.New("media.turn_user and media.turn_credential are required with media.turn_url"))
	}

	return errors.Join(errs...)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
