package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the process configuration. Every field is read from the
// environment; cmd/bridge lets -host and -port flags override the bind address.
type Config struct {
	Host string `env:"BRIDGE_HOST" envDefault:"0.0.0.0" validate:"required"`
	Port int    `env:"BRIDGE_PORT" envDefault:"8000" validate:"min=1,max=65535"`

	ICE      ICEConfig
	Ingest   IngestConfig
	Timeouts Timeouts

	LogLevel     string `env:"BRIDGE_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat    string `env:"BRIDGE_LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
	OTelEndpoint string `env:"BRIDGE_OTEL_ENDPOINT"`

	// StatsInterval paces the periodic session report; 0 disables it.
	StatsInterval time.Duration `env:"BRIDGE_STATS_INTERVAL" envDefault:"1m" validate:"gte=0"`
}

// ICEConfig lists the STUN/TURN servers handed to every peer connection.
type ICEConfig struct {
	STUNURLs        []string `env:"BRIDGE_STUN_URLS" envDefault:"stun:stun.l.google.com:19302" envSeparator:","`
	TURNURL         string   `env:"BRIDGE_TURN_URL"`
	TURNUsername    string   `env:"BRIDGE_TURN_USERNAME"`
	TURNCredential  string   `env:"BRIDGE_TURN_CREDENTIAL"`
	TransportPolicy string   `env:"BRIDGE_ICE_TRANSPORT_POLICY" envDefault:"all" validate:"oneof=all relay"`
}

// IngestConfig describes the upstream ingest service. Endpoint entries are
// templates: "{base}" expands to BaseURL and "{streamId}" to the escaped
// stream id. Order is priority order.
type IngestConfig struct {
	BaseURL          string   `env:"BRIDGE_INGEST_BASE_URL" envDefault:"https://livepeer.studio/api" validate:"required,url"`
	Endpoints        []string `env:"BRIDGE_INGEST_ENDPOINTS" envDefault:"{base}/stream/{streamId}/webrtc,{base}/stream/{streamId}/whip,{base}/webrtc/{streamId},{base}/ingest/webrtc/{streamId},{base}/stream/{streamId}/ingest/webrtc" envSeparator:"," validate:"required,min=1,dive,required"`
	MetadataEndpoint string   `env:"BRIDGE_METADATA_ENDPOINT" envDefault:"{base}/stream/{streamId}" validate:"required"`
	DefaultRTMPURL   string   `env:"BRIDGE_DEFAULT_RTMP_URL" envDefault:"rtmp://rtmp.livepeer.com/live" validate:"required"`
}

// Timeouts bound every suspension point of a session.
type Timeouts struct {
	Negotiation       time.Duration `env:"BRIDGE_NEGOTIATION_TIMEOUT" envDefault:"20s" validate:"gt=0"`
	CleanupGrace      time.Duration `env:"BRIDGE_CLEANUP_GRACE" envDefault:"30s" validate:"gte=0"`
	ConnectedLifetime time.Duration `env:"BRIDGE_CONNECTED_LIFETIME" envDefault:"30m" validate:"gt=0"`
	ICEGather         time.Duration `env:"BRIDGE_ICE_GATHER_TIMEOUT" envDefault:"3s" validate:"gt=0"`
	FirstTrack        time.Duration `env:"BRIDGE_FIRST_TRACK_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	ProbeAttempt      time.Duration `env:"BRIDGE_PROBE_ATTEMPT_TIMEOUT" envDefault:"5s" validate:"gt=0"`
	Metadata          time.Duration `env:"BRIDGE_METADATA_TIMEOUT" envDefault:"5s" validate:"gt=0"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Default returns the configuration produced by an empty environment.
func Default() Config {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EndpointURLs expands the ingest endpoint templates for streamID, preserving order.
func (c IngestConfig) EndpointURLs(streamID string) []string {
	out := make([]string, 0, len(c.Endpoints))
	for _, tpl := range c.Endpoints {
		tpl = strings.TrimSpace(tpl)
		if tpl == "" {
			continue
		}
		out = append(out, c.expand(tpl, streamID))
	}
	return out
}

// MetadataURL expands the stream metadata template for streamID.
func (c IngestConfig) MetadataURL(streamID string) string {
	return c.expand(c.MetadataEndpoint, streamID)
}

func (c IngestConfig) expand(tpl, streamID string) string {
	r := strings.NewReplacer(
		"{base}", strings.TrimRight(c.BaseURL, "/"),
		"{streamId}", url.PathEscape(streamID),
	)
	return r.Replace(tpl)
}
