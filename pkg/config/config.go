package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/telekom/admission-gateway/pkg/audit"
	"github.com/telekom/admission-gateway/pkg/identity"
	"github.com/telekom/admission-gateway/pkg/policy"
	"github.com/telekom/admission-gateway/pkg/ratelimit"
	"github.com/telekom/admission-gateway/pkg/telemetry"
)

// DefaultPath is used when neither a flag nor ADMISSION_CONFIG_PATH names a file.
const DefaultPath = "./config.yaml"

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Server struct {
	ListenAddress string `yaml:"listenAddress"`
	TLSCertFile   string `yaml:"tlsCertFile"`
	TLSKeyFile    string `yaml:"tlsKeyFile"`
	// TrustedProxies are IPs/CIDRs gin trusts for its own ClientIP resolution.
	TrustedProxies []string `yaml:"trustedProxies"`
	// TrustForwardedFor takes the caller identity from the first X-Forwarded-For
	// entry. Defaults to true.
	TrustForwardedFor *bool `yaml:"trustForwardedFor"`
	// RequestLogPath receives one line per request. Empty disables the requests log.
	RequestLogPath  string `yaml:"requestLogPath"`
	ShutdownTimeout string `yaml:"shutdownTimeout"`
}

type RestrictedHours struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	// TimeZone is an IANA name. Empty means the process local zone.
	TimeZone string `yaml:"timeZone"`
}

type Route struct {
	Name           string   `yaml:"name"`
	Patterns       []string `yaml:"patterns"`
	Methods        []string `yaml:"methods"`
	TimeRestricted bool     `yaml:"timeRestricted"`
	Privileged     bool     `yaml:"privileged"`
	RateLimited    bool     `yaml:"rateLimited"`
}

type Admission struct {
	Window          string          `yaml:"window"`
	BurstLimit      int             `yaml:"burstLimit"`
	RestrictedHours RestrictedHours `yaml:"restrictedHours"`
	PrivilegedRoles []string        `yaml:"privilegedRoles"`
	// Routes replace the built-in chats/conversations/messages table when set.
	Routes []Route `yaml:"routes"`
}

type Redis struct {
	Addr             string `yaml:"addr"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	KeyPrefix        string `yaml:"keyPrefix"`
	OperationTimeout string `yaml:"operationTimeout"`
}

type Store struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
	Redis   Redis  `yaml:"redis"`
}

type Auth struct {
	HMACSecret          string `yaml:"hmacSecret"`
	JWKSURL             string `yaml:"jwksURL"`
	JWKSRefreshInterval string `yaml:"jwksRefreshInterval"`
	Issuer              string `yaml:"issuer"`
	Audience            string `yaml:"audience"`
	RoleClaim           string `yaml:"roleClaim"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Kafka struct {
	Brokers          []string   `yaml:"brokers"`
	Topic            string     `yaml:"topic"`
	TLS              *KafkaTLS  `yaml:"tls"`
	SASL             *KafkaSASL `yaml:"sasl"`
	CompressionCodec string     `yaml:"compressionCodec"`
	RequiredAcks     int        `yaml:"requiredAcks"`
	MaxAttempts      int        `yaml:"maxAttempts"`
}

type Audit struct {
	LogEvents      bool   `yaml:"logEvents"`
	IncludeAllowed bool   `yaml:"includeAllowed"`
	QueueSize      int    `yaml:"queueSize"`
	WorkerCount    int    `yaml:"workerCount"`
	Kafka          *Kafka `yaml:"kafka"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
	ServiceName  string  `yaml:"serviceName"`
}

// FloodGuard is the coarse per-address token bucket in front of everything else.
type FloodGuard struct {
	Enabled *bool   `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Burst   int     `yaml:"burst"`
}

type Upstream struct {
	// URL of the service admitted requests are proxied to. Empty serves a
	// plain acknowledgement instead.
	URL string `yaml:"url"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Admission  Admission  `yaml:"admission"`
	Store      Store      `yaml:"store"`
	Auth       Auth       `yaml:"auth"`
	Audit      Audit      `yaml:"audit"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	FloodGuard FloodGuard `yaml:"floodGuard"`
	Upstream   Upstream   `yaml:"upstream"`
}

// Load reads, defaults and validates the configuration file.
// If configPath is empty, defaults to "./config.yaml".
func Load(configPath ...string) (Config, error) {
	path := DefaultPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("trying to open admission config file %s: %w", path, err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals YAML, applies defaults and validates the result.
func Parse(content []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling YAML: %w", err)
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a configuration with every default filled in.
func Default() Config {
	var cfg Config
	cfg.Defaults()
	return cfg
}

// Defaults fills unset fields in place.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.TrustForwardedFor == nil {
		c.Server.TrustForwardedFor = boolPtr(true)
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	if c.Admission.Window == "" {
		c.Admission.Window = ratelimit.DefaultWindow.String()
	}
	if c.Admission.BurstLimit == 0 {
		c.Admission.BurstLimit = policy.DefaultBurstLimit
	}
	if c.Admission.RestrictedHours.Start == "" && c.Admission.RestrictedHours.End == "" {
		def := policy.DefaultRestrictedHours()
		c.Admission.RestrictedHours.Start = def.Start.String()
		c.Admission.RestrictedHours.End = def.End.String()
	}
	if len(c.Admission.PrivilegedRoles) == 0 {
		for _, r := range policy.DefaultPrivilegedRoles {
			c.Admission.PrivilegedRoles = append(c.Admission.PrivilegedRoles, string(r))
		}
	}
	if len(c.Admission.Routes) == 0 {
		for _, r := range policy.DefaultRoutes() {
			c.Admission.Routes = append(c.Admission.Routes, Route(r))
		}
	}

	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = "admission:window"
	}
	if c.Store.Redis.OperationTimeout == "" {
		c.Store.Redis.OperationTimeout = "250ms"
	}

	if c.Auth.RoleClaim == "" {
		c.Auth.RoleClaim = "role"
	}
	if c.Auth.JWKSRefreshInterval == "" {
		c.Auth.JWKSRefreshInterval = "1h"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = telemetry.DefaultServiceName
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "otlp"
	}

	if c.FloodGuard.Enabled == nil {
		c.FloodGuard.Enabled = boolPtr(true)
	}
	if c.FloodGuard.Rate == 0 && c.FloodGuard.Burst == 0 {
		def := ratelimit.DefaultFloodGuardConfig()
		c.FloodGuard.Rate = def.Rate
		c.FloodGuard.Burst = def.Burst
	}
}

// Validate reports every problem found, joined into one error.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		add("server.shutdownTimeout: %v", err)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		add("server.tlsCertFile and server.tlsKeyFile must be set together")
	}

	if d, err := time.ParseDuration(c.Admission.Window); err != nil {
		add("admission.window: %v", err)
	} else if d <= 0 {
		add("admission.window must be positive, got %s", c.Admission.Window)
	}
	if c.Admission.BurstLimit < 1 {
		add("admission.burstLimit must be at least 1, got %d", c.Admission.BurstLimit)
	}
	if _, err := c.RestrictedHours(); err != nil {
		add("admission.restrictedHours: %v", err)
	}
	for i, r := range c.Admission.PrivilegedRoles {
		if identity.ParseRole(r) == identity.RoleNone {
			add("admission.privilegedRoles[%d] is empty", i)
		}
	}
	if _, err := policy.NewClassifier(c.Routes()); err != nil {
		add("admission.routes: %v", err)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			add("store.redis.addr is required for the redis backend")
		}
		if d, err := time.ParseDuration(c.Store.Redis.OperationTimeout); err != nil {
			add("store.redis.operationTimeout: %v", err)
		} else if d <= 0 {
			add("store.redis.operationTimeout must be positive")
		}
	default:
		add("store.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Store.Backend)
	}

	if c.Auth.HMACSecret != "" && c.Auth.JWKSURL != "" {
		add("auth.hmacSecret and auth.jwksURL are mutually exclusive")
	}
	if _, err := time.ParseDuration(c.Auth.JWKSRefreshInterval); err != nil {
		add("auth.jwksRefreshInterval: %v", err)
	}

	if k := c.Audit.Kafka; k != nil {
		if len(k.Brokers) == 0 {
			add("audit.kafka.brokers must not be empty")
		}
		if k.Topic == "" {
			add("audit.kafka.topic is required")
		}
	}
	if c.Audit.QueueSize < 0 || c.Audit.WorkerCount < 0 {
		add("audit.queueSize and audit.workerCount must not be negative")
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate must be within [0, 1], got %v", c.Telemetry.SamplingRate)
	}
	switch c.Telemetry.Exporter {
	case "otlp", "stdout", "none":
	default:
		add("telemetry.exporter must be otlp, stdout or none, got %q", c.Telemetry.Exporter)
	}

	if c.FloodGuardEnabled() && (c.FloodGuard.Rate <= 0 || c.FloodGuard.Burst < 1) {
		add("floodGuard.rate and floodGuard.burst must be positive")
	}

	if c.Upstream.URL != "" && !strings.HasPrefix(c.Upstream.URL, "http://") && !strings.HasPrefix(c.Upstream.URL, "https://") {
		add("upstream.url must be an http(s) URL, got %q", c.Upstream.URL)
	}

	return errors.Join(errs...)
}

// TrustForwardedFor reports whether X-Forwarded-For names the caller.
func (c Config) TrustForwardedFor() bool {
	return c.Server.TrustForwardedFor == nil || *c.Server.TrustForwardedFor
}

// FloodGuardEnabled reports whether the flood guard runs. Defaults to true.
func (c Config) FloodGuardEnabled() bool {
	return c.FloodGuard.Enabled == nil || *c.FloodGuard.Enabled
}

// RequestLogPaths returns the zap output paths of the requests log.
func (c Config) RequestLogPaths() []string {
	if c.Server.RequestLogPath == "" {
		return nil
	}
	return []string{c.Server.RequestLogPath}
}

// ShutdownTimeout falls back to 10s when unparsable.
func (c Config) ShutdownTimeout() time.Duration {
	return durationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

// Window returns the admission window, DefaultWindow when unparsable.
func (c Config) Window() time.Duration {
	return durationOr(c.Admission.Window, ratelimit.DefaultWindow)
}

// RedisOperationTimeout bounds every Redis call of the window store.
func (c Config) RedisOperationTimeout() time.Duration {
	return durationOr(c.Store.Redis.OperationTimeout, 250*time.Millisecond)
}

// RestrictedHours parses the restricted hours section.
func (c Config) RestrictedHours() (policy.RestrictedHours, error) {
	rh := c.Admission.RestrictedHours
	start, err := policy.ParseClockTime(rh.Start)
	if err != nil {
		return policy.RestrictedHours{}, fmt.Errorf("start: %w", err)
	}
	end, err := policy.ParseClockTime(rh.End)
	if err != nil {
		return policy.RestrictedHours{}, fmt.Errorf("end: %w", err)
	}
	hours := policy.RestrictedHours{Start: start, End: end}
	if rh.TimeZone != "" {
		loc, err := time.LoadLocation(rh.TimeZone)
		if err != nil {
			return policy.RestrictedHours{}, fmt.Errorf("timeZone: %w", err)
		}
		hours.Location = loc
	}
	return hours, nil
}

// Routes converts the route table.
func (c Config) Routes() []policy.Route {
	routes := make([]policy.Route, 0, len(c.Admission.Routes))
	for _, r := range c.Admission.Routes {
		routes = append(routes, policy.Route(r))
	}
	return routes
}

// PolicyConfig converts the admission section.
func (c Config) PolicyConfig() (policy.Config, error) {
	hours, err := c.RestrictedHours()
	if err != nil {
		return policy.Config{}, err
	}
	roles := make([]identity.Role, 0, len(c.Admission.PrivilegedRoles))
	for _, r := range c.Admission.PrivilegedRoles {
		roles = append(roles, identity.ParseRole(r))
	}
	return policy.Config{
		BurstLimit:      c.Admission.BurstLimit,
		Hours:           &hours,
		PrivilegedRoles: roles,
	}, nil
}

func (c Config) AuthConfig() identity.AuthConfig {
	return identity.AuthConfig{
		HMACSecret:          c.Auth.HMACSecret,
		JWKSURL:             c.Auth.JWKSURL,
		JWKSRefreshInterval: durationOr(c.Auth.JWKSRefreshInterval, time.Hour),
		Issuer:              c.Auth.Issuer,
		Audience:            c.Auth.Audience,
		RoleClaim:           c.Auth.RoleClaim,
	}
}

func (c Config) RecorderConfig() audit.RecorderConfig {
	queue := audit.DefaultQueuedSinkConfig()
	if c.Audit.QueueSize > 0 {
		queue.QueueSize = c.Audit.QueueSize
	}
	if c.Audit.WorkerCount > 0 {
		queue.WorkerCount = c.Audit.WorkerCount
	}
	rc := audit.RecorderConfig{
		LogEvents:      c.Audit.LogEvents,
		IncludeAllowed: c.Audit.IncludeAllowed,
		Queue:          queue,
	}
	if k := c.Audit.Kafka; k != nil {
		kc := &audit.KafkaSinkConfig{
			Brokers:          k.Brokers,
			Topic:            k.Topic,
			CompressionCodec: k.CompressionCodec,
			RequiredAcks:     k.RequiredAcks,
			MaxAttempts:      k.MaxAttempts,
		}
		if k.TLS != nil {
			kc.TLS = &audit.KafkaTLSConfig{
				Enabled:            k.TLS.Enabled,
				CAFile:             k.TLS.CAFile,
				CertFile:           k.TLS.CertFile,
				KeyFile:            k.TLS.KeyFile,
				InsecureSkipVerify: k.TLS.InsecureSkipVerify,
			}
		}
		if k.SASL != nil {
			kc.SASL = &audit.KafkaSASLConfig{
				Mechanism: k.SASL.Mechanism,
				Username:  k.SASL.Username,
				Password:  k.SASL.Password,
			}
		}
		rc.Kafka = kc
	}
	return rc
}

func (c Config) TelemetryOptions() telemetry.Options {
	return telemetry.Options{
		Enabled:      c.Telemetry.Enabled,
		ServiceName:  c.Telemetry.ServiceName,
		Exporter:     c.Telemetry.Exporter,
		Endpoint:     c.Telemetry.Endpoint,
		Insecure:     c.Telemetry.Insecure,
		SamplingRate: c.Telemetry.SamplingRate,
	}
}

func (c Config) FloodGuardConfig() ratelimit.FloodGuardConfig {
	fg := ratelimit.DefaultFloodGuardConfig()
	fg.Rate = c.FloodGuard.Rate
	fg.Burst = c.FloodGuard.Burst
	return fg
}

// Print logs the effective configuration. Credentials are reported only as
// being set, never by value.
func (c Config) Print(log *zap.SugaredLogger) {
	authMode := "disabled"
	switch {
	case c.Auth.HMACSecret != "":
		authMode = "hmac"
	case c.Auth.JWKSURL != "":
		authMode = "jwks"
	}
	var kafkaBrokers []string
	kafkaSASL := false
	if c.Audit.Kafka != nil {
		kafkaBrokers = c.Audit.Kafka.Brokers
		kafkaSASL = c.Audit.Kafka.SASL != nil && c.Audit.Kafka.SASL.Password != ""
	}
	hours := c.Admission.RestrictedHours
	log.Infow("Gateway configuration",
		"listen_address", c.Server.ListenAddress,
		"tls", c.Server.TLSCertFile != "",
		"trust_forwarded_for", c.TrustForwardedFor(),
		"window", c.Window(),
		"burst_limit", c.Admission.BurstLimit,
		"restricted_hours", hours.Start+"-"+hours.End,
		"time_zone", hours.TimeZone,
		"privileged_roles", c.Admission.PrivilegedRoles,
		"routes", len(c.Admission.Routes),
		"store_backend", c.Store.Backend,
		"redis_addr", c.Store.Redis.Addr,
		"redis_password_set", c.Store.Redis.Password != "",
		"auth", authMode,
		"jwks_url", c.Auth.JWKSURL,
		"audit_log_events", c.Audit.LogEvents,
		"audit_kafka_brokers", kafkaBrokers,
		"audit_kafka_sasl_password_set", kafkaSASL,
		"telemetry", c.Telemetry.Enabled,
		"flood_guard", c.FloodGuardEnabled(),
		"upstream", c.Upstream.URL,
	)
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func boolPtr(b bool) *bool { return &b }
