package cli

import (
	"crypto/tls"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ConfigPathEnv names the configuration file when --config-path is not given.
const ConfigPathEnv = "ADMISSION_CONFIG_PATH"

type Config struct {
	// Application flags
	Debug bool

	// Configuration flags
	ConfigPath    string
	ListenAddress string

	// Metrics server flags. An empty address serves /metrics on the main listener.
	MetricsAddr string

	EnableHTTP2 bool

	// ShutdownGrace overrides server.shutdownTimeout when set.
	ShutdownGrace string
}

// Parse reads the process flags from os.Args.
func Parse() *Config {
	cfg, err := ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	return cfg
}

// ParseArgs parses args on a fresh flag set. Usage errors are written to out.
func ParseArgs(args []string, out io.Writer) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("admission-gateway", flag.ContinueOnError)
	fs.SetOutput(out)

	// Define command-line flags with environment variable fallbacks.
	// The pattern: fs.XxxVar(&variable, "flag-name", defaultValueOrEnvValue, "help text")
	fs.BoolVar(&config.Debug, "debug", getEnvBool("DEBUG", false), "Enable debug level logging")

	fs.StringVar(&config.ConfigPath, "config-path", getEnvString(ConfigPathEnv, "./config.yaml"),
		"Path to the gateway configuration file")
	fs.StringVar(&config.ListenAddress, "listen-address", getEnvString("LISTEN_ADDRESS", ""),
		"Overrides server.listenAddress from the configuration file")

	fs.StringVar(&config.MetricsAddr, "metrics-bind-address", getEnvString("METRICS_BIND_ADDRESS", ""),
		"The address a separate metrics endpoint binds to (e.g. :8081). "+
			"If empty, /metrics is served on the main listener")
	fs.BoolVar(&config.EnableHTTP2, "enable-http2", getEnvBool("ENABLE_HTTP2", false),
		"If set, HTTP/2 will be enabled for the TLS listeners")
	fs.StringVar(&config.ShutdownGrace, "shutdown-grace", getEnvString("SHUTDOWN_GRACE", ""),
		"How long in-flight requests may take on shutdown (e.g. '15s')")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(out, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return config, nil
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"config_path", c.ConfigPath,
		"listen_address", c.ListenAddress,
		"metrics_bind_address", c.MetricsAddr,
		"enable_http2", c.EnableHTTP2,
		"shutdown_grace", c.ShutdownGrace,
	)
}

// DisableHTTP2 is used to configure TLS options to disable HTTP/2.
// This is important because HTTP/2 has known vulnerabilities (CVE-2023-44487, CVE-2024-3156).
func DisableHTTP2(c *tls.Config) {
	c.NextProtos = []string{"http/1.1"}
}

// ShutdownTimeout resolves the shutdown grace period: flag first, then the
// configured value.
func (c *Config) ShutdownTimeout(configured time.Duration, log *zap.SugaredLogger) time.Duration {
	d, err := parseDuration("shutdown-grace", c.ShutdownGrace, configured)
	if err != nil {
		log.Warn(err)
	}
	return d
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
