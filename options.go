package relay

import "time"

const (
	// DefaultMaxQueueSize is the hard cap on a session's pending queue.
	DefaultMaxQueueSize = 10000
	// DefaultMaxDatapointsPerMessage bounds a single outgoing frame.
	DefaultMaxDatapointsPerMessage = 500
	// DefaultMaxDelay is the reconnect backoff ceiling, matching
	// CarbonClientFactory.maxDelay = 5 in the reference implementation.
	DefaultMaxDelay = 5 * time.Second
	// DefaultMinDelay is the reconnect backoff floor.
	DefaultMinDelay = 200 * time.Millisecond
	// DefaultDialTimeout bounds a single connect attempt.
	DefaultDialTimeout = 10 * time.Second
)

// LowWatermark returns 0.8 * maxQueueSize, per spec §4.2.
func LowWatermark(maxQueueSize int) int {
	return int(0.8 * float64(maxQueueSize))
}

// Option configures a Config, mirroring the teacher's functional-options
// shape (aznet.Option).
type Option func(*Config)

// Config holds the tunables consumed by the forwarding core (spec §6).
// Construct with New; the zero value is never used directly.
type Config struct {
	MaxQueueSize            int
	MaxDatapointsPerMessage int
	UseFlowControl          bool

	MinDelay    time.Duration
	MaxDelay    time.Duration
	DialTimeout time.Duration

	// Secure wraps each session's TCP connection in a Noise-encrypted
	// channel before framing (see secure.go). Off by default.
	Secure bool

	// GraphiteURL is the base URL storage plugins POST tag requests to.
	GraphiteURL string

	// LocalDataDir is the root directory path-backed storage plugins
	// write under.
	LocalDataDir string

	Metrics Metrics
}

// defaultConfig returns a Config with the core's documented defaults.
func defaultConfig() *Config {
	return &Config{
		MaxQueueSize:            DefaultMaxQueueSize,
		MaxDatapointsPerMessage: DefaultMaxDatapointsPerMessage,
		UseFlowControl:          true,
		MinDelay:                DefaultMinDelay,
		MaxDelay:                DefaultMaxDelay,
		DialTimeout:             DefaultDialTimeout,
		Metrics:                 NewDefaultMetrics(),
	}
}

// New builds a Config by applying opts on top of library defaults.
func New(opts ...Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithMaxQueueSize sets the hard per-session queue cap.
func WithMaxQueueSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxQueueSize = n
		}
	}
}

// WithMaxDatapointsPerMessage bounds how many datapoints are batched into
// a single outgoing frame.
func WithMaxDatapointsPerMessage(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxDatapointsPerMessage = n
		}
	}
}

// WithFlowControl enables or disables pause/resume signaling to ingest.
func WithFlowControl(enabled bool) Option {
	return func(c *Config) {
		c.UseFlowControl = enabled
	}
}

// WithReconnectDelay sets the backoff floor and ceiling for the
// reconnecting connector.
func WithReconnectDelay(minDelay, maxDelay time.Duration) Option {
	return func(c *Config) {
		if minDelay > 0 {
			c.MinDelay = minDelay
		}
		if maxDelay > 0 {
			c.MaxDelay = maxDelay
		}
	}
}

// WithDialTimeout bounds a single connect attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DialTimeout = d
		}
	}
}

// WithSecureTransport enables Noise-encrypted sessions.
func WithSecureTransport(enabled bool) Option {
	return func(c *Config) {
		c.Secure = enabled
	}
}

// WithGraphiteURL sets the base URL used for tag indexing requests.
func WithGraphiteURL(url string) Option {
	return func(c *Config) {
		c.GraphiteURL = url
	}
}

// WithLocalDataDir sets the root directory for path-backed storage plugins.
func WithLocalDataDir(dir string) Option {
	return func(c *Config) {
		c.LocalDataDir = dir
	}
}

// WithMetrics sets a custom Metrics implementation. If not provided, a
// DefaultMetrics with atomic counters is used.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}
