// Package storage implements the Storage Plugin Interface (spec §4.6): the
// capability set a parallel writer path uses to persist datapoints,
// consumed by the forwarding core only by interface.
package storage

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrUnsupportedMetadata is returned by GetMetadata/SetMetadata for a
	// key the plugin does not recognize.
	ErrUnsupportedMetadata = errors.New("storage: unsupported metadata key")
	// ErrInvalidConfiguration is returned by ValidateArchiveList/Create
	// when the retention list is incompatible.
	ErrInvalidConfiguration = errors.New("storage: invalid configuration")
	// ErrUnknownPlugin is returned by New for an unregistered plugin name.
	ErrUnknownPlugin = errors.New("storage: unknown plugin")
	// ErrAlreadyRegistered names a duplicate plugin registration. Register
	// itself panics on a duplicate name instead of returning it.
	ErrAlreadyRegistered = errors.New("storage: plugin already registered")
)

// Retention is one (secondsPerPoint, points) archive definition, spec §5
// "DATA MODEL additions".
type Retention struct {
	SecondsPerPoint int
	Points          int
}

// AggregationMethod names one of a plugin's advertised aggregation
// functions (e.g. "average", "sum", "max").
type AggregationMethod string

// TimeSeriesDatabase is the capability set spec §4.6 requires of every
// storage plugin.
type TimeSeriesDatabase interface {
	Write(ctx context.Context, metric string, points []Datapoint) error
	Exists(ctx context.Context, metric string) (bool, error)
	Create(ctx context.Context, metric string, retentions []Retention, xFilesFactor float64, aggregation AggregationMethod) error
	GetMetadata(ctx context.Context, metric, key string) (string, error)
	SetMetadata(ctx context.Context, metric, key, value string) error
	// GetFilesystemPath returns the on-disk path for metric, and false
	// for plugins that are not path-backed.
	GetFilesystemPath(metric string) (string, bool)
	ValidateArchiveList(retentions []Retention) error
	// Tag fire-and-forgets an indexing request for metric; failures are
	// logged by the implementation, never returned.
	Tag(ctx context.Context, metric string)
}

// Datapoint mirrors relay.Datapoint without importing the forwarding-core
// package, keeping storage pluggable independent of the wire client.
type Datapoint struct {
	Timestamp int64
	Value     float64
}

// Constructor builds a TimeSeriesDatabase from plugin-specific options.
type Constructor func(opts map[string]string) (TimeSeriesDatabase, error)

var registry = make(map[string]Constructor)

// Register adds a named plugin constructor, called from each plugin's
// init(), grounded on aznet.RegisterFactory's explicit
// registration-at-program-start convention (spec §9's "Plugin registry"
// design note: prefer explicit registration over implicit discovery).
func Register(name string, ctor Constructor) {
	if _, dup := registry[name]; dup {
		panic("storage: plugin already registered: " + name)
	}
	registry[name] = ctor
}

// Names returns the registered plugin names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs the named plugin with opts.
func New(name string, opts map[string]string) (TimeSeriesDatabase, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, ErrUnknownPlugin
	}
	return ctor(opts)
}
