package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

func init() {
	Register("ceres", newCeresPlugin)
}

var ceresAggregationMethods = []AggregationMethod{"average", "sum", "last", "max", "min"}

// CeresPlugin is a directory-tree-of-nodes plugin, grounded on
// original_source/lib/carbon/database.py's CeresDatabase: one directory
// per metric under ${LocalDataDir}, a JSON metadata sidecar, and an
// append-only slice file holding (timestamp, value) records in write
// order. Node/slice caching behavior and the max-slice-gap setting are
// read at construction and kept on the plugin, but no method acts on
// them: there is no node or slice cache, and Write never splits slices
// (see Write).
type CeresPlugin struct {
	dataDir     string
	graphiteURL string

	nodeCaching  string
	sliceCaching string
	maxSliceGap  int
	lockWrites   bool

	mu sync.Mutex
}

func newCeresPlugin(opts map[string]string) (TimeSeriesDatabase, error) {
	dataDir := opts["LocalDataDir"]
	if dataDir == "" {
		return nil, fmt.Errorf("%w: ceres: LocalDataDir is required", ErrInvalidConfiguration)
	}
	p := &CeresPlugin{
		dataDir:      dataDir,
		graphiteURL:  opts["GraphiteURL"],
		nodeCaching:  orDefault(opts["CeresNodeCachingBehavior"], "all"),
		sliceCaching: orDefault(opts["CeresSliceCachingBehavior"], "latest"),
		maxSliceGap:  80,
	}
	if v, ok := opts["CeresMaxSliceGap"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.maxSliceGap = n
		}
	}
	if boolOpt(opts, "CeresLockWrites") {
		log.Printf("storage/ceres: enabling file locking")
		p.lockWrites = true
	}
	return p, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type ceresMetadata struct {
	TimeStep          int               `json:"timeStep"`
	AggregationMethod string            `json:"aggregationMethod"`
	XFilesFactor      float64           `json:"xFilesFactor"`
	Retentions        [][2]int          `json:"retentions,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

func (p *CeresPlugin) nodePath(metric string) string {
	return filepath.Join(p.dataDir, tagEncode(metric, string(filepath.Separator)))
}

func (p *CeresPlugin) metadataPath(metric string) string {
	return filepath.Join(p.nodePath(metric), "ceres-node.json")
}

func (p *CeresPlugin) slicePath(metric string) string {
	return filepath.Join(p.nodePath(metric), "0.slice")
}

func (p *CeresPlugin) GetFilesystemPath(metric string) (string, bool) {
	return p.nodePath(metric), true
}

func (p *CeresPlugin) Exists(_ context.Context, metric string) (bool, error) {
	_, err := os.Stat(p.nodePath(metric))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (p *CeresPlugin) Create(_ context.Context, metric string, retentions []Retention, xFilesFactor float64, aggregation AggregationMethod) error {
	if err := p.ValidateArchiveList(retentions); err != nil {
		return err
	}
	if ceresAggregationIndex(aggregation) < 0 {
		return fmt.Errorf("%w: unsupported aggregation method %q", ErrInvalidConfiguration, aggregation)
	}

	dir := p.nodePath(metric)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage/ceres: create %s: %w", metric, err)
	}

	rawRetentions := make([][2]int, len(retentions))
	for i, r := range retentions {
		rawRetentions[i] = [2]int{r.SecondsPerPoint, r.Points}
	}
	meta := ceresMetadata{
		TimeStep:          retentions[0].SecondsPerPoint,
		AggregationMethod: string(aggregation),
		XFilesFactor:      xFilesFactor,
		Retentions:        rawRetentions,
	}
	return p.writeMetadata(metric, meta)
}

func (p *CeresPlugin) readMetadata(metric string) (ceresMetadata, error) {
	data, err := os.ReadFile(p.metadataPath(metric))
	if err != nil {
		return ceresMetadata{}, fmt.Errorf("storage/ceres: read metadata %s: %w", metric, err)
	}
	var m ceresMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return ceresMetadata{}, fmt.Errorf("storage/ceres: decode metadata %s: %w", metric, err)
	}
	return m, nil
}

func (p *CeresPlugin) writeMetadata(metric string, m ceresMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("storage/ceres: encode metadata %s: %w", metric, err)
	}
	if err := os.WriteFile(p.metadataPath(metric), data, 0o644); err != nil {
		return fmt.Errorf("storage/ceres: write metadata %s: %w", metric, err)
	}
	return nil
}

// Write appends datapoints to the node's slice file in call order. A real
// Ceres tree splits into multiple time-ordered slice files when a gap
// wider than maxSliceGap steps appears; tracking that split is out of
// scope for this plugin (the on-disk format is an opaque capability per
// spec §1), so every write lands in a single growing slice.
func (p *CeresPlugin) Write(_ context.Context, metric string, points []Datapoint) error {
	if p.lockWrites {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	f, err := os.OpenFile(p.slicePath(metric), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("storage/ceres: write %s: %w", metric, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, dp := range points {
		if err := enc.Encode(dp); err != nil {
			return fmt.Errorf("storage/ceres: write %s: %w", metric, err)
		}
	}
	return nil
}

func (p *CeresPlugin) GetMetadata(_ context.Context, metric, key string) (string, error) {
	m, err := p.readMetadata(metric)
	if err != nil {
		return "", err
	}
	switch key {
	case "aggregationMethod":
		return m.AggregationMethod, nil
	case "timeStep":
		return strconv.Itoa(m.TimeStep), nil
	default:
		if v, ok := m.Extra[key]; ok {
			return v, nil
		}
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetadata, key)
	}
}

func (p *CeresPlugin) SetMetadata(_ context.Context, metric, key, value string) error {
	m, err := p.readMetadata(metric)
	if err != nil {
		return err
	}
	switch key {
	case "aggregationMethod":
		if ceresAggregationIndex(AggregationMethod(value)) < 0 {
			return fmt.Errorf("%w: unsupported aggregation method %q", ErrInvalidConfiguration, value)
		}
		m.AggregationMethod = value
	case "timeStep":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: timeStep must be an integer", ErrInvalidConfiguration)
		}
		m.TimeStep = n
	default:
		if m.Extra == nil {
			m.Extra = map[string]string{}
		}
		m.Extra[key] = value
	}
	return p.writeMetadata(metric, m)
}

func (p *CeresPlugin) ValidateArchiveList(retentions []Retention) error {
	if len(retentions) == 0 {
		return fmt.Errorf("%w: at least one retention is required", ErrInvalidConfiguration)
	}
	for i, r := range retentions {
		if r.SecondsPerPoint <= 0 || r.Points <= 0 {
			return fmt.Errorf("%w: retention %d: secondsPerPoint and points must be positive", ErrInvalidConfiguration, i)
		}
	}
	return nil
}

func (p *CeresPlugin) Tag(ctx context.Context, metric string) {
	tagOverHTTP(ctx, p.graphiteURL, metric)
}

func ceresAggregationIndex(m AggregationMethod) int {
	for i, name := range ceresAggregationMethods {
		if name == m {
			return i
		}
	}
	return -1
}
