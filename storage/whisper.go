package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

func init() {
	Register("whisper", newWhisperPlugin)
}

// whisperAggregationMethods mirrors whisper.aggregationMethods.
var whisperAggregationMethods = []AggregationMethod{"average", "sum", "last", "max", "min"}

// WhisperPlugin is a fixed-size round-robin archive-per-metric plugin,
// grounded on original_source/lib/carbon/database.py's WhisperDatabase.
// The on-disk time-series format itself is out of scope (spec §1 treats it
// as an opaque capability), so archives here use a simple fixed-width
// binary layout rather than a byte-exact libwhisper clone.
type WhisperPlugin struct {
	dataDir     string
	graphiteURL string

	// Capability toggles supplementing spec.md's distillation, grounded
	// on database.py's init-time capability probes: each is read at
	// construction and degrades to disabled with a logged error if the
	// host can't support it, rather than being passed through as inert
	// config.
	sparseCreate    bool
	fallocateCreate bool
	autoflush       bool
	lockWrites      bool

	mu sync.Mutex
}

func newWhisperPlugin(opts map[string]string) (TimeSeriesDatabase, error) {
	dataDir := opts["LocalDataDir"]
	if dataDir == "" {
		return nil, fmt.Errorf("%w: whisper: LocalDataDir is required", ErrInvalidConfiguration)
	}
	p := &WhisperPlugin{dataDir: dataDir, graphiteURL: opts["GraphiteURL"]}

	if boolOpt(opts, "WhisperAutoflush") {
		log.Printf("storage/whisper: enabling autoflush")
		p.autoflush = true
	}
	if boolOpt(opts, "WhisperSparseCreate") {
		p.sparseCreate = true
	}
	if boolOpt(opts, "WhisperFallocateCreate") {
		if fallocateSupported() {
			log.Printf("storage/whisper: enabling fallocate support")
			p.fallocateCreate = true
		} else {
			log.Printf("storage/whisper: WhisperFallocateCreate is enabled but unsupported on this host")
		}
	}
	if boolOpt(opts, "WhisperLockWrites") {
		log.Printf("storage/whisper: enabling file locking")
		p.lockWrites = true
	}
	if boolOpt(opts, "WhisperFadviseRandom") {
		log.Printf("storage/whisper: fadvise_random is not supported by this plugin's archive layout")
	}
	return p, nil
}

func boolOpt(opts map[string]string, key string) bool {
	v, ok := opts[key]
	return ok && (v == "1" || strings.EqualFold(v, "true"))
}

// archiveHeader is the fixed-width header of one whisper-style archive
// file (point count, seconds per point, aggregation method index,
// xFilesFactor). It is followed by point-count (timestamp, value) slots of
// 16 bytes each; a datapoint overwrites slot
// (timestamp / secondsPerPoint) modulo the point count.
type archiveHeader struct {
	points            uint32
	secondsPerPoint   uint32
	aggregationMethod uint32
	xFilesFactor      float64
}

const archiveHeaderSize = 4 + 4 + 4 + 8
const pointSize = 16 // int64 timestamp + float64 value

func (p *WhisperPlugin) path(metric string) string {
	return filepath.Join(p.dataDir, tagEncode(metric, string(filepath.Separator))+".wsp")
}

func (p *WhisperPlugin) GetFilesystemPath(metric string) (string, bool) {
	return p.path(metric), true
}

func (p *WhisperPlugin) Exists(_ context.Context, metric string) (bool, error) {
	_, err := os.Stat(p.path(metric))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (p *WhisperPlugin) Create(_ context.Context, metric string, retentions []Retention, xFilesFactor float64, aggregation AggregationMethod) error {
	if err := p.ValidateArchiveList(retentions); err != nil {
		return err
	}
	path := p.path(metric)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage/whisper: create %s: %w", metric, err)
	}

	method := aggregationIndex(aggregation)
	if method < 0 {
		return fmt.Errorf("%w: unsupported aggregation method %q", ErrInvalidConfiguration, aggregation)
	}

	// Only the highest-resolution retention is kept as the round-robin
	// capacity; lower-resolution archives are this plugin's explicitly
	// accepted simplification of libwhisper's multi-archive rollup.
	finest := retentions[0]
	hdr := archiveHeader{
		points:            uint32(finest.Points),
		secondsPerPoint:   uint32(finest.SecondsPerPoint),
		aggregationMethod: uint32(method),
		xFilesFactor:      xFilesFactor,
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("storage/whisper: create %s: %w", metric, err)
	}
	defer f.Close()

	if err := writeArchiveHeader(f, hdr); err != nil {
		return err
	}
	if !p.sparseCreate && !p.fallocateCreate {
		zero := make([]byte, pointSize)
		for i := uint32(0); i < hdr.points; i++ {
			if _, err := f.WriteAt(zero, int64(archiveHeaderSize)+int64(i)*pointSize); err != nil {
				return fmt.Errorf("storage/whisper: preallocate %s: %w", metric, err)
			}
		}
	} else if err := f.Truncate(int64(archiveHeaderSize) + int64(hdr.points)*pointSize); err != nil {
		return fmt.Errorf("storage/whisper: sparse-truncate %s: %w", metric, err)
	}
	return nil
}

func (p *WhisperPlugin) Write(_ context.Context, metric string, points []Datapoint) error {
	if p.lockWrites {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	f, err := os.OpenFile(p.path(metric), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("storage/whisper: write %s: %w", metric, err)
	}
	defer f.Close()

	hdr, err := readArchiveHeader(f)
	if err != nil {
		return err
	}
	for _, dp := range points {
		slot := int64(dp.Timestamp/int64(hdr.secondsPerPoint)) % int64(hdr.points)
		offset := int64(archiveHeaderSize) + slot*pointSize
		var buf [pointSize]byte
		binary.BigEndian.PutUint64(buf[0:8], uint64(dp.Timestamp))
		binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(dp.Value))
		if _, err := f.WriteAt(buf[:], offset); err != nil {
			return fmt.Errorf("storage/whisper: write %s: %w", metric, err)
		}
	}
	if p.autoflush {
		return f.Sync()
	}
	return nil
}

func (p *WhisperPlugin) GetMetadata(_ context.Context, metric, key string) (string, error) {
	if key != "aggregationMethod" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMetadata, key)
	}
	f, err := os.Open(p.path(metric))
	if err != nil {
		return "", fmt.Errorf("storage/whisper: metadata %s: %w", metric, err)
	}
	defer f.Close()
	hdr, err := readArchiveHeader(f)
	if err != nil {
		return "", err
	}
	return string(whisperAggregationMethods[hdr.aggregationMethod]), nil
}

func (p *WhisperPlugin) SetMetadata(_ context.Context, metric, key, value string) error {
	if key != "aggregationMethod" {
		return fmt.Errorf("%w: %q", ErrUnsupportedMetadata, key)
	}
	idx := aggregationIndex(AggregationMethod(value))
	if idx < 0 {
		return fmt.Errorf("%w: unsupported aggregation method %q", ErrInvalidConfiguration, value)
	}
	f, err := os.OpenFile(p.path(metric), os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("storage/whisper: metadata %s: %w", metric, err)
	}
	defer f.Close()
	hdr, err := readArchiveHeader(f)
	if err != nil {
		return err
	}
	hdr.aggregationMethod = uint32(idx)
	return writeArchiveHeader(f, hdr)
}

func (p *WhisperPlugin) ValidateArchiveList(retentions []Retention) error {
	if len(retentions) == 0 {
		return fmt.Errorf("%w: at least one retention is required", ErrInvalidConfiguration)
	}
	seen := map[int]bool{}
	for i, r := range retentions {
		if r.SecondsPerPoint <= 0 || r.Points <= 0 {
			return fmt.Errorf("%w: retention %d: secondsPerPoint and points must be positive", ErrInvalidConfiguration, i)
		}
		if seen[r.SecondsPerPoint] {
			return fmt.Errorf("%w: duplicate retention precision %ds", ErrInvalidConfiguration, r.SecondsPerPoint)
		}
		seen[r.SecondsPerPoint] = true
		if i > 0 && r.SecondsPerPoint <= retentions[i-1].SecondsPerPoint {
			return fmt.Errorf("%w: retentions must be ordered from finest to coarsest", ErrInvalidConfiguration)
		}
	}
	return nil
}

func (p *WhisperPlugin) Tag(ctx context.Context, metric string) {
	tagOverHTTP(ctx, p.graphiteURL, metric)
}

func aggregationIndex(m AggregationMethod) int {
	for i, name := range whisperAggregationMethods {
		if name == m {
			return i
		}
	}
	return -1
}

func writeArchiveHeader(f *os.File, hdr archiveHeader) error {
	var buf [archiveHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], hdr.points)
	binary.BigEndian.PutUint32(buf[4:8], hdr.secondsPerPoint)
	binary.BigEndian.PutUint32(buf[8:12], hdr.aggregationMethod)
	binary.BigEndian.PutUint64(buf[12:20], math.Float64bits(hdr.xFilesFactor))
	_, err := f.WriteAt(buf[:], 0)
	return err
}

func readArchiveHeader(f *os.File) (archiveHeader, error) {
	var buf [archiveHeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return archiveHeader{}, fmt.Errorf("storage/whisper: read header: %w", err)
	}
	return archiveHeader{
		points:            binary.BigEndian.Uint32(buf[0:4]),
		secondsPerPoint:   binary.BigEndian.Uint32(buf[4:8]),
		aggregationMethod: binary.BigEndian.Uint32(buf[8:12]),
		xFilesFactor:      math.Float64frombits(binary.BigEndian.Uint64(buf[12:20])),
	}, nil
}

// fallocateSupported reports whether this build can use fallocate-style
// preallocation; wired generically since fallocate itself is platform-
// specific and out of scope per spec §1's "on-disk format is opaque".
func fallocateSupported() bool {
	return false
}

// tagEncode deterministically maps a possibly tag-bearing metric name to a
// filesystem-safe relative path, spec §6's "Storage layout": segments
// joined by sep, with ';' (the tag separator) escaped so tagged series
// don't collide with path boundaries.
func tagEncode(metric, sep string) string {
	parts := strings.Split(metric, ".")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(p, ";", "_")
	}
	return strings.Join(parts, sep)
}
