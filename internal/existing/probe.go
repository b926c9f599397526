// Package existing looks up how far a stream has already been harvested into the
// data store, so repeated requests only ask for new data.
package existing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage"
)

// metadataKey is the consolidated zarr metadata document of a harvested dataset.
const metadataKey = ".zmetadata"

// Opener builds a reader for one bucket (or local directory) of a given scheme.
type Opener func(ctx context.Context, bucket string, settings map[string]any) (storage.Reader, error)

// Probe resolves the last harvested timestamp from consolidated zarr metadata.
type Probe struct {
	openers map[string]Opener
	logger  *zap.Logger
}

// NewProbe creates a Probe; openers are keyed by URI scheme ("s3", "gs", "file").
func NewProbe(openers map[string]Opener, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{openers: openers, logger: logger}
}

// LastTime reads <path>/<table>/.zmetadata and returns its time_coverage_end.
// A missing dataset or attribute is reported as ok=false without error.
func (p *Probe) LastTime(ctx context.Context, path, tableName string, settings map[string]any) (time.Time, bool, error) {
	loc, err := storage.ParseLocation(path)
	if err != nil {
		return time.Time{}, false, err
	}
	open, ok := p.openers[loc.Scheme]
	if !ok {
		return time.Time{}, false, fmt.Errorf("unsupported storage scheme %q", loc.Scheme)
	}
	reader, err := open(ctx, loc.Bucket, settings)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("open %s: %w", path, err)
	}
	key := loc.Key(tableName, metadataKey)
	data, err := reader.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			p.logger.Debug("no existing data", zap.String("path", path), zap.String("key", key))
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("read existing metadata: %w", err)
	}
	last, ok, err := CoverageEnd(data)
	if err != nil {
		return time.Time{}, false, err
	}
	if ok {
		p.logger.Info("existing data found", zap.String("key", key), zap.Time("time_coverage_end", last))
	}
	return last, ok, nil
}

// CoverageEnd extracts the global time_coverage_end attribute from a consolidated
// zarr metadata document.
func CoverageEnd(data []byte) (time.Time, bool, error) {
	var doc struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return time.Time{}, false, fmt.Errorf("decode zarr metadata: %w", err)
	}
	raw, ok := doc.Metadata[".zattrs"]
	if !ok {
		return time.Time{}, false, nil
	}
	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return time.Time{}, false, fmt.Errorf("decode zarr attributes: %w", err)
	}
	value, ok := attrs["time_coverage_end"].(string)
	if !ok || value == "" {
		return time.Time{}, false, nil
	}
	last, err := harvest.ParseTime(value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("time_coverage_end: %w", err)
	}
	return last, true, nil
}
