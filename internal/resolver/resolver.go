// Package resolver picks the configured stream out of the published stream index.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
)

// ErrNotFound means the index no longer lists the stream; callers treat it as discontinued.
var ErrNotFound = errors.New("stream not found in OOI database")

// Resolve returns the first descriptor whose table name equals tableName.
func Resolve(tableName string, streams []harvest.StreamDescriptor) (harvest.StreamDescriptor, error) {
	for _, s := range streams {
		if s.TableName == tableName {
			return s, nil
		}
	}
	return harvest.StreamDescriptor{}, fmt.Errorf("%s: %w", tableName, ErrNotFound)
}

// Lookup fetches the index and resolves tableName against it. Index failures
// are returned as-is and never reported as ErrNotFound.
func Lookup(ctx context.Context, index harvest.StreamIndex, tableName string) (harvest.StreamDescriptor, error) {
	streams, err := index.FetchStreams(ctx)
	if err != nil {
		return harvest.StreamDescriptor{}, err
	}
	return Resolve(tableName, streams)
}
