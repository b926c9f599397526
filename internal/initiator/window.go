package initiator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
)

// ErrEmptyWindow means there is nothing new to request.
var ErrEmptyWindow = errors.New("request window is empty")

// testWindow bounds the window of a test harvest.
const testWindow = 24 * time.Hour

// resumeGap separates the last harvested sample from the next request.
const resumeGap = time.Second

// Params resolves the request window and options for one stream.
func (i *Initiator) Params(ctx context.Context, cfg harvest.HarvestConfig, stream harvest.StreamDescriptor) (harvest.RequestParams, error) {
	opts := cfg.HarvestOptions
	params := harvest.RequestParams{
		Stream:           stream,
		Refresh:          opts.Refresh,
		Provenance:       true,
		ExistingDataPath: opts.Path,
		PathSettings:     opts.PathSettings,
	}

	start, err := boundary(opts.CustomRange.Start, stream.BeginTime, time.Time{})
	if err != nil {
		return params, fmt.Errorf("stream begin time: %w", err)
	}
	end, err := boundary(opts.CustomRange.End, stream.EndTime, i.clock.Now())
	if err != nil {
		return params, fmt.Errorf("stream end time: %w", err)
	}

	if !opts.Refresh && opts.Path != "" && i.probe != nil {
		last, ok, err := i.probe.LastTime(ctx, opts.Path, stream.TableName, opts.PathSettings)
		if err != nil {
			return params, fmt.Errorf("existing data lookup: %w", err)
		}
		if ok && !last.Before(start) {
			i.logger.Info("resuming after existing data",
				zap.String("table_name", stream.TableName),
				zap.Time("last", last))
			start = last.Add(resumeGap)
		}
	}

	if opts.Test && end.Sub(start) > testWindow {
		end = start.Add(testWindow)
	}

	params.Start, params.End = start.UTC(), end.UTC()
	if !params.End.After(params.Start) {
		return params, fmt.Errorf("%w: %s to %s", ErrEmptyWindow,
			harvest.FormatTime(params.Start), harvest.FormatTime(params.End))
	}
	return params, nil
}

// boundary picks the configured override, else the stream's own stamp, else fallback.
func boundary(override *time.Time, streamValue string, fallback time.Time) (time.Time, error) {
	if override != nil {
		return override.UTC(), nil
	}
	if streamValue == "" {
		if fallback.IsZero() {
			return time.Time{}, errors.New("not published")
		}
		return fallback, nil
	}
	return harvest.ParseTime(streamValue)
}
