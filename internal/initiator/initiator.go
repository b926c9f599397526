// Package initiator places a data request for a resolved stream, either as a
// gold copy catalog export or as an on-demand estimate followed by a submit.
package initiator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
)

// Strategy names how a request was placed.
type Strategy string

// Request strategies.
const (
	StrategyGoldCopy Strategy = "goldcopy"
	StrategyOnDemand Strategy = "on_demand"
)

// Result is the outcome of a request attempt: submitted or failed. Both carry
// the response document to persist.
type Result struct {
	Strategy Strategy
	Response harvest.RequestResponse
	// Reason is set only for failures.
	Reason string
}

// Submitted wraps an accepted request.
func Submitted(strategy Strategy, resp harvest.RequestResponse) Result {
	return Result{Strategy: strategy, Response: resp}
}

// Failed wraps a rejected or errored request. The reason becomes the response
// message unless the response already carries one.
func Failed(strategy Strategy, resp harvest.RequestResponse, reason string) Result {
	if resp.Message == "" {
		resp.Message = reason
	}
	return Result{Strategy: strategy, Response: resp, Reason: reason}
}

// OK reports whether the request was submitted.
func (r Result) OK() bool {
	return r.Reason == ""
}

// Status maps the result onto the persisted status.
func (r Result) Status() status.Status {
	if r.OK() {
		return status.StatusPending
	}
	return status.StatusFailed
}

// Initiator places requests. Remote failures never escape as errors; they
// become Failed results.
type Initiator struct {
	goldCopy harvest.GoldCopyRequester
	onDemand harvest.OnDemandRequester
	probe    harvest.ExistingDataProbe
	clock    harvest.Clock
	logger   *zap.Logger
}

// New wires an Initiator. probe may be nil when existing data is never consulted.
func New(
	goldCopy harvest.GoldCopyRequester,
	onDemand harvest.OnDemandRequester,
	probe harvest.ExistingDataProbe,
	clock harvest.Clock,
	logger *zap.Logger,
) (*Initiator, error) {
	if goldCopy == nil || onDemand == nil {
		return nil, errors.New("initiator requires gold copy and on-demand requesters")
	}
	if clock == nil {
		return nil, errors.New("initiator requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Initiator{
		goldCopy: goldCopy,
		onDemand: onDemand,
		probe:    probe,
		clock:    clock,
		logger:   logger.Named("initiator"),
	}, nil
}

// Initiate requests data for stream using the strategy chosen by
// harvest_options.goldcopy.
func (i *Initiator) Initiate(ctx context.Context, cfg harvest.HarvestConfig, stream harvest.StreamDescriptor) Result {
	strategy := StrategyOnDemand
	if cfg.HarvestOptions.Goldcopy {
		strategy = StrategyGoldCopy
	}
	logger := i.logger.With(zap.String("table_name", stream.TableName), zap.String("strategy", string(strategy)))

	params, err := i.Params(ctx, cfg, stream)
	if err != nil {
		logger.Warn("request window unresolved", zap.Error(err))
		return Failed(strategy, baseResponse(params, nil), err.Error())
	}

	if strategy == StrategyGoldCopy {
		return i.initiateGoldCopy(ctx, params, logger)
	}
	return i.initiateOnDemand(ctx, params, logger)
}

func (i *Initiator) initiateGoldCopy(ctx context.Context, params harvest.RequestParams, logger *zap.Logger) Result {
	logger.Info("fetching from gold copy")
	resp, err := i.goldCopy.GoldCopyRequest(ctx, params)
	if err != nil {
		logger.Warn("gold copy request failed", zap.Error(err))
		return Failed(StrategyGoldCopy, baseResponse(params, nil), fmt.Sprintf("gold copy request failed: %v", err))
	}
	return Submitted(StrategyGoldCopy, resp)
}

func (i *Initiator) initiateOnDemand(ctx context.Context, params harvest.RequestParams, logger *zap.Logger) Result {
	estimate, err := i.onDemand.Estimate(ctx, params)
	if err != nil {
		logger.Warn("estimate failed", zap.Error(err))
		return Failed(StrategyOnDemand, baseResponse(params, nil), fmt.Sprintf("estimate failed: %v", err))
	}

	uuid, ok := estimate.RequestUUID()
	if !ok {
		reason := "estimate did not return a requestUUID"
		if msg := estimate.Message(); msg != "" {
			reason = fmt.Sprintf("%s: %s", reason, msg)
		}
		logger.Warn("estimate rejected", zap.String("reason", reason))
		return Failed(StrategyOnDemand, baseResponse(params, estimate), reason)
	}

	logger.Info("continuing to actual request", zap.String("request_uuid", uuid))
	resp, err := i.onDemand.Submit(ctx, params, estimate)
	if err != nil {
		logger.Warn("submit failed", zap.Error(err))
		return Failed(StrategyOnDemand, baseResponse(params, estimate), fmt.Sprintf("submit failed: %v", err))
	}
	return Submitted(StrategyOnDemand, resp)
}

// baseResponse is the response persisted when no request handle exists.
func baseResponse(params harvest.RequestParams, estimate harvest.Estimate) harvest.RequestResponse {
	stream := params.Stream
	resp := harvest.RequestResponse{Stream: &stream, Estimated: estimate}
	if !params.Start.IsZero() && !params.End.IsZero() {
		resp.Params = params.Record()
	}
	return resp
}
