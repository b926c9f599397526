// Package producer runs one request or check invocation for a stream: it
// resolves, requests or polls, persists the outcome and reports it.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/checker"
	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/initiator"
	"github.com/JakeFAU/ooi-harvest-request/internal/resolver"
	"github.com/JakeFAU/ooi-harvest-request/internal/state"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
)

// Mode is the kind of invocation.
type Mode string

// Invocation modes.
const (
	ModeRequest Mode = "request"
	ModeCheck   Mode = "check"
)

// Outcome kinds that do not come from the checker.
const (
	KindSubmitted    = "submitted"
	KindFailed       = "failed"
	KindDiscontinued = "discontinued"
	KindPrecondition = "precondition"
)

// Outcome is the recognized result of one invocation.
type Outcome struct {
	RunID     string
	Mode      Mode
	TableName string
	Kind      string
	// Record is the status record after the invocation; zero when none exists.
	Record    status.RequestStatus
	Persisted bool
	Elapsed   time.Duration
	Message   string
}

// StatusLabel is the record status, or "none" when there is no record.
func (o Outcome) StatusLabel() string {
	if o.Record.Status == "" {
		return "none"
	}
	return string(o.Record.Status)
}

// Reporter is a side channel notified after each invocation. Failures are
// logged and never alter the outcome.
type Reporter interface {
	Report(ctx context.Context, o Outcome) error
}

// Deps are the collaborators of a Producer.
type Deps struct {
	Index     harvest.StreamIndex
	Initiator *initiator.Initiator
	Checker   *checker.Checker
	State     *state.Store
	Clock     harvest.Clock
	IDs       harvest.IDGenerator
	Reporters []Reporter
	Logger    *zap.Logger
}

// Producer runs invocations.
type Producer struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and builds a Producer.
func New(deps Deps) (*Producer, error) {
	switch {
	case deps.Index == nil:
		return nil, errors.New("producer requires a stream index")
	case deps.Initiator == nil:
		return nil, errors.New("producer requires an initiator")
	case deps.Checker == nil:
		return nil, errors.New("producer requires a checker")
	case deps.State == nil:
		return nil, errors.New("producer requires a state store")
	case deps.Clock == nil:
		return nil, errors.New("producer requires a clock")
	case deps.IDs == nil:
		return nil, errors.New("producer requires an id generator")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{deps: deps, logger: logger.Named("producer")}, nil
}

// Run dispatches on dataCheck.
func (p *Producer) Run(ctx context.Context, cfg harvest.HarvestConfig, dataCheck bool) (Outcome, error) {
	if dataCheck {
		return p.Check(ctx, cfg)
	}
	return p.Request(ctx, cfg)
}

// Request places a new data request and overwrites the persisted state.
func (p *Producer) Request(ctx context.Context, cfg harvest.HarvestConfig) (Outcome, error) {
	out, logger, err := p.begin(ModeRequest, cfg)
	if err != nil {
		return Outcome{}, err
	}
	requestDT := p.deps.Clock.Now().UTC()
	logger.Info("requesting data")

	current, err := p.deps.State.LoadStatus(ctx)
	switch {
	case err == nil && current.Status.IsAbsorbing():
		out.Kind = KindDiscontinued
		out.Record = current
		out.Message = fmt.Sprintf("%s has been discontinued. Skipping...", out.TableName)
		p.report(ctx, out, logger)
		return out, nil
	case err != nil && !errors.Is(err, state.ErrNoRequest):
		logger.Warn("ignoring unreadable status record", zap.Error(err))
	}

	stream, err := resolver.Lookup(ctx, p.deps.Index, out.TableName)
	if errors.Is(err, resolver.ErrNotFound) {
		resp := harvest.RequestResponse{
			Message: fmt.Sprintf("%s not found in OOI Database. It may be that this stream has been discontinued.", out.TableName),
		}
		rs := status.New(out.TableName, requestDT, status.StatusDiscontinued)
		if err := p.deps.State.Save(ctx, resp, rs); err != nil {
			return Outcome{}, err
		}
		out.Kind = KindDiscontinued
		out.Record = rs
		out.Persisted = true
		out.Message = "Stream not found in OOI Database."
		p.report(ctx, out, logger)
		return out, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve stream: %w", err)
	}

	result := p.deps.Initiator.Initiate(ctx, cfg, stream)
	rs := status.New(out.TableName, requestDT, result.Status())
	if err := p.deps.State.Save(ctx, result.Response, rs); err != nil {
		return Outcome{}, err
	}
	out.Record = rs
	out.Persisted = true
	if result.OK() {
		out.Kind = KindSubmitted
		out.Message = "Data Request completed."
	} else {
		out.Kind = KindFailed
		out.Message = fmt.Sprintf("Writing out status to failed: %s", result.Reason)
	}
	p.report(ctx, out, logger)
	return out, nil
}

// Check evaluates the persisted request. Polling errors are returned.
func (p *Producer) Check(ctx context.Context, cfg harvest.HarvestConfig) (Outcome, error) {
	out, logger, err := p.begin(ModeCheck, cfg)
	if err != nil {
		return Outcome{}, err
	}
	logger.Info("checking data")

	current, err := p.deps.State.LoadStatus(ctx)
	var resp harvest.RequestResponse
	if err == nil && !current.Status.IsAbsorbing() {
		// A discontinued stream is settled by the status record alone.
		resp, err = p.deps.State.LoadResponse(ctx)
	}
	if errors.Is(err, state.ErrNoRequest) {
		out.Kind = KindPrecondition
		out.Message = "Please request data first."
		p.report(ctx, out, logger)
		return out, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	decision, err := p.deps.Checker.Check(ctx, current, resp)
	if err != nil {
		return Outcome{}, fmt.Errorf("check %s: %w", out.TableName, err)
	}
	out.Kind = string(decision.Kind)
	out.Elapsed = decision.Elapsed
	out.Message = decision.Message
	out.Record = decision.Apply(current)
	if decision.Changed {
		if err := p.deps.State.SaveStatus(ctx, out.Record); err != nil {
			return Outcome{}, err
		}
		out.Persisted = true
	}
	p.report(ctx, out, logger)
	return out, nil
}

// LoadStatus returns the persisted status record.
func (p *Producer) LoadStatus(ctx context.Context) (status.RequestStatus, error) {
	return p.deps.State.LoadStatus(ctx)
}

func (p *Producer) begin(mode Mode, cfg harvest.HarvestConfig) (Outcome, *zap.Logger, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("generate run id: %w", err)
	}
	out := Outcome{RunID: runID, Mode: mode, TableName: cfg.TableName()}
	logger := p.logger.With(
		zap.String("run_id", runID),
		zap.String("mode", string(mode)),
		zap.String("table_name", out.TableName),
	)
	return out, logger, nil
}

func (p *Producer) report(ctx context.Context, out Outcome, logger *zap.Logger) {
	logger.Info("invocation finished",
		zap.String("kind", out.Kind),
		zap.String("status", out.StatusLabel()),
		zap.Bool("persisted", out.Persisted))
	for _, r := range p.deps.Reporters {
		if err := r.Report(ctx, out); err != nil {
			logger.Warn("outcome reporter failed", zap.Error(err))
		}
	}
}
