// Package checker decides how far an outstanding data request has progressed.
package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
	"github.com/JakeFAU/ooi-harvest-request/internal/thredds"
)

// DefaultTimeout is how long an in-progress job is waited on before the
// catalog is inspected directly.
const DefaultTimeout = 48 * time.Hour

// Kind classifies a check decision.
type Kind string

// Decision kinds.
const (
	KindDiscontinued     Kind = "discontinued"
	KindSkipped          Kind = "skipped"
	KindCompleted        Kind = "completed"
	KindTimeoutRecovered Kind = "timeout_recovered"
	KindTimeoutFailed    Kind = "timeout_failed"
	KindWaiting          Kind = "waiting"
)

// Decision is the outcome of one check. When Changed is false the persisted
// status must be left untouched.
type Decision struct {
	Kind      Kind
	Status    status.Status
	DataReady bool
	Changed   bool
	Elapsed   time.Duration
	Datasets  int
	Message   string
}

// Apply returns the status record that results from the decision.
func (d Decision) Apply(current status.RequestStatus) status.RequestStatus {
	if !d.Changed {
		return current
	}
	return current.WithOutcome(d.Status, d.DataReady)
}

// Checker evaluates persisted requests against the remote job state.
type Checker struct {
	poller   harvest.JobPoller
	catalogs harvest.CatalogFetcher
	clock    harvest.Clock
	timeout  time.Duration
	logger   *zap.Logger
}

// Option customizes a Checker.
type Option func(*Checker)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Checker.
func New(poller harvest.JobPoller, catalogs harvest.CatalogFetcher, clock harvest.Clock, opts ...Option) (*Checker, error) {
	if poller == nil || catalogs == nil {
		return nil, errors.New("checker requires a job poller and a catalog fetcher")
	}
	if clock == nil {
		return nil, errors.New("checker requires a clock")
	}
	c := &Checker{
		poller:   poller,
		catalogs: catalogs,
		clock:    clock,
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("checker")
	return c, nil
}

// Timeout returns the fallback threshold in use.
func (c *Checker) Timeout() time.Duration {
	return c.timeout
}

// Check evaluates current and resp. Polling and catalog errors are returned.
func (c *Checker) Check(ctx context.Context, current status.RequestStatus, resp harvest.RequestResponse) (Decision, error) {
	logger := c.logger.With(zap.String("table_name", current.TableName))

	if current.Status.IsAbsorbing() {
		return Decision{
			Kind:    KindDiscontinued,
			Status:  current.Status,
			Message: fmt.Sprintf("%s has been discontinued. Skipping...", current.TableName),
		}, nil
	}

	statusURL := resp.StatusURL()
	if statusURL == "" {
		return Decision{
			Kind:    KindSkipped,
			Status:  status.StatusSkip,
			Changed: true,
			Message: "No asynchronous request to check. Skipping...",
		}, nil
	}

	inProgress, err := c.poller.InProgress(ctx, statusURL)
	if err != nil {
		return Decision{}, err
	}
	if !inProgress {
		logger.Info("request completed")
		return Decision{
			Kind:      KindCompleted,
			Status:    status.StatusSuccess,
			DataReady: true,
			Changed:   true,
			Message:   "Data available for download",
		}, nil
	}

	requested, err := resp.RequestTime()
	if err != nil {
		return Decision{}, err
	}
	elapsed := c.clock.Now().Sub(requested)
	if elapsed <= c.timeout {
		return Decision{
			Kind:    KindWaiting,
			Status:  current.Status,
			Elapsed: elapsed,
			Message: fmt.Sprintf("Data request time elapsed: %s", elapsed.Round(time.Second)),
		}, nil
	}

	logger.Warn("request timed out, inspecting catalog", zap.Duration("elapsed", elapsed))
	count, err := c.countDatasets(ctx, current, resp)
	if err != nil {
		return Decision{}, err
	}
	if count > 0 {
		return Decision{
			Kind:      KindTimeoutRecovered,
			Status:    status.StatusSuccess,
			DataReady: true,
			Changed:   true,
			Elapsed:   elapsed,
			Datasets:  count,
			Message:   "Data request timeout reached. But nc files are still available.",
		}, nil
	}
	return Decision{
		Kind:    KindTimeoutFailed,
		Status:  status.StatusFailed,
		Changed: true,
		Elapsed: elapsed,
		Message: fmt.Sprintf("Data request timeout reached. Has been waiting for more than %s. (%s)",
			c.timeout, elapsed.Round(time.Second)),
	}, nil
}

func (c *Checker) countDatasets(ctx context.Context, current status.RequestStatus, resp harvest.RequestResponse) (int, error) {
	catalogURL := resp.Result.ThreddsCatalog
	if catalogURL == "" {
		return 0, nil
	}
	tableName := current.TableName
	if resp.Stream != nil && resp.Stream.TableName != "" {
		tableName = resp.Stream.TableName
	}
	data, err := c.catalogs.FetchCatalog(ctx, catalogURL)
	if err != nil {
		return 0, err
	}
	set, err := thredds.ParseAndFilter(data, thredds.XMLURL(catalogURL), tableName)
	if err != nil {
		return 0, err
	}
	return len(set.Datasets), nil
}
