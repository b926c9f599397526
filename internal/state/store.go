// Package state persists the request response and status record between invocations.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage"
)

// ErrNoRequest means the response or status record has not been written yet.
var ErrNoRequest = errors.New("no data request has been made")

// Paths are the object keys of the persisted documents.
type Paths struct {
	Response string `mapstructure:"response_path"`
	Status   string `mapstructure:"status_path"`
}

// DefaultPaths mirrors the layout of a stream harvest repository.
var DefaultPaths = Paths{
	Response: "history/response.json",
	Status:   "history/request.yaml",
}

// Store reads and fully overwrites the response and status documents.
type Store struct {
	backend storage.Store
	paths   Paths
	logger  *zap.Logger
}

// New creates a Store over backend. Empty paths take their defaults.
func New(backend storage.Store, paths Paths, logger *zap.Logger) *Store {
	if paths.Response == "" {
		paths.Response = DefaultPaths.Response
	}
	if paths.Status == "" {
		paths.Status = DefaultPaths.Status
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, paths: paths, logger: logger.Named("state")}
}

// Paths returns the keys in use.
func (s *Store) Paths() Paths {
	return s.paths
}

// LoadStatus reads and validates the status record.
func (s *Store) LoadStatus(ctx context.Context) (status.RequestStatus, error) {
	data, err := s.get(ctx, s.paths.Status)
	if err != nil {
		return status.RequestStatus{}, err
	}
	rs, err := status.Unmarshal(data)
	if err != nil {
		return status.RequestStatus{}, fmt.Errorf("%s: %w", s.paths.Status, err)
	}
	return rs, nil
}

// SaveStatus validates and overwrites the status record.
func (s *Store) SaveStatus(ctx context.Context, rs status.RequestStatus) error {
	data, err := status.Marshal(rs)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, s.paths.Status, data); err != nil {
		return fmt.Errorf("write %s: %w", s.paths.Status, err)
	}
	s.logger.Debug("status saved", zap.String("key", s.paths.Status), zap.String("status", string(rs.Status)))
	return nil
}

// LoadResponse reads the persisted request response.
func (s *Store) LoadResponse(ctx context.Context) (harvest.RequestResponse, error) {
	data, err := s.get(ctx, s.paths.Response)
	if err != nil {
		return harvest.RequestResponse{}, err
	}
	var resp harvest.RequestResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return harvest.RequestResponse{}, fmt.Errorf("decode %s: %w", s.paths.Response, err)
	}
	return resp, nil
}

// SaveResponse overwrites the persisted request response.
func (s *Store) SaveResponse(ctx context.Context, resp harvest.RequestResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := s.backend.Put(ctx, s.paths.Response, append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", s.paths.Response, err)
	}
	return nil
}

// Save writes the response first and the status record last.
func (s *Store) Save(ctx context.Context, resp harvest.RequestResponse, rs status.RequestStatus) error {
	if err := rs.Validate(); err != nil {
		return fmt.Errorf("invalid status record: %w", err)
	}
	if err := s.SaveResponse(ctx, resp); err != nil {
		return err
	}
	return s.SaveStatus(ctx, rs)
}

// Load reads both documents. Either one missing yields ErrNoRequest.
func (s *Store) Load(ctx context.Context) (status.RequestStatus, harvest.RequestResponse, error) {
	rs, err := s.LoadStatus(ctx)
	if err != nil {
		return status.RequestStatus{}, harvest.RequestResponse{}, err
	}
	resp, err := s.LoadResponse(ctx)
	if err != nil {
		return status.RequestStatus{}, harvest.RequestResponse{}, err
	}
	return rs, resp, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNoRequest)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}
