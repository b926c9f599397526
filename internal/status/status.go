// Package status models the request status record shared by the request and check flows.
package status

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
)

// Status represents the lifecycle state of a data request.
type Status string

// Status values persisted in the status record.
const (
	StatusPending      Status = "pending"
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusSkip         Status = "skip"
	StatusDiscontinued Status = "discontinued"
)

// Parse converts a persisted string into a Status.
func Parse(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusSuccess, StatusFailed, StatusSkip, StatusDiscontinued:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// IsTerminal reports whether no further polling is expected for this status.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// IsAbsorbing reports whether the status can never change again.
func (s Status) IsAbsorbing() bool {
	return s == StatusDiscontinued
}

// RequestStatus is the status record persisted between invocations.
type RequestStatus struct {
	TableName   string
	LastRequest time.Time
	Status      Status
	DataReady   bool
}

// New builds a RequestStatus with data_ready=false.
func New(tableName string, lastRequest time.Time, st Status) RequestStatus {
	return RequestStatus{
		TableName:   tableName,
		LastRequest: lastRequest.UTC(),
		Status:      st,
	}
}

// WithOutcome returns a copy carrying the given status and readiness.
func (r RequestStatus) WithOutcome(st Status, dataReady bool) RequestStatus {
	r.Status = st
	r.DataReady = dataReady
	return r
}

// Validate checks the record fields.
func (r RequestStatus) Validate() error {
	if r.TableName == "" {
		return errors.New("table_name is required")
	}
	if _, err := Parse(string(r.Status)); err != nil {
		return err
	}
	if r.DataReady && r.Status != StatusSuccess {
		return fmt.Errorf("data_ready=true requires status %q, got %q", StatusSuccess, r.Status)
	}
	if r.LastRequest.IsZero() {
		return errors.New("last_request is required")
	}
	return nil
}

// record is the on-disk shape; field order is fixed so output is byte-stable.
type record struct {
	TableName   string `yaml:"table_name"`
	LastRequest string `yaml:"last_request"`
	Status      string `yaml:"status"`
	DataReady   bool   `yaml:"data_ready"`
}

// Marshal validates and encodes a record as YAML.
func Marshal(r RequestStatus) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid status record: %w", err)
	}
	data, err := yaml.Marshal(record{
		TableName:   r.TableName,
		LastRequest: harvest.FormatTime(r.LastRequest),
		Status:      string(r.Status),
		DataReady:   r.DataReady,
	})
	if err != nil {
		return nil, fmt.Errorf("encode status record: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and validates a YAML status record.
func Unmarshal(data []byte) (RequestStatus, error) {
	var raw record
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return RequestStatus{}, fmt.Errorf("decode status record: %w", err)
	}
	st, err := Parse(raw.Status)
	if err != nil {
		return RequestStatus{}, fmt.Errorf("decode status record: %w", err)
	}
	last, err := harvest.ParseTime(raw.LastRequest)
	if err != nil {
		return RequestStatus{}, fmt.Errorf("decode status record: last_request: %w", err)
	}
	out := RequestStatus{
		TableName:   raw.TableName,
		LastRequest: last,
		Status:      st,
		DataReady:   raw.DataReady,
	}
	if err := out.Validate(); err != nil {
		return RequestStatus{}, fmt.Errorf("invalid status record: %w", err)
	}
	return out, nil
}
