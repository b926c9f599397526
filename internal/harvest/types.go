// Package harvest defines the core types shared by the request and check flows.
package harvest

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// HarvestConfig is the per-stream harvest configuration document (config.yaml).
type HarvestConfig struct {
	Instrument     string         `yaml:"instrument"`
	Stream         StreamSpec     `yaml:"stream"`
	Table          string         `yaml:"table_name,omitempty"`
	HarvestOptions HarvestOptions `yaml:"harvest_options"`
	WorkflowConfig WorkflowConfig `yaml:"workflow_config"`
}

// StreamSpec names the delivery method and stream of an instrument.
type StreamSpec struct {
	Method string `yaml:"method"`
	Name   string `yaml:"name"`
}

// HarvestOptions controls how a request is made.
type HarvestOptions struct {
	Refresh      bool           `yaml:"refresh"`
	Goldcopy     bool           `yaml:"goldcopy"`
	Test         bool           `yaml:"test"`
	CustomRange  CustomRange    `yaml:"custom_range"`
	Path         string         `yaml:"path"`
	PathSettings map[string]any `yaml:"path_settings"`
}

// CustomRange optionally bounds the requested time window.
type CustomRange struct {
	Start *time.Time
	End   *time.Time
}

// WorkflowConfig carries scheduling hints for the external orchestrator.
type WorkflowConfig struct {
	Schedule string `yaml:"schedule"`
}

// UnmarshalYAML accepts ISO-8601 strings (or empty values) for start and end.
func (r *CustomRange) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode custom_range: %w", err)
	}
	var out CustomRange
	if s := strings.TrimSpace(raw.Start); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return fmt.Errorf("custom_range.start: %w", err)
		}
		out.Start = &t
	}
	if s := strings.TrimSpace(raw.End); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return fmt.Errorf("custom_range.end: %w", err)
		}
		out.End = &t
	}
	*r = out
	return nil
}

// MarshalYAML writes the range back as RFC 3339 strings.
func (r CustomRange) MarshalYAML() (any, error) {
	out := map[string]string{}
	if r.Start != nil {
		out["start"] = FormatTime(*r.Start)
	}
	if r.End != nil {
		out["end"] = FormatTime(*r.End)
	}
	return out, nil
}

// TableName returns the explicit table name or derives it from the instrument triple.
func (c HarvestConfig) TableName() string {
	if c.Table != "" {
		return c.Table
	}
	return strings.Join([]string{c.Instrument, c.Stream.Method, c.Stream.Name}, "-")
}

// WithOverrides returns a copy with refresh/test forced on when the flags are set.
// False flags defer to the file values.
func (c HarvestConfig) WithOverrides(refresh, test bool) HarvestConfig {
	out := c
	if refresh {
		out.HarvestOptions.Refresh = true
	}
	if test {
		out.HarvestOptions.Test = true
	}
	if c.HarvestOptions.PathSettings != nil {
		out.HarvestOptions.PathSettings = make(map[string]any, len(c.HarvestOptions.PathSettings))
		for k, v := range c.HarvestOptions.PathSettings {
			out.HarvestOptions.PathSettings[k] = v
		}
	}
	return out
}

// Validate checks the fields required to identify a stream.
func (c HarvestConfig) Validate() error {
	if c.Table == "" {
		if c.Instrument == "" {
			return errors.New("instrument is required when table_name is not set")
		}
		if c.Stream.Method == "" || c.Stream.Name == "" {
			return errors.New("stream.method and stream.name are required when table_name is not set")
		}
	}
	r := c.HarvestOptions.CustomRange
	if r.Start != nil && r.End != nil && !r.End.After(*r.Start) {
		return errors.New("harvest_options.custom_range.end must be after start")
	}
	return nil
}

// LoadHarvestConfig reads and validates a harvest config document.
func LoadHarvestConfig(path string) (HarvestConfig, error) {
	// #nosec G304 -- path is supplied by the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return HarvestConfig{}, fmt.Errorf("read harvest config: %w", err)
	}
	return ParseHarvestConfig(data)
}

// ParseHarvestConfig decodes and validates a harvest config document.
func ParseHarvestConfig(data []byte) (HarvestConfig, error) {
	var cfg HarvestConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HarvestConfig{}, fmt.Errorf("decode harvest config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return HarvestConfig{}, fmt.Errorf("invalid harvest config: %w", err)
	}
	return cfg, nil
}

// StreamDescriptor is one stream entry of the published data index.
// Time fields are kept verbatim so a persisted response round-trips unchanged.
type StreamDescriptor struct {
	ID                  string `json:"id,omitempty"`
	TableName           string `json:"table_name"`
	ReferenceDesignator string `json:"reference_designator,omitempty"`
	Method              string `json:"method,omitempty"`
	Stream              string `json:"stream,omitempty"`
	BeginTime           string `json:"beginTime,omitempty"`
	EndTime             string `json:"endTime,omitempty"`
	BytesSize           int64  `json:"bytes_size,omitempty"`
}

// Begin parses BeginTime.
func (d StreamDescriptor) Begin() (time.Time, error) {
	return ParseTime(d.BeginTime)
}

// End parses EndTime.
func (d StreamDescriptor) End() (time.Time, error) {
	return ParseTime(d.EndTime)
}

// RequestParams are the resolved inputs handed to a request strategy.
type RequestParams struct {
	Stream           StreamDescriptor
	Start            time.Time
	End              time.Time
	Refresh          bool
	Provenance       bool
	ExistingDataPath string
	PathSettings     map[string]any
}

// Record converts the params into their persisted form.
func (p RequestParams) Record() *ParamsRecord {
	return &ParamsRecord{
		BeginDT:          FormatTime(p.Start),
		EndDT:            FormatTime(p.End),
		Refresh:          p.Refresh,
		Provenance:       p.Provenance,
		ExistingDataPath: p.ExistingDataPath,
	}
}

// ParamsRecord is the persisted copy of the request parameters.
// Path settings are never persisted since they may hold credentials.
type ParamsRecord struct {
	BeginDT          string `json:"beginDT"`
	EndDT            string `json:"endDT"`
	Refresh          bool   `json:"refresh"`
	Provenance       bool   `json:"include_provenance"`
	ExistingDataPath string `json:"existing_data_path,omitempty"`
}

// Estimate is the raw body returned by the on-demand estimate call.
type Estimate map[string]any

// RequestUUID reports the request identifier carried by an estimate.
func (e Estimate) RequestUUID() (string, bool) {
	v, ok := e["requestUUID"]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Message returns the server-provided message of an estimate, if any.
func (e Estimate) Message() string {
	switch v := e["message"].(type) {
	case string:
		return v
	case map[string]any:
		for _, key := range []string{"status", "message"} {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
	}
	return ""
}

// RequestResponse is the persisted output of a request strategy.
// Success carries Result; failure carries only Message (plus context fields).
type RequestResponse struct {
	Stream    *StreamDescriptor `json:"stream,omitempty"`
	Params    *ParamsRecord     `json:"params,omitempty"`
	Estimated Estimate          `json:"estimated,omitempty"`
	Result    *ResponseResult   `json:"result,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// ResponseResult holds the handles of a submitted request.
type ResponseResult struct {
	RequestUUID     string   `json:"requestUUID,omitempty"`
	StatusURL       string   `json:"status_url,omitempty"`
	ThreddsCatalog  string   `json:"thredds_catalog,omitempty"`
	DownloadCatalog string   `json:"download_catalog,omitempty"`
	URLs            []string `json:"urls,omitempty"`
	RequestDT       string   `json:"request_dt"`
}

// StatusURL returns the asynchronous job handle, or "" when there is none.
func (r RequestResponse) StatusURL() string {
	if r.Result == nil {
		return ""
	}
	return r.Result.StatusURL
}

// RequestTime parses the request_dt stamp of the result.
func (r RequestResponse) RequestTime() (time.Time, error) {
	if r.Result == nil || r.Result.RequestDT == "" {
		return time.Time{}, errors.New("response has no request_dt")
	}
	return ParseTime(r.Result.RequestDT)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime parses RFC 3339 and zone-less ISO-8601 stamps; zone-less values are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// FormatTime renders a timestamp in UTC with full precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
