// Package ooi talks to the OOI data services: the published stream index, the
// M2M on-demand request API, the THREDDS gold copy and asynchronous job status.
package ooi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/ooi-harvest-request/internal/fetcher/colly"
	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/thredds"
)

// Default service endpoints.
const (
	DefaultIndexURL    = "https://ooi-data.s3.us-west-2.amazonaws.com/index.json"
	DefaultM2MBaseURL  = "https://ooinet.oceanobservatories.org/api/m2m/12576"
	DefaultThreddsBase = "https://opendap.oceanobservatories.org"
)

const netcdfFormat = "application/netcdf"

// Fetcher performs a GET and returns the captured response.
type Fetcher interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Config holds the endpoints and credentials of the client.
type Config struct {
	IndexURL       string
	M2MBaseURL     string
	ThreddsBaseURL string
	Username       string
	Token          string
}

// Client implements the harvest request/poll interfaces over HTTP.
type Client struct {
	cfg     Config
	fetcher Fetcher
	clock   harvest.Clock
	logger  *zap.Logger
}

var (
	_ harvest.StreamIndex       = (*Client)(nil)
	_ harvest.GoldCopyRequester = (*Client)(nil)
	_ harvest.OnDemandRequester = (*Client)(nil)
	_ harvest.JobPoller         = (*Client)(nil)
	_ harvest.CatalogFetcher    = (*Client)(nil)
)

// NewClient wires a Client. Empty endpoints fall back to the public OOI services.
func NewClient(cfg Config, fetcher Fetcher, clock harvest.Clock, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("ooi client requires a fetcher")
	}
	if clock == nil {
		return nil, errors.New("ooi client requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL
	}
	if cfg.M2MBaseURL == "" {
		cfg.M2MBaseURL = DefaultM2MBaseURL
	}
	if cfg.ThreddsBaseURL == "" {
		cfg.ThreddsBaseURL = DefaultThreddsBase
	}
	cfg.M2MBaseURL = strings.TrimSuffix(cfg.M2MBaseURL, "/")
	cfg.ThreddsBaseURL = strings.TrimSuffix(cfg.ThreddsBaseURL, "/")
	return &Client{cfg: cfg, fetcher: fetcher, clock: clock, logger: logger.Named("ooi")}, nil
}

type indexDocument struct {
	Instruments []struct {
		ReferenceDesignator string        `json:"reference_designator"`
		Streams             []indexStream `json:"streams"`
	} `json:"instruments"`
}

type indexStream struct {
	ID                  string `json:"id"`
	TableName           string `json:"table_name"`
	ReferenceDesignator string `json:"reference_designator"`
	Method              string `json:"method"`
	Stream              string `json:"stream"`
	BeginTime           string `json:"beginTime"`
	EndTime             string `json:"endTime"`
	BytesSize           int64  `json:"bytes_size"`
}

// FetchStreams downloads the stream index and flattens it.
func (c *Client) FetchStreams(ctx context.Context) ([]harvest.StreamDescriptor, error) {
	body, err := c.get(ctx, c.cfg.IndexURL, false)
	if err != nil {
		return nil, fmt.Errorf("fetch stream index: %w", err)
	}
	var doc indexDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode stream index: %w", err)
	}

	var out []harvest.StreamDescriptor
	for _, inst := range doc.Instruments {
		for _, s := range inst.Streams {
			d := harvest.StreamDescriptor{
				ID:                  s.ID,
				TableName:           s.TableName,
				ReferenceDesignator: s.ReferenceDesignator,
				Method:              s.Method,
				Stream:              s.Stream,
				BeginTime:           s.BeginTime,
				EndTime:             s.EndTime,
				BytesSize:           s.BytesSize,
			}
			if d.TableName == "" {
				d.TableName = s.ID
			}
			if d.ReferenceDesignator == "" {
				d.ReferenceDesignator = inst.ReferenceDesignator
			}
			fillFromTableName(&d)
			out = append(out, d)
		}
	}
	c.logger.Debug("stream index fetched", zap.Int("streams", len(out)))
	return out, nil
}

// fillFromTableName derives missing designator parts from
// "<site>-<node>-<port>-<instrument>-<method>-<stream>".
func fillFromTableName(d *harvest.StreamDescriptor) {
	if d.ReferenceDesignator != "" && d.Method != "" && d.Stream != "" {
		return
	}
	parts := strings.SplitN(d.TableName, "-", 6)
	if len(parts) != 6 {
		return
	}
	if d.ReferenceDesignator == "" {
		d.ReferenceDesignator = strings.Join(parts[:4], "-")
	}
	if d.Method == "" {
		d.Method = parts[4]
	}
	if d.Stream == "" {
		d.Stream = parts[5]
	}
}

// GoldCopyRequest builds a response straight from the gold copy THREDDS catalog.
// The export is synchronous, so the result carries no status_url.
func (c *Client) GoldCopyRequest(ctx context.Context, params harvest.RequestParams) (harvest.RequestResponse, error) {
	table := params.Stream.TableName
	catalogBase := fmt.Sprintf("%s/thredds/catalog/ooigoldcopy/public/%s", c.cfg.ThreddsBaseURL, url.PathEscape(table))
	catalogXML := catalogBase + "/catalog.xml"

	body, err := c.get(ctx, catalogXML, false)
	if err != nil {
		return harvest.RequestResponse{}, fmt.Errorf("fetch gold copy catalog: %w", err)
	}
	set, err := thredds.ParseAndFilter(body, catalogXML, table)
	if err != nil {
		return harvest.RequestResponse{}, err
	}
	datasets := set.Overlapping(params.Start, params.End)
	if len(datasets) == 0 {
		return harvest.RequestResponse{}, fmt.Errorf("gold copy has no files for %s between %s and %s",
			table, harvest.FormatTime(params.Start), harvest.FormatTime(params.End))
	}
	urls := make([]string, 0, len(datasets))
	for _, d := range datasets {
		urls = append(urls, d.DownloadURL)
	}

	stream := params.Stream
	c.logger.Info("gold copy catalog resolved", zap.String("table_name", table), zap.Int("files", len(urls)))
	return harvest.RequestResponse{
		Stream: &stream,
		Params: params.Record(),
		Result: &harvest.ResponseResult{
			ThreddsCatalog:  catalogBase + "/catalog.html",
			DownloadCatalog: fmt.Sprintf("%s/thredds/fileServer/ooigoldcopy/public/%s", c.cfg.ThreddsBaseURL, url.PathEscape(table)),
			URLs:            urls,
			RequestDT:       harvest.FormatTime(c.clock.Now()),
		},
	}, nil
}

// Estimate asks the M2M API to size the request without running it. A
// rejection with a JSON body is returned as the estimate itself.
func (c *Client) Estimate(ctx context.Context, params harvest.RequestParams) (harvest.Estimate, error) {
	target, err := c.sensorURL(params, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.fetch(ctx, target, true)
	if err != nil {
		return nil, fmt.Errorf("request estimate: %w", err)
	}
	var estimate harvest.Estimate
	if err := json.Unmarshal(resp.Body, &estimate); err != nil {
		return nil, fmt.Errorf("decode estimate (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("estimate rejected", zap.Int("status", resp.StatusCode), zap.String("message", estimate.Message()))
	}
	return estimate, nil
}

type submitBody struct {
	RequestUUID string   `json:"requestUUID"`
	OutputURL   string   `json:"outputURL"`
	AllURLs     []string `json:"allURLs"`
}

// Submit places the actual on-demand request.
func (c *Client) Submit(ctx context.Context, params harvest.RequestParams, estimate harvest.Estimate) (harvest.RequestResponse, error) {
	target, err := c.sensorURL(params, false)
	if err != nil {
		return harvest.RequestResponse{}, err
	}
	body, err := c.get(ctx, target, true)
	if err != nil {
		return harvest.RequestResponse{}, fmt.Errorf("submit request: %w", err)
	}
	var sb submitBody
	if err := json.Unmarshal(body, &sb); err != nil {
		return harvest.RequestResponse{}, fmt.Errorf("decode submit response: %w", err)
	}
	if len(sb.AllURLs) < 2 {
		return harvest.RequestResponse{}, fmt.Errorf("submit response carries %d result URLs, want 2", len(sb.AllURLs))
	}
	if sb.RequestUUID == "" {
		sb.RequestUUID, _ = estimate.RequestUUID()
	}

	stream := params.Stream
	asyncBase := strings.TrimSuffix(sb.AllURLs[1], "/")
	c.logger.Info("request submitted", zap.String("table_name", stream.TableName), zap.String("request_uuid", sb.RequestUUID))
	return harvest.RequestResponse{
		Stream:    &stream,
		Params:    params.Record(),
		Estimated: estimate,
		Result: &harvest.ResponseResult{
			RequestUUID:     sb.RequestUUID,
			StatusURL:       asyncBase + "/status.txt",
			ThreddsCatalog:  sb.AllURLs[0],
			DownloadCatalog: sb.AllURLs[1],
			URLs:            sb.AllURLs,
			RequestDT:       harvest.FormatTime(c.clock.Now()),
		},
	}, nil
}

// InProgress polls the job's status.txt, which only exists once the job is done.
// HTTP 200 means done and 404 means still running; any other code, such as a
// 403 from an object-store front end, is returned as an error and aborts the check.
func (c *Client) InProgress(ctx context.Context, statusURL string) (bool, error) {
	resp, err := c.fetch(ctx, statusURL, false)
	if err != nil {
		return false, fmt.Errorf("poll %s: %w", statusURL, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return false, nil
	case http.StatusNotFound:
		return true, nil
	default:
		return false, fmt.Errorf("poll %s: unexpected HTTP %d", statusURL, resp.StatusCode)
	}
}

// FetchCatalog downloads the XML form of a THREDDS catalog.
func (c *Client) FetchCatalog(ctx context.Context, catalogURL string) ([]byte, error) {
	body, err := c.get(ctx, thredds.XMLURL(catalogURL), false)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	return body, nil
}

func (c *Client) sensorURL(params harvest.RequestParams, estimate bool) (string, error) {
	s := params.Stream
	parts := strings.SplitN(s.ReferenceDesignator, "-", 3)
	if len(parts) != 3 || s.Method == "" || s.Stream == "" {
		return "", fmt.Errorf("stream %q lacks a reference designator, method or stream name", s.TableName)
	}
	q := url.Values{}
	q.Set("beginDT", m2mTime(params.Start))
	q.Set("endDT", m2mTime(params.End))
	q.Set("format", netcdfFormat)
	q.Set("include_provenance", strconv.FormatBool(params.Provenance))
	if estimate {
		q.Set("estimate", "true")
	}
	return fmt.Sprintf("%s/sensor/inv/%s/%s/%s/%s/%s?%s",
		c.cfg.M2MBaseURL,
		url.PathEscape(parts[0]), url.PathEscape(parts[1]), url.PathEscape(parts[2]),
		url.PathEscape(s.Method), url.PathEscape(s.Stream), q.Encode()), nil
}

// m2mTime renders the millisecond UTC stamps the M2M API expects.
func m2mTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func (c *Client) get(ctx context.Context, target string, auth bool) ([]byte, error) {
	resp, err := c.fetch(ctx, target, auth)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: HTTP %d: %s", redact(target), resp.StatusCode, snippet(resp.Body))
	}
	return resp.Body, nil
}

func (c *Client) fetch(ctx context.Context, target string, auth bool) (collyfetcher.Response, error) {
	req := collyfetcher.Request{URL: target}
	if auth && c.cfg.Username != "" {
		req.Headers = http.Header{"Authorization": {collyfetcher.BasicAuth(c.cfg.Username, c.cfg.Token)}}
	}
	c.logger.Debug("fetch", zap.String("url", redact(target)))
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return collyfetcher.Response{}, err
	}
	return resp, nil
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.RawQuery = ""
	return u.String()
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
