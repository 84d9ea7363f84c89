package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout  = 15 * time.Second
	apiPrefix       = "/api/v1"
	maxResponseSize = 10 << 20 // 10 MB
)

// Config identifies the catalog and this app instance.
type Config struct {
	// URL is the catalog root, e.g. "https://fora.example.com".
	URL     string
	AppID   string
	Token   string
	Timeout time.Duration
}

// Client talks to the catalog's HTTP API.
//
// Thread Safety: safe for concurrent use. EnsureDatapoint mutates the
// Device it is given, so a single Device must not be provisioned from two
// goroutines at once.
type Client struct {
	baseURL    string
	appID      string
	token      string
	httpClient *http.Client
}

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	if cfg.AppID == "" {
		return nil, ErrMissingAppID
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/") + apiPrefix,
		appID:      cfg.AppID,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// FetchAppConfig returns the general configuration of this app.
func (c *Client) FetchAppConfig(ctx context.Context) (AppConfig, error) {
	var resp appResponse
	if err := c.do(ctx, http.MethodGet, c.appPath(""), nil, &resp); err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{Raw: resp.Config}
	if len(resp.Config) > 0 && string(resp.Config) != "null" {
		if err := json.Unmarshal(resp.Config, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("%w: app config: %w", ErrInvalidResponse, err)
		}
	}
	return cfg, nil
}

// ListDevices returns every device assigned to this app, with the
// datapoints provisioned so far.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.do(ctx, http.MethodGet, c.appPath("/devices"), nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// PublishConfigSchema registers the declarative configuration form.
func (c *Client) PublishConfigSchema(ctx context.Context, schema any) error {
	return c.do(ctx, http.MethodPost, c.appPath("/setConfigSchema"), configSchemaRequest{Config: schema}, nil)
}

// EnsureDatapoint returns the datapoint called name on device, creating it
// when absent. An existing record is returned as is; cfg only applies to
// creation. A created record is appended to device.Datapoints so repeated
// calls with the same device return the same identity.
func (c *Client) EnsureDatapoint(ctx context.Context, device *Device, name string, cfg DatapointConfig) (Datapoint, error) {
	if dp, ok := device.FindDatapoint(name); ok {
		return dp, nil
	}

	req := createDatapointRequest{DeviceID: device.ID, Name: name, Config: cfg}
	var created Datapoint
	if err := c.do(ctx, http.MethodPost, "/datapoints", req, &created); err != nil {
		return Datapoint{}, fmt.Errorf("create datapoint %q on device %s: %w", name, device.ID, err)
	}
	if created.ID == "" {
		return Datapoint{}, fmt.Errorf("%w: created datapoint %q has no id", ErrInvalidResponse, name)
	}
	if created.DeviceID == "" {
		created.DeviceID = device.ID
	}
	if created.Name == "" {
		created.Name = name
	}

	device.Datapoints = append(device.Datapoints, created)
	return created, nil
}

// FindDatapoint looks up a datapoint by exact, case-sensitive name.
func (d *Device) FindDatapoint(name string) (Datapoint, bool) {
	for _, dp := range d.Datapoints {
		if dp.Name == name {
			return dp, true
		}
	}
	return Datapoint{}, false
}

func (c *Client) appPath(suffix string) string {
	return "/apps/" + url.PathEscape(c.appID) + suffix
}

// do performs one JSON request. out may be nil when the body is ignored.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", ErrRemoteUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading %s %s: %w", ErrRemoteUnavailable, method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s: HTTP %d", ErrRemoteUnavailable, method, path, resp.StatusCode)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrInvalidResponse, method, path, err)
	}
	return nil
}
