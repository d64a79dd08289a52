// Package cdo is a client for the Cisco Defense Orchestrator REST API. It
// serves as both the device directory and the remote command executor.
package cdo

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

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/cdoctl/pkg/util"
	"github.com/newtron-network/cdoctl/pkg/version"
)

// Regions and their API hosts.
var Regions = map[string]string{
	"us":  "www.defenseorchestrator.com",
	"eu":  "www.defenseorchestrator.eu",
	"apj": "apj.cdo.cisco.com",
}

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us"

const (
	apiRoot            = "aegis/rest/v1"
	pathDevices        = apiRoot + "/services/targets/devices"
	pathSpecificDevice = apiRoot + "/device/%s/specific-device"
	pathASAConfigs     = apiRoot + "/services/asa/configs"
	pathCLIExecutions  = apiRoot + "/services/cli/executions"

	maxErrorBody = 1 << 20
)

// RegionURL returns the API base URL of region.
func RegionURL(region string) (string, error) {
	if region == "" {
		region = DefaultRegion
	}
	host, ok := Regions[strings.ToLower(region)]
	if !ok {
		return "", fmt.Errorf("unknown CDO region %q (want us, eu or apj)", region)
	}
	return "https://" + host, nil
}

// Client talks to one CDO tenant.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	http      *http.Client
	log       *logrus.Entry
	pageSize  int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the log entry used for request logging.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// WithPageSize sets how many devices an inventory page holds.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a client for baseURL (see RegionURL) authenticating
// with token.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing CDO base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("CDO base URL %q must include scheme and host", baseURL)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: no API token", util.ErrCredentials)
	}

	c := &Client{
		base:      base,
		token:     token,
		userAgent: version.UserAgent(),
		http:      &http.Client{Timeout: 60 * time.Second},
		log:       util.NewEntry(),
		pageSize:  50,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) put(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.log.WithFields(logrus.Fields{"method": method, "path": path}).Debug("cdo request")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, method, path); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s %s response: %w", method, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// checkResponse turns a non-2xx response into a *util.APIError.
func checkResponse(resp *http.Response, method, path string) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &util.APIError{
		StatusCode: resp.StatusCode,
		Method:     method,
		Path:       path,
		Body:       string(body),
	}
}
