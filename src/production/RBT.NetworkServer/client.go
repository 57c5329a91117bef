package networkserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
)

// ErrCircuitOpen is returned without calling the network server while the breaker is open
var ErrCircuitOpen = errors.New("network server circuit breaker is open")

// APIError is a non-2xx answer from the network server
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("network server returned status %d: %s", e.StatusCode, e.Body)
}

// QueueItem is one downlink. Data is sent base64 encoded.
type QueueItem struct {
	Data      []byte `json:"data"`
	FCnt      uint32 `json:"fCnt"`
	FPort     int    `json:"fPort"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

type queueRequest struct {
	QueueItem QueueItem `json:"queueItem"`
}

type deviceListResponse struct {
	TotalCount int                      `json:"totalCount"`
	Result     []rbtmodels.RosterDevice `json:"result"`
}

type multicastListResponse struct {
	TotalCount int                        `json:"totalCount"`
	Result     []rbtmodels.MulticastGroup `json:"result"`
}

// GatewayList is the network server's gateway listing
type GatewayList struct {
	TotalCount int                 `json:"totalCount"`
	Result     []rbtmodels.Gateway `json:"result"`
}

type gatewayResponse struct {
	Gateway struct {
		GatewayID string                     `json:"gatewayId"`
		Name      string                     `json:"name"`
		Location  *rbtmodels.GatewayLocation `json:"location"`
	} `json:"gateway"`
}

// Client talks to the LoRaWAN network server REST API. Read calls are retried
// with backoff; enqueue calls are sent once so a downlink is never queued twice.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	apiToken       string
	applicationID  string
	tenantID       string
	fPort          int
	rosterLimit    int
	circuitBreaker *CircuitBreaker
	maxRetries     int
	retryDelay     time.Duration
	logger         *logger.Logger
}

// NewClient creates a network server client
func NewClient(cfg config.NetworkServerConfig, applicationID string, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiToken:       cfg.APIToken,
		applicationID:  applicationID,
		tenantID:       cfg.TenantID,
		fPort:          cfg.FPort,
		rosterLimit:    cfg.RosterLimit,
		circuitBreaker: NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerReset),
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		logger:         log.WithComponent("network-server"),
	}
}

// ListDevices returns the application's device roster
func (c *Client) ListDevices(ctx context.Context) ([]rbtmodels.RosterDevice, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.rosterLimit))
	query.Set("applicationId", c.applicationID)

	var response deviceListResponse
	if err := c.getJSON(ctx, "/api/devices?"+query.Encode(), &response); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if response.Result == nil {
		response.Result = []rbtmodels.RosterDevice{}
	}
	return response.Result, nil
}

// ListMulticastGroups returns the application's multicast groups
func (c *Client) ListMulticastGroups(ctx context.Context, limit int) ([]rbtmodels.MulticastGroup, error) {
	if limit <= 0 {
		limit = c.rosterLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("applicationId", c.applicationID)

	var response multicastListResponse
	if err := c.getJSON(ctx, "/api/multicast-groups?"+query.Encode(), &response); err != nil {
		return nil, fmt.Errorf("failed to list multicast groups: %w", err)
	}
	if response.Result == nil {
		response.Result = []rbtmodels.MulticastGroup{}
	}
	return response.Result, nil
}

// ListGateways returns the tenant's gateways. The tenant filter is omitted when
// no tenant is configured.
func (c *Client) ListGateways(ctx context.Context, limit int) (*GatewayList, error) {
	if limit <= 0 {
		limit = c.rosterLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if c.tenantID != "" {
		query.Set("tenantId", c.tenantID)
	}

	var response GatewayList
	if err := c.getJSON(ctx, "/api/gateways?"+query.Encode(), &response); err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	if response.Result == nil {
		response.Result = []rbtmodels.Gateway{}
	}
	return &response, nil
}

// GetGatewayLocation returns the reported position of a gateway
func (c *Client) GetGatewayLocation(ctx context.Context, gatewayID string) (*rbtmodels.GatewayLocation, error) {
	var response gatewayResponse
	if err := c.getJSON(ctx, "/api/gateways/"+url.PathEscape(gatewayID), &response); err != nil {
		return nil, fmt.Errorf("failed to get gateway %s: %w", gatewayID, err)
	}
	location := response.Gateway.Location
	if location == nil || (location.Latitude == 0 && location.Longitude == 0) {
		return nil, fmt.Errorf("gateway %s has no location", gatewayID)
	}
	return location, nil
}

// EnqueueMulticast queues payload for every device of a multicast group
func (c *Client) EnqueueMulticast(ctx context.Context, groupID string, payload []byte) error {
	path := "/api/multicast-groups/" + url.PathEscape(groupID) + "/queue"
	if err := c.post(ctx, path, queueRequest{QueueItem: QueueItem{Data: payload, FPort: c.fPort}}); err != nil {
		return fmt.Errorf("failed to enqueue downlink for group %s: %w", groupID, err)
	}
	return nil
}

// EnqueueDevice queues payload for a single device
func (c *Client) EnqueueDevice(ctx context.Context, devEUI string, payload []byte) error {
	path := "/api/devices/" + url.PathEscape(devEUI) + "/queue"
	if err := c.post(ctx, path, queueRequest{QueueItem: QueueItem{Data: payload, FPort: c.fPort}}); err != nil {
		return fmt.Errorf("failed to enqueue downlink for device %s: %w", devEUI, err)
	}
	return nil
}

// CircuitBreakerStatus returns the current circuit breaker status for monitoring
func (c *Client) CircuitBreakerStatus() map[string]interface{} {
	return c.circuitBreaker.Status()
}

// Probe is the readiness check: it fails while the breaker is open and reports
// the breaker's failure count and last failure.
func (c *Client) Probe(context.Context) error {
	if c.circuitBreaker.State() != StateOpen {
		return nil
	}
	status := c.CircuitBreakerStatus()
	return fmt.Errorf("%w: %v failures, last at %v",
		ErrCircuitOpen, status["failure_count"], status["last_fail_time"])
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.retryWithBackoff(ctx, func() error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	})
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	if !c.circuitBreaker.canExecute() {
		return ErrCircuitOpen
	}
	err := c.do(ctx, http.MethodPost, path, body, nil)
	c.record(err)
	return err
}

// retryWithBackoff executes a function with exponential backoff retry logic.
// Client errors (4xx) are returned at once.
func (c *Client) retryWithBackoff(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if !c.circuitBreaker.canExecute() {
			return ErrCircuitOpen
		}

		err := operation()
		c.record(err)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == c.maxRetries {
			break
		}

		delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(attempt)))
		c.logger.WithField("attempt", attempt+1).WithError(err).Debug("Retrying network server call")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// record feeds the breaker. A 4xx means the server answered, so it counts as healthy.
func (c *Client) record(err error) {
	var apiErr *APIError
	if err == nil || (errors.As(err, &apiErr) && apiErr.StatusCode < 500) {
		c.circuitBreaker.onSuccess()
		return
	}
	c.circuitBreaker.onFailure()
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Grpc-Metadata-Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "robot-fleet-server")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
