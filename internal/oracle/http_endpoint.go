package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPEndpointOptions parameterise a JSON price API endpoint.
type HTTPEndpointOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPEndpoint fetches feed values from a JSON price API. It serves as a
// fallback source behind the on-chain registry.
type HTTPEndpoint struct {
	opts    HTTPEndpointOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTPEndpoint constructs an HTTP feed endpoint.
func NewHTTPEndpoint(opts HTTPEndpointOptions, logger zerolog.Logger) *HTTPEndpoint {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEndpoint{
		opts:    opts,
		logger:  logger.With().Str("component", "http_endpoint").Str("base_url", opts.BaseURL).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Name identifies the endpoint by its base URL.
func (h *HTTPEndpoint) Name() string { return h.opts.BaseURL }

type feedResponse struct {
	Price     string `json:"price"`
	Decimals  int32  `json:"decimals"`
	Timestamp int64  `json:"timestamp"`
}

type feedErrorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Fetch retrieves one feed value and rescales it to 18 decimals.
func (h *HTTPEndpoint) Fetch(ctx context.Context, feedID string) (decimal.Decimal, time.Time, error) {
	if h.baseURL == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("base url not configured")
	}

	endpoint := fmt.Sprintf("%s/feeds/%s", h.baseURL, feedID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "depegshield/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, time.Time{}, parseFeedError(resp.StatusCode, payload)
	}

	var body feedResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	raw, err := decimal.NewFromString(body.Price)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, fmt.Errorf("parse feed price: %w", err)
	}
	if raw.IsZero() {
		return decimal.Decimal{}, time.Time{}, errors.New("feed returned zero price")
	}

	// The API reports the raw integer price alongside its decimal count;
	// shift down to a unit price.
	price := raw.Shift(-body.Decimals)
	return price, time.Unix(body.Timestamp, 0).UTC(), nil
}

// Ping probes the API health route.
func (h *HTTPEndpoint) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("feed api unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func parseFeedError(status int, payload []byte) error {
	var apiErr feedErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("feed api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("feed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("feed api error (%d)", status)
}

var _ Endpoint = (*HTTPEndpoint)(nil)
