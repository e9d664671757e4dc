package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrUnavailable signals the marketplace could not be reached after retries.
	ErrUnavailable = errors.New("marketplace: unavailable")
	// ErrRemoteNotFound signals the remote record does not exist.
	ErrRemoteNotFound = errors.New("marketplace: remote record not found")
)

// Client is the remote marketplace surface the reconciler and the
// registration path depend on.
type Client interface {
	GetAgreement(ctx context.Context, remoteID string) (RemoteAgreement, error)
	GetOffer(ctx context.Context, remoteID string) (RemoteOffer, error)
	GetAuthorization(ctx context.Context, remoteID string) (RemoteAuthorization, error)
	ListDisbursements(ctx context.Context) ([]RemoteDisbursement, error)
	RegisterAuthorization(ctx context.Context, params RegisterAuthorizationParams) (string, error)
	RegisterOffer(ctx context.Context, params RegisterOfferParams) (string, error)
}

const (
	defaultTimeout  = 10 * time.Second
	defaultAttempts = 4
)

// HTTPClient talks to the marketplace's REST API with a bounded per-call
// timeout and exponential backoff. 4xx responses are terminal; network
// errors and 5xx responses are retried until the attempt budget runs out.
type HTTPClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	attempts uint64
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: defaultTimeout},
		attempts: defaultAttempts,
	}
}

// WithHTTPClient overrides the underlying http client, for tests.
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.client = client
	return c
}

func (c *HTTPClient) GetAgreement(ctx context.Context, remoteID string) (RemoteAgreement, error) {
	var out RemoteAgreement
	err := c.do(ctx, http.MethodGet, "/v1/agreements/"+url.PathEscape(remoteID), nil, &out)
	return out, err
}

func (c *HTTPClient) GetOffer(ctx context.Context, remoteID string) (RemoteOffer, error) {
	var out RemoteOffer
	err := c.do(ctx, http.MethodGet, "/v1/offers/"+url.PathEscape(remoteID), nil, &out)
	return out, err
}

func (c *HTTPClient) GetAuthorization(ctx context.Context, remoteID string) (RemoteAuthorization, error) {
	var out RemoteAuthorization
	err := c.do(ctx, http.MethodGet, "/v1/resale-authorizations/"+url.PathEscape(remoteID), nil, &out)
	return out, err
}

func (c *HTTPClient) ListDisbursements(ctx context.Context) ([]RemoteDisbursement, error) {
	var out []RemoteDisbursement
	err := c.do(ctx, http.MethodGet, "/v1/disbursements", nil, &out)
	return out, err
}

func (c *HTTPClient) RegisterAuthorization(ctx context.Context, params RegisterAuthorizationParams) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/resale-authorizations", params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) RegisterOffer(ctx context.Context, params RegisterOfferParams) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/offers", params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marketplace: encode request: %w", err)
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marketplace: build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("marketplace: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrRemoteNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("marketplace: %s %s: status %d", method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return backoff.Permanent(fmt.Errorf("marketplace: %s %s: status %d: %s", method, path, resp.StatusCode, data))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("marketplace: decode response: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.attempts), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, ErrRemoteNotFound) {
			return ErrRemoteNotFound
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
