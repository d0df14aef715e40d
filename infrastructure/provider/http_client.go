// Package provider implements the external invoicing provider client. The
// provider assigns series and folio server-side; this client only carries
// the call, with bounded retries, rate limiting and circuit breaking.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/facturio/invoicing-engine/domain/repository"
	"github.com/facturio/invoicing-engine/shared/common"
	"github.com/facturio/invoicing-engine/shared/retry"
)

// HTTPClient implements repository.ProviderClient over the provider's REST API
type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	limiter        *rate.Limiter
	retryPolicy    retry.Policy
	circuitBreaker *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

// Config controls the provider client
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	RatePerSecond  float64
	RateBurst      int
	Retry          common.RetryConfig
	CircuitBreaker common.CircuitBreakerConfig
}

type createInvoiceRequest struct {
	CustomerID  string              `json:"customer_id"`
	SourceLabel string              `json:"source_label"`
	Items       []createInvoiceItem `json:"items"`
	Total       float64             `json:"total"`
}

type createInvoiceItem struct {
	TaxKey      string  `json:"tax_key"`
	Description string  `json:"description"`
	Subtotal    float64 `json:"subtotal"`
	VAT         float64 `json:"vat"`
	Withholding float64 `json:"withholding"`
}

type createInvoiceResponse struct {
	ID     string  `json:"id"`
	Series string  `json:"series"`
	Folio  int64   `json:"folio"`
	Total  float64 `json:"total"`
}

type providerErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewHTTPClient creates a provider client
func NewHTTPClient(cfg Config, logger *zap.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		return nil, common.NewAppError(common.ErrCodeInvalidInput, "provider base URL is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	ratePerSecond := cfg.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	failureThreshold := cfg.CircuitBreaker.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}

	client := &HTTPClient{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		retryPolicy: retry.FromConfig(cfg.Retry),
		logger:      logger,
	}

	client.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "invoicing-provider",
		MaxRequests: cfg.CircuitBreaker.MaxRequests,
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return client, nil
}

// CreateInvoice registers one invoice with the provider
func (c *HTTPClient) CreateInvoice(ctx context.Context, creds repository.TenantCredentials, spec repository.InvoiceSpec) (*repository.ProviderInvoice, error) {
	payload := createInvoiceRequest{
		CustomerID:  spec.CustomerID,
		SourceLabel: spec.SourceLabel,
		Total:       spec.Total,
	}
	for _, s := range spec.Services {
		payload.Items = append(payload.Items, createInvoiceItem{
			TaxKey:      s.TaxKey,
			Description: s.Description,
			Subtotal:    s.Subtotal,
			VAT:         s.VATAmount,
			Withholding: s.WithholdingAmount,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "failed to encode invoice spec")
	}

	var result createInvoiceResponse
	err = retry.Do(ctx, c.retryPolicy, func() error {
		return c.doJSON(ctx, creds, http.MethodPost, "/v1/invoices", body, &result)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Invoice created",
		zap.String("tenant_id", creds.TenantID),
		zap.String("invoice_id", result.ID),
		zap.String("series", result.Series),
		zap.Int64("folio", result.Folio))

	return &repository.ProviderInvoice{
		ID:     result.ID,
		Series: result.Series,
		Folio:  result.Folio,
		Total:  result.Total,
	}, nil
}

// DownloadArtifact fetches a rendered invoice representation
func (c *HTTPClient) DownloadArtifact(ctx context.Context, creds repository.TenantCredentials, invoiceID string, kind repository.ArtifactKind) ([]byte, error) {
	var artifact []byte
	err := retry.Do(ctx, c.retryPolicy, func() error {
		data, reqErr := c.doRaw(ctx, creds, http.MethodGet,
			fmt.Sprintf("/v1/invoices/%s/%s", invoiceID, kind), nil)
		if reqErr != nil {
			return reqErr
		}
		artifact = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, creds repository.TenantCredentials, method, path string, body []byte, out interface{}) error {
	data, err := c.doRaw(ctx, creds, method, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return common.WrapError(err, common.ErrCodeProvider, "malformed provider response")
	}
	return nil
}

func (c *HTTPClient) doRaw(ctx context.Context, creds repository.TenantCredentials, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeInternal, "failed to build provider request")
		}
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "provider request failed")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "failed to read provider response")
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		return nil, c.statusError(resp.StatusCode, data)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, common.WrapError(err, common.ErrCodeServiceUnavailable, "provider circuit breaker open")
		}
		return nil, err
	}
	return result.([]byte), nil
}

// statusError classifies an HTTP failure: 429 and 5xx are transient and
// retryable, other 4xx are terminal provider rejections.
func (c *HTTPClient) statusError(status int, body []byte) error {
	message := fmt.Sprintf("provider returned status %d", status)
	var parsed providerErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		message = parsed.Message
	}

	switch {
	case status == http.StatusTooManyRequests:
		return common.NewAppErrorWithDetails(common.ErrCodeRateLimited, "provider rate limit hit", message)
	case status >= 500:
		return common.NewAppErrorWithDetails(common.ErrCodeServiceUnavailable, "provider unavailable", message)
	default:
		return common.NewAppErrorWithDetails(common.ErrCodeProvider, "provider rejected the request", message)
	}
}
