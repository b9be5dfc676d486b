// Package provider is the HTTP client for the third-party credit check API.
package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	purchasePath = "/ps/v1/credit_checks/purchase"
	detailPath   = "/ps/v1/credit_checks/{credit_check_id}"

	// DateLayout is the provider's calendar date format.
	DateLayout = "2006-01-02"

	defaultTimeout = 30 * time.Second
)

// Config configures Client.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client calls the credit check provider. Requests are never retried: a
// repeated purchase call could buy the same report twice.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a Client for cfg.BaseURL.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	return &Client{
		http:   httpClient,
		logger: logger.Named("provider_client"),
	}
}

// Purchase buys a credit check report for a corporation.
func (c *Client) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	var (
		out    purchaseResponse
		apiErr errorResponse
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post(purchasePath)
	if err != nil {
		return nil, fmt.Errorf("purchase request: %w", err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp.StatusCode(), &apiErr)
	}
	if out.CreditCheck.CreditCheckID == 0 {
		return nil, fmt.Errorf("purchase response without credit_check_id")
	}

	c.logger.Info("credit check purchased",
		zap.String("corporation_number", req.CorporationNumber),
		zap.Int64("credit_check_id", out.CreditCheck.CreditCheckID),
	)
	return &PurchaseResult{ReportID: out.CreditCheck.CreditCheckID}, nil
}

// GetDetail fetches a purchased report. With withDocument set the response
// carries the base64 encoded PDF.
func (c *Client) GetDetail(ctx context.Context, reportID int64, withDocument bool) (*Detail, error) {
	var (
		out    detailResponse
		apiErr errorResponse
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("credit_check_id", strconv.FormatInt(reportID, 10)).
		SetQueryParam("with_pdf", strconv.FormatBool(withDocument)).
		SetResult(&out).
		SetError(&apiErr).
		Get(detailPath)
	if err != nil {
		return nil, fmt.Errorf("detail request: %w", err)
	}
	if resp.IsError() {
		return nil, newAPIError(resp.StatusCode(), &apiErr)
	}

	return out.toDetail()
}
