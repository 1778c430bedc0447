package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RazorpayClient talks to the Razorpay REST API with basic auth.
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

func NewRazorpayClient(baseURL, keyID, keySecret string, timeout time.Duration) *RazorpayClient {
	return &RazorpayClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	var order GatewayOrder
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *RazorpayClient) Refund(ctx context.Context, paymentID string, amount int64) (*Refund, error) {
	body := map[string]any{}
	if amount > 0 {
		body["amount"] = amount
	}

	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/refund", body, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &GatewayError{Kind: KindUnavailable, Description: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Kind: KindUnavailable, StatusCode: resp.StatusCode, Description: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &GatewayError{
			Kind:        classifyStatus(resp.StatusCode),
			StatusCode:  resp.StatusCode,
			Description: http.StatusText(resp.StatusCode),
		}
		var eb razorpayErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error.Description != "" {
			gwErr.Code = eb.Error.Code
			gwErr.Description = eb.Error.Description
		}
		return gwErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &GatewayError{Kind: KindGeneric, StatusCode: resp.StatusCode, Description: "malformed gateway response"}
	}
	return nil
}
