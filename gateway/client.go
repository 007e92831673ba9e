/*
Copyright 2024 Orangemart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package gateway implements the LNbits payment gateway client: invoice
// creation, outbound payments, settlement checks and LNURL-pay address
// resolution. The client is stateless request/response; every call carries
// the configured API key and a fixed timeout.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustysats/orangemart/model"
)

const apiKeyHeader = "X-Api-Key"

// Client talks to an LNbits-compatible gateway over HTTP.
type Client struct {
	baseUrl string
	apiKey  string
	http    *http.Client
}

// NewClient builds a gateway client. The timeout applies per request; it is
// never "no timeout".
func NewClient(baseUrl, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseUrl: baseUrl,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// invoiceResponse is the LNbits payment creation response. Some deployments
// wrap it in a {"data": {...}} envelope, so decoding tries both.
type invoiceResponse struct {
	PaymentRequest string `json:"bolt11"`
	PaymentHash    string `json:"payment_hash"`
}

type invoiceResponseWrapper struct {
	Data *invoiceResponse `json:"data"`
}

type paymentStatusResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage"`
}

func (c *Client) doJSON(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewBuffer(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}
	return data, nil
}

func decodeInvoiceResponse(data []byte) (*invoiceResponse, error) {
	// Try the {"data": {...}} envelope first, then the flat shape.
	var wrapper invoiceResponseWrapper
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Data != nil && wrapper.Data.PaymentHash != "" {
		return wrapper.Data, nil
	}
	var flat invoiceResponse
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("decoding gateway response: %w", err)
	}
	if flat.PaymentHash == "" {
		return nil, fmt.Errorf("payment hash missing from gateway response")
	}
	return &flat, nil
}

// CreateInvoice asks the gateway for an inbound invoice of amountSats and
// returns the bolt11 payment request along with the payment hash that
// identifies it. Never retried: a failure here fails the whole request.
func (c *Client) CreateInvoice(ctx context.Context, amountSats int64, memo string) (paymentRequest, paymentHash string, err error) {
	body := map[string]interface{}{
		"out":    false,
		"amount": amountSats,
		"memo":   memo,
	}
	data, err := c.doJSON(ctx, http.MethodPost, c.baseUrl+"/api/v1/payments", body)
	if err != nil {
		return "", "", fmt.Errorf("creating invoice: %w", err)
	}
	resp, err := decodeInvoiceResponse(data)
	if err != nil {
		return "", "", fmt.Errorf("creating invoice: %w", err)
	}
	return resp.PaymentRequest, model.NormalizeHash(resp.PaymentHash), nil
}

// SendPayment pays the given bolt11 request from the gateway account and
// returns the payment hash to track settlement with. Like CreateInvoice it is
// money-moving and must never be retried by callers.
func (c *Client) SendPayment(ctx context.Context, bolt11 string) (paymentHash string, err error) {
	body := map[string]interface{}{
		"out":    true,
		"bolt11": bolt11,
	}
	data, err := c.doJSON(ctx, http.MethodPost, c.baseUrl+"/api/v1/payments", body)
	if err != nil {
		return "", fmt.Errorf("sending payment: %w", err)
	}
	resp, err := decodeInvoiceResponse(data)
	if err != nil {
		return "", fmt.Errorf("sending payment: %w", err)
	}
	return model.NormalizeHash(resp.PaymentHash), nil
}

// CheckSettlement reports whether the payment identified by paymentHash has
// settled. A transport failure, a non-2xx status or a malformed body comes
// back as an error, never as "unpaid": the caller decides how to treat an
// unknown status, and conflating it with a confirmed-unpaid answer would be
// wrong in both directions.
func (c *Client) CheckSettlement(ctx context.Context, paymentHash string) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/payments/%s", c.baseUrl, model.NormalizeHash(paymentHash))
	data, err := c.doJSON(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("checking settlement: %w", err)
	}
	var status paymentStatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		return false, fmt.Errorf("checking settlement: decoding response: %w", err)
	}
	return status.Paid, nil
}
