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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type lnurlPayResponse struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Metadata    string `json:"metadata"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
}

type lnurlCallbackResponse struct {
	Pr     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// SplitLightningAddress splits "user@domain" and validates both halves.
func SplitLightningAddress(address string) (user, domain string, err error) {
	if strings.TrimSpace(address) == "" {
		return "", "", errors.New("lightning address required")
	}
	parts := strings.Split(address, "@")
	if len(parts) != 2 {
		return "", "", errors.New("invalid lightning address")
	}
	user = strings.TrimSpace(parts[0])
	domain = strings.ToLower(strings.TrimSpace(parts[1]))
	if user == "" || domain == "" {
		return "", "", errors.New("invalid lightning address")
	}
	return user, domain, nil
}

// AddressAllowed applies the configured domain policy: when a whitelist is
// present only its domains pass; otherwise any domain not on the blacklist
// passes.
func AddressAllowed(address string, whitelist, blacklist []string) (bool, string) {
	_, domain, err := SplitLightningAddress(address)
	if err != nil {
		return false, ""
	}
	if len(whitelist) > 0 {
		for _, d := range whitelist {
			if d == domain {
				return true, domain
			}
		}
		return false, domain
	}
	for _, d := range blacklist {
		if d == domain {
			return false, domain
		}
	}
	return true, domain
}

// ResolveAddress turns a Lightning address into a payable bolt11 request for
// the given amount. It is the two-step LNURL-pay protocol: fetch the
// well-known pay descriptor, then call its callback with the amount in
// millisats.
func (c *Client) ResolveAddress(ctx context.Context, address string, amountSats int64) (string, error) {
	if amountSats <= 0 {
		return "", errors.New("amount must be positive")
	}
	user, domain, err := SplitLightningAddress(address)
	if err != nil {
		return "", err
	}

	metadataURL := fmt.Sprintf("https://%s/.well-known/lnurlp/%s", domain, url.PathEscape(user))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching lnurlp descriptor: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lnurlp returned HTTP %d", resp.StatusCode)
	}

	var payResp lnurlPayResponse
	if err := json.NewDecoder(resp.Body).Decode(&payResp); err != nil {
		return "", fmt.Errorf("decoding lnurlp descriptor: %w", err)
	}
	if strings.EqualFold(payResp.Status, "ERROR") {
		if payResp.Reason != "" {
			return "", errors.New(payResp.Reason)
		}
		return "", errors.New("lnurlp request failed")
	}
	if payResp.Callback == "" {
		return "", errors.New("lnurlp callback missing")
	}

	amountMsat := amountSats * 1000
	if payResp.MinSendable > 0 && amountMsat < payResp.MinSendable {
		return "", fmt.Errorf("amount too small. Minimum is %d sats", (payResp.MinSendable+999)/1000)
	}
	if payResp.MaxSendable > 0 && amountMsat > payResp.MaxSendable {
		return "", fmt.Errorf("amount too large. Maximum is %d sats", payResp.MaxSendable/1000)
	}

	callbackURL, err := url.Parse(payResp.Callback)
	if err != nil {
		return "", fmt.Errorf("invalid lnurl callback: %w", err)
	}
	q := callbackURL.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	callbackURL.RawQuery = q.Encode()

	cbReq, err := http.NewRequestWithContext(ctx, http.MethodGet, callbackURL.String(), nil)
	if err != nil {
		return "", err
	}
	cbResp, err := c.http.Do(cbReq)
	if err != nil {
		return "", fmt.Errorf("calling lnurl callback: %w", err)
	}
	defer cbResp.Body.Close()
	if cbResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lnurl callback returned HTTP %d", cbResp.StatusCode)
	}

	var cb lnurlCallbackResponse
	if err := json.NewDecoder(cbResp.Body).Decode(&cb); err != nil {
		return "", fmt.Errorf("decoding lnurl callback: %w", err)
	}
	if strings.EqualFold(cb.Status, "ERROR") {
		if cb.Reason != "" {
			return "", errors.New(cb.Reason)
		}
		return "", errors.New("lnurl callback failed")
	}
	if cb.Pr == "" {
		return "", errors.New("payment request missing from callback")
	}
	return cb.Pr, nil
}
