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

// Package notification publishes invoices and error reports to a Discord
// webhook. Everything here is best effort: a failed notification is logged
// and dropped, it never blocks or fails the transaction that triggered it.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustysats/orangemart/config"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

const qrEndpoint = "https://api.qrserver.com/v1/create-qr-code/"

type embedImage struct {
	Url string `json:"url"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Image       *embedImage  `json:"image,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

func postWebhook(webhookUrl string, message discordMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, webhookUrl, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := webhookClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// qrImageUrl builds a QR code image link for a bolt11 payment request, so the
// invoice can be paid by pointing a wallet at the embed.
func qrImageUrl(paymentRequest string) string {
	return qrEndpoint + "?size=256x256&data=" + url.QueryEscape("lightning:"+paymentRequest)
}

// Discord posts invoices to a Discord channel webhook.
type Discord struct{}

func NewDiscord() *Discord {
	return &Discord{}
}

// NotifyInvoice posts the payment request with a scannable QR code. It is a
// no-op when no webhook is configured.
func (d *Discord) NotifyInvoice(actorName, paymentRequest string, amountSats int64, memo string) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Discord.WebhookUrl == "" {
		return nil
	}

	message := discordMessage{
		Content: fmt.Sprintf("%s has a Lightning invoice to pay ⚡", actorName),
		Embeds: []discordEmbed{
			{
				Title:       memo,
				Description: fmt.Sprintf("```%s```", paymentRequest),
				Color:       0xf7931a,
				Image:       &embedImage{Url: qrImageUrl(paymentRequest)},
				Fields: []embedField{
					{Name: "Amount", Value: fmt.Sprintf("%d sats", amountSats), Inline: true},
					{Name: "Expires", Value: fmt.Sprintf("%d seconds", conf.Invoice.TimeoutSeconds), Inline: true},
				},
			},
		},
	}
	return postWebhook(conf.Discord.WebhookUrl, message)
}

// NotifyError reports a system error to the configured webhook. It logs the
// error locally and runs the webhook call asynchronously to avoid blocking.
func NotifyError(systemError error, context string) {
	go func(systemError error) {
		logrus.Errorf("%s: %v", context, systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}
		if conf.Discord.WebhookUrl == "" {
			return
		}

		message := discordMessage{
			Embeds: []discordEmbed{
				{
					Title: "Error from Orangemart 🐞",
					Color: 0xed4245,
					Fields: []embedField{
						{Name: "Context", Value: context},
						{Name: "Error", Value: systemError.Error()},
						{Name: "Time", Value: time.Now().Format(time.RFC822)},
					},
				},
			},
		}
		if err := postWebhook(conf.Discord.WebhookUrl, message); err != nil {
			logrus.Error(err)
		}
	}(systemError)
}
