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

package model

import "time"

// Transaction lifecycle statuses. A record only ever moves forward:
// INITIATED -> PROCESSING -> one of the terminal statuses. PROCESSING is set
// on the first "checked and still pending" round, which lets recovery tell a
// never-checked record apart from one that was being watched when the process
// died.
const (
	StatusInitiated  = "INITIATED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusExpired    = "EXPIRED"
	StatusRefunded   = "REFUNDED"
)

// IsTerminalStatus reports whether a record in the given status may never
// transition again.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// PurchaseKind distinguishes what a confirmed payment delivers.
type PurchaseKind string

const (
	PurchaseCurrency PurchaseKind = "Currency"
	PurchaseVip      PurchaseKind = "VIP"
	PurchaseSend     PurchaseKind = "SendBitcoin"
)

// BuyRecord is the persisted log entry for an inbound purchase (currency or
// VIP). InvoiceID carries the gateway payment hash and stays empty until the
// gateway has responded. CurrencyGiven/VipGranted are idempotency markers:
// recovery never re-applies an effect whose flag is already set.
type BuyRecord struct {
	TransactionID string       `json:"transaction_id"`
	ActorID       string       `json:"actor_id"`
	InvoiceID     string       `json:"invoice_id,omitempty"`
	Status        string       `json:"status"`
	Paid          bool         `json:"paid"`
	AmountSats    int64        `json:"amount_sats"`
	Units         int64        `json:"units"`
	PurchaseKind  PurchaseKind `json:"purchase_kind"`
	CurrencyGiven bool         `json:"currency_given"`
	VipGranted    bool         `json:"vip_granted"`
	RetryCount    int          `json:"retry_count"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// SellRecord is the persisted log entry for an outbound payment to a
// Lightning address. CurrencyReturned marks that the reserved asset amount
// was refunded to the actor, which must happen at most once.
type SellRecord struct {
	TransactionID    string     `json:"transaction_id"`
	ActorID          string     `json:"actor_id"`
	LightningAddress string     `json:"lightning_address"`
	Status           string     `json:"status"`
	Success          bool       `json:"success"`
	SatsAmount       int64      `json:"sats_amount"`
	PaymentHash      string     `json:"payment_hash,omitempty"`
	CurrencyReturned bool       `json:"currency_returned"`
	RetryCount       int        `json:"retry_count"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// PendingInvoice is the process-local view of an admitted invoice awaiting a
// terminal outcome. It is owned exclusively by the reconciler's in-flight
// table; the notification channel manager only ever holds the payment hash to
// route signals back.
type PendingInvoice struct {
	TransactionID string
	PaymentHash   string
	ActorID       string
	ActorName     string
	// Amount is asset units for currency purchases and sats for VIP
	// purchases and outbound sends.
	Amount    int64
	Kind      PurchaseKind
	Memo      string
	CreatedAt time.Time
}
