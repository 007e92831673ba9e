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

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ErrAmountOverflow is returned when a requested amount converted to sats
// would not fit a 32-bit signed integer.
var ErrAmountOverflow = errors.New("amount too large and would cause calculation errors")

// GenerateTransactionID generates a unique transaction identifier with a
// module prefix, e.g. "txn_0197f7e6...".
func GenerateTransactionID(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id)
}

// NormalizeHash lower-cases a payment hash. Gateway notifications are
// correlated case-insensitively, so every hash is normalized once at the
// boundary and compared verbatim afterwards.
func NormalizeHash(paymentHash string) string {
	return strings.ToLower(strings.TrimSpace(paymentHash))
}

// SafeSats converts an asset amount to its Lightning sats equivalent using a
// 64-bit intermediate. It rejects non-positive amounts and any product that
// exceeds the 32-bit signed range, before the value is persisted or sent
// anywhere.
func SafeSats(amount, satsPerUnit int64) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("amount must be a positive number")
	}
	if satsPerUnit <= 0 {
		return 0, errors.New("unit price must be a positive number")
	}
	if amount > math.MaxInt64/satsPerUnit {
		return 0, ErrAmountOverflow
	}
	sats := amount * satsPerUnit
	if sats > math.MaxInt32 {
		return 0, ErrAmountOverflow
	}
	return sats, nil
}
