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

package store

import (
	"errors"

	"github.com/rustysats/orangemart/model"
)

// ErrNotFound is returned when no record carries the requested transaction ID.
var ErrNotFound = errors.New("transaction record not found")

// TransactionLog is the durable store for buy and sell records. Implementations
// must make each call atomic with respect to concurrent callers: the engine
// issues read-modify-write updates from poller, push-listener and timer
// goroutines at once.
//
// The whole-file JSON implementation below is adequate for the current volume;
// the interface exists so it can be swapped for an indexed append-only store
// without touching the reconciliation logic.
type TransactionLog interface {
	LoadBuys() ([]model.BuyRecord, error)
	LoadSells() ([]model.SellRecord, error)

	// RecordBuy and RecordSell insert the record, or replace an existing
	// record with the same transaction ID.
	RecordBuy(record model.BuyRecord) error
	RecordSell(record model.SellRecord) error

	// UpdateBuy and UpdateSell apply mutate to the record with the given
	// transaction ID and persist the result. They return ErrNotFound when
	// the ID is unknown. The mutate callback runs inside the store's
	// critical section and must not call back into the store.
	UpdateBuy(transactionID string, mutate func(*model.BuyRecord)) error
	UpdateSell(transactionID string, mutate func(*model.SellRecord)) error
}
