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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rustysats/orangemart/model"
)

const (
	buyLogFile  = "buy_invoices.json"
	sellLogFile = "send_bitcoin.json"
)

// JSONLog persists buy and sell records as two pretty-printed JSON arrays.
// Every mutation re-reads the file, applies the change and rewrites it in
// full; the per-file mutex makes that read-modify-write one critical section,
// which is what keeps two transactions from clobbering each other's updates.
type JSONLog struct {
	buyPath  string
	sellPath string
	buyMu    sync.Mutex
	sellMu   sync.Mutex
}

// NewJSONLog returns a TransactionLog backed by JSON files under dataDir. The
// directory is created if missing; the files themselves are created lazily on
// first write.
func NewJSONLog(dataDir string) (*JSONLog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &JSONLog{
		buyPath:  filepath.Join(dataDir, buyLogFile),
		sellPath: filepath.Join(dataDir, sellLogFile),
	}, nil
}

func readRecords[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []T{}, nil
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

func writeRecords[T any](path string, records []T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (l *JSONLog) LoadBuys() ([]model.BuyRecord, error) {
	l.buyMu.Lock()
	defer l.buyMu.Unlock()
	return readRecords[model.BuyRecord](l.buyPath)
}

func (l *JSONLog) LoadSells() ([]model.SellRecord, error) {
	l.sellMu.Lock()
	defer l.sellMu.Unlock()
	return readRecords[model.SellRecord](l.sellPath)
}

func (l *JSONLog) RecordBuy(record model.BuyRecord) error {
	l.buyMu.Lock()
	defer l.buyMu.Unlock()

	records, err := readRecords[model.BuyRecord](l.buyPath)
	if err != nil {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].TransactionID == record.TransactionID {
			records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, record)
	}
	return writeRecords(l.buyPath, records)
}

func (l *JSONLog) RecordSell(record model.SellRecord) error {
	l.sellMu.Lock()
	defer l.sellMu.Unlock()

	records, err := readRecords[model.SellRecord](l.sellPath)
	if err != nil {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].TransactionID == record.TransactionID {
			records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, record)
	}
	return writeRecords(l.sellPath, records)
}

func (l *JSONLog) UpdateBuy(transactionID string, mutate func(*model.BuyRecord)) error {
	l.buyMu.Lock()
	defer l.buyMu.Unlock()

	records, err := readRecords[model.BuyRecord](l.buyPath)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].TransactionID == transactionID {
			mutate(&records[i])
			return writeRecords(l.buyPath, records)
		}
	}
	return fmt.Errorf("buy %s: %w", transactionID, ErrNotFound)
}

func (l *JSONLog) UpdateSell(transactionID string, mutate func(*model.SellRecord)) error {
	l.sellMu.Lock()
	defer l.sellMu.Unlock()

	records, err := readRecords[model.SellRecord](l.sellPath)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].TransactionID == transactionID {
			mutate(&records[i])
			return writeRecords(l.sellPath, records)
		}
	}
	return fmt.Errorf("sell %s: %w", transactionID, ErrNotFound)
}
