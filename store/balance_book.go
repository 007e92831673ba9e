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
	"os"
	"path/filepath"
	"sync"
)

// BalanceBook is a file-backed unit ledger for deployments where the engine
// owns the balances itself rather than delegating to a host world. It
// persists every mutation, so balances survive restarts the same way the
// transaction log does.
type BalanceBook struct {
	mu   sync.Mutex
	path string
}

func NewBalanceBook(dataDir string) (*BalanceBook, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return &BalanceBook{path: filepath.Join(dataDir, "balances.json")}, nil
}

func (b *BalanceBook) load() (map[string]int64, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return map[string]int64{}, nil
	}
	var balances map[string]int64
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

func (b *BalanceBook) save(balances map[string]int64) error {
	data, err := json.MarshalIndent(balances, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o644)
}

// Balance returns the actor's current unit balance.
func (b *BalanceBook) Balance(actorID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	balances, err := b.load()
	if err != nil {
		return 0, err
	}
	return balances[actorID], nil
}

// Credit adds units to the actor's balance.
func (b *BalanceBook) Credit(actorID string, amount int64) error {
	if amount <= 0 {
		return errors.New("credit amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	balances, err := b.load()
	if err != nil {
		return err
	}
	balances[actorID] += amount
	return b.save(balances)
}

// DebitIfAvailable atomically removes units when the balance covers them and
// reports false, without error, when it does not.
func (b *BalanceBook) DebitIfAvailable(actorID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, errors.New("debit amount must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	balances, err := b.load()
	if err != nil {
		return false, err
	}
	if balances[actorID] < amount {
		return false, nil
	}
	balances[actorID] -= amount
	return true, b.save(balances)
}

// Return refunds previously debited units.
func (b *BalanceBook) Return(actorID string, amount int64) error {
	return b.Credit(actorID, amount)
}
