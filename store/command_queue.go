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
	"time"
)

// QueuedCommand is a rendered privilege command waiting for the host world
// to execute it.
type QueuedCommand struct {
	Command  string    `json:"command"`
	QueuedAt time.Time `json:"queued_at"`
}

// CommandQueue persists privilege commands to a JSON file the host world
// drains. The engine cannot run commands inside the world itself, so the
// queue is the handover point: a settled VIP purchase appends here and the
// host picks it up.
type CommandQueue struct {
	mu   sync.Mutex
	path string
}

func NewCommandQueue(dataDir string) (*CommandQueue, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return &CommandQueue{path: filepath.Join(dataDir, "commands.json")}, nil
}

func (q *CommandQueue) load() ([]QueuedCommand, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []QueuedCommand{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []QueuedCommand{}, nil
	}
	var commands []QueuedCommand
	if err := json.Unmarshal(data, &commands); err != nil {
		return nil, err
	}
	return commands, nil
}

func (q *CommandQueue) save(commands []QueuedCommand) error {
	data, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, data, 0o644)
}

// Grant appends a rendered command to the queue.
func (q *CommandQueue) Grant(command string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.load()
	if err != nil {
		return err
	}
	commands = append(commands, QueuedCommand{Command: command, QueuedAt: time.Now().UTC()})
	return q.save(commands)
}

// Drain returns the queued commands and empties the queue.
func (q *CommandQueue) Drain() ([]QueuedCommand, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	commands, err := q.load()
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		return commands, nil
	}
	return commands, q.save([]QueuedCommand{})
}
