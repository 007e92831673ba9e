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

package orangemart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/model"
)

const maxReconnectAttempts = 3

// subscriptionManager holds one WebSocket subscription per in-flight payment
// hash. It never touches the in-flight table: it only turns gateway frames
// into signals and hands them to the reconciler's callback.
type subscriptionManager struct {
	onSignal func(paymentHash string, proven bool)

	mu     sync.Mutex
	active map[string]*subscription
}

type subscription struct {
	hash   string
	cancel context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn
}

func newSubscriptionManager(onSignal func(paymentHash string, proven bool)) *subscriptionManager {
	return &subscriptionManager{
		onSignal: onSignal,
		active:   make(map[string]*subscription),
	}
}

// watch opens a push subscription for the payment hash. Opening the same hash
// twice is a no-op.
func (m *subscriptionManager) watch(ctx context.Context, paymentHash string) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	hash := model.NormalizeHash(paymentHash)

	m.mu.Lock()
	if _, ok := m.active[hash]; ok {
		m.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{hash: hash, cancel: cancel}
	m.active[hash] = sub
	m.mu.Unlock()

	endpoint := fmt.Sprintf("%s/api/v1/ws/%s", cnf.Gateway.WebSocketUrl, hash)
	delay := time.Duration(cnf.Invoice.ReconnectDelaySeconds) * time.Second
	go m.run(subCtx, sub, endpoint, cnf.Gateway.ApiKey, delay)
}

// run dials the gateway and listens until the subscription is torn down. A
// failed dial or a dropped connection is retried on a constant schedule, at
// most maxReconnectAttempts times; after that the invoice is left to the
// polling fallback.
func (m *subscriptionManager) run(ctx context.Context, sub *subscription, endpoint, apiKey string, delay time.Duration) {
	defer m.remove(sub.hash)

	operation := func() error {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, http.Header{"X-Api-Key": []string{apiKey}})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logrus.Warnf("push channel dial for %s failed: %v", sub.hash, err)
			return err
		}
		sub.setConn(conn)
		err = m.listen(ctx, sub, conn)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), maxReconnectAttempts), ctx)
	if err := backoff.Retry(operation, schedule); err != nil && ctx.Err() == nil {
		logrus.Warnf("push channel for %s gave up, polling takes over: %v", sub.hash, err)
	}
}

// listen reads frames until the connection drops or the subscription is torn
// down. Every frame is decoded leniently: frames that do not parse or do not
// signal settlement are ignored.
func (m *subscriptionManager) listen(ctx context.Context, sub *subscription, conn *websocket.Conn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		confirmed, proven := decodeSignal(data, sub.hash)
		if !confirmed {
			continue
		}
		logrus.Infof("push signal for %s (proven=%t)", sub.hash, proven)
		m.onSignal(sub.hash, proven)
	}
}

// pushPayload covers both frame shapes the gateway emits: a flat
// {"pending":false,"status":"success"} status and a nested {"payment":{...}}
// object carrying the payment hash and, once settled, the preimage.
type pushPayload struct {
	Pending *bool        `json:"pending"`
	Status  string       `json:"status"`
	Payment *pushPayment `json:"payment"`
}

type pushPayment struct {
	PaymentHash string `json:"payment_hash"`
	Preimage    string `json:"preimage"`
	Status      string `json:"status"`
	Pending     *bool  `json:"pending"`
}

// decodeSignal reports whether the frame signals settlement of watchedHash
// and whether that signal carries proof. Only a non-empty preimage counts as
// proof; a matching payment hash alone is a hint that must be verified
// against the gateway before any effect is applied.
func decodeSignal(data []byte, watchedHash string) (confirmed, proven bool) {
	var payload pushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		logrus.Debugf("undecodable push frame for %s: %v", watchedHash, err)
		return false, false
	}

	if p := payload.Payment; p != nil {
		settled := (p.Pending != nil && !*p.Pending) || strings.EqualFold(p.Status, "success")
		if !settled {
			return false, false
		}
		if p.Preimage != "" && strings.Trim(p.Preimage, "0") != "" {
			return true, true
		}
		if model.NormalizeHash(p.PaymentHash) == watchedHash {
			return true, false
		}
		return false, false
	}

	if payload.Pending != nil && !*payload.Pending && strings.EqualFold(payload.Status, "success") {
		return true, false
	}
	return false, false
}

func (s *subscription) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *subscription) close() {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()
}

func (m *subscriptionManager) remove(hash string) {
	m.mu.Lock()
	delete(m.active, hash)
	m.mu.Unlock()
}

// teardown closes the subscription for a hash, if one is open.
func (m *subscriptionManager) teardown(paymentHash string) {
	hash := model.NormalizeHash(paymentHash)
	m.mu.Lock()
	sub, ok := m.active[hash]
	if ok {
		delete(m.active, hash)
	}
	m.mu.Unlock()
	if ok {
		sub.close()
	}
}

// closeAll tears down every open subscription. Used on shutdown.
func (m *subscriptionManager) closeAll() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.active))
	for hash, sub := range m.active {
		subs = append(subs, sub)
		delete(m.active, hash)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
