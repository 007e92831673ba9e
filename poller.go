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
	"time"

	"github.com/sirupsen/logrus"
)

// runPoller is the fallback confirmation channel: every interval it sweeps
// the whole in-flight table and asks the gateway whether each invoice has
// settled. It runs regardless of whether push subscriptions are enabled, so a
// dropped WebSocket never strands an invoice.
func (o *Orangemart) runPoller(ctx context.Context, interval time.Duration) {
	defer o.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollRound(ctx)
		}
	}
}

// pollRound checks every in-flight invoice once. A settlement check that
// errors counts the same as "still pending": the gateway being unreachable is
// not evidence the invoice went unpaid, and the retry budget, not the error,
// decides when to give up.
func (o *Orangemart) pollRound(ctx context.Context) {
	o.mu.Lock()
	hashes := make([]string, 0, len(o.inflight))
	for hash := range o.inflight {
		hashes = append(hashes, hash)
	}
	o.mu.Unlock()

	for _, hash := range hashes {
		select {
		case <-ctx.Done():
			return
		default:
		}
		paid, err := o.gateway.CheckSettlement(ctx, hash)
		if err != nil {
			logrus.Debugf("settlement check for %s: %v", hash, err)
			o.noteStillPending(hash)
			continue
		}
		if paid {
			o.confirmPayment(hash)
		} else {
			o.noteStillPending(hash)
		}
	}
}
