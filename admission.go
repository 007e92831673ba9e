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
	"fmt"
	"time"

	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/internal/apierror"
)

// Cooldown classes keep purchases and sends on independent timers: an actor
// who just bought can still send.
const (
	cooldownBuy  = "buy"
	cooldownSend = "send"
)

// checkCooldown passes and stamps the actor's timer when the cooldown window
// has elapsed, and rejects without restamping otherwise. Stamping only on pass
// means a rejected attempt never extends the wait.
func (o *Orangemart) checkCooldown(actorID, class string) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	window := time.Duration(cnf.Currency.CooldownSeconds) * time.Second
	if window <= 0 {
		return nil
	}
	key := actorID + ":" + class

	o.cooldownMu.Lock()
	defer o.cooldownMu.Unlock()
	last, ok := o.cooldowns[key]
	if ok {
		elapsed := time.Since(last)
		if elapsed < window {
			remaining := int((window - elapsed).Round(time.Second) / time.Second)
			if remaining < 1 {
				remaining = 1
			}
			return apierror.NewAPIError(apierror.ErrCooldown,
				fmt.Sprintf("please wait %d seconds before trying again", remaining),
				map[string]interface{}{"retry_after_seconds": remaining})
		}
	}
	o.cooldowns[key] = time.Now()
	return nil
}

// checkPendingCap rejects a new invoice when the actor already has the
// configured number in flight. Zero means unlimited.
func (o *Orangemart) checkPendingCap(actorID string) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	limit := cnf.Currency.MaxPendingPerActor
	if limit <= 0 {
		return nil
	}
	if pending := o.PendingCount(actorID); pending >= limit {
		return apierror.NewAPIError(apierror.ErrTooManyPending,
			"you already have a pending invoice. Pay or wait for it to expire first",
			map[string]interface{}{"pending": pending, "limit": limit})
	}
	return nil
}

// runCooldownSweeper periodically drops stamps older than twice the cooldown
// window so the table cannot grow without bound. The factor keeps a stamp
// alive strictly longer than any rejection could reference it.
func (o *Orangemart) runCooldownSweeper(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepCooldowns()
		}
	}
}

func (o *Orangemart) sweepCooldowns() {
	cnf, err := config.Fetch()
	if err != nil {
		return
	}
	window := time.Duration(cnf.Currency.CooldownSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	cutoff := time.Now().Add(-2 * window)

	o.cooldownMu.Lock()
	defer o.cooldownMu.Unlock()
	for key, stamp := range o.cooldowns {
		if stamp.Before(cutoff) {
			delete(o.cooldowns, key)
		}
	}
}
