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
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/model"
	"github.com/rustysats/orangemart/notification"
)

// take removes the invoice from the in-flight table and returns it. Exactly
// one caller per hash gets ok=true; this is the whole at-most-once story.
// Racing confirmations from the push and poll channels, a confirmation racing
// the expiry timer, a duplicate WebSocket frame: all of them funnel through
// here and only the first wins.
func (o *Orangemart) take(paymentHash string) (model.PendingInvoice, bool) {
	hash := model.NormalizeHash(paymentHash)
	o.mu.Lock()
	tracked, ok := o.inflight[hash]
	if ok {
		delete(o.inflight, hash)
	}
	o.mu.Unlock()
	if !ok {
		return model.PendingInvoice{}, false
	}
	tracked.expiry.Stop()
	o.subs.teardown(hash)
	return tracked.inv, true
}

// handlePushSignal receives confirmation signals from the WebSocket channel.
// A signal carrying the payment preimage is cryptographic proof of settlement
// and confirms directly. A hash match without a preimage is only a hint: it
// triggers an immediate settlement check instead of waiting for the next poll
// round, so the poll channel stays authoritative for unproven pushes.
func (o *Orangemart) handlePushSignal(paymentHash string, proven bool) {
	hash := model.NormalizeHash(paymentHash)
	if proven {
		o.confirmPayment(hash)
		return
	}
	if !o.InFlight(hash) {
		return
	}
	ctx, cancel := context.WithTimeout(o.ctx, 20*time.Second)
	defer cancel()
	paid, err := o.gateway.CheckSettlement(ctx, hash)
	if err != nil {
		logrus.Warnf("push signal for %s could not be verified: %v", hash, err)
		return
	}
	if paid {
		o.confirmPayment(hash)
	}
}

// confirmPayment settles the invoice identified by paymentHash: it claims the
// in-flight entry and, if it wins the claim, applies the business effect and
// finalizes the record as COMPLETED. Signals for unknown hashes are discarded
// with a log line; they are either duplicates of an already settled invoice
// or noise.
func (o *Orangemart) confirmPayment(paymentHash string) {
	inv, ok := o.take(paymentHash)
	if !ok {
		logrus.Infof("discarding confirmation for %s: not in flight", model.NormalizeHash(paymentHash))
		return
	}
	logrus.Infof("payment confirmed for %s (%s, actor %s)", inv.PaymentHash, inv.Kind, inv.ActorID)

	switch inv.Kind {
	case model.PurchaseCurrency, model.PurchaseVip:
		o.completeBuy(inv)
	case model.PurchaseSend:
		o.completeSell(inv)
	}
}

// completeBuy finalizes a settled purchase and delivers what was bought. The
// record is marked COMPLETED before the effect is applied: the payment did
// settle regardless of whether delivery works, and the effect flag stays
// unset on delivery failure so the gap is visible in the log.
func (o *Orangemart) completeBuy(inv model.PendingInvoice) {
	now := time.Now().UTC()
	if err := o.log.UpdateBuy(inv.TransactionID, func(r *model.BuyRecord) {
		r.Status = model.StatusCompleted
		r.Paid = true
		r.CompletedAt = &now
	}); err != nil {
		logrus.Errorf("finalizing %s: %v", inv.TransactionID, err)
	}

	switch inv.Kind {
	case model.PurchaseCurrency:
		if err := o.inventory.Credit(inv.ActorID, inv.Amount); err != nil {
			notification.NotifyError(err, "crediting purchase "+inv.TransactionID)
			return
		}
		o.markBuyFlag(inv.TransactionID, func(r *model.BuyRecord) { r.CurrencyGiven = true })
	case model.PurchaseVip:
		if err := o.grantPrivilege(inv); err != nil {
			notification.NotifyError(err, "granting privilege for "+inv.TransactionID)
			return
		}
		o.markBuyFlag(inv.TransactionID, func(r *model.BuyRecord) { r.VipGranted = true })
	}
}

func (o *Orangemart) markBuyFlag(transactionID string, mutate func(*model.BuyRecord)) {
	if err := o.log.UpdateBuy(transactionID, mutate); err != nil {
		logrus.Errorf("marking effect on %s: %v", transactionID, err)
	}
}

// grantPrivilege renders the configured privilege command and executes it.
// {player} becomes the actor's display name; {steamid}, {userid} and {id} all
// become the actor ID.
func (o *Orangemart) grantPrivilege(inv model.PendingInvoice) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	if o.privileges == nil {
		logrus.Warnf("no privilege granter wired, skipping grant for %s", inv.TransactionID)
		return nil
	}
	name := inv.ActorName
	if name == "" {
		name = inv.ActorID
	}
	command := cnf.Vip.Command
	command = strings.ReplaceAll(command, "{player}", name)
	command = strings.ReplaceAll(command, "{steamid}", inv.ActorID)
	command = strings.ReplaceAll(command, "{userid}", inv.ActorID)
	command = strings.ReplaceAll(command, "{id}", inv.ActorID)
	return o.privileges.Grant(command)
}

// completeSell finalizes a settled outbound payment. The asset units were
// debited at admission, so there is nothing left to move.
func (o *Orangemart) completeSell(inv model.PendingInvoice) {
	now := time.Now().UTC()
	if err := o.log.UpdateSell(inv.TransactionID, func(r *model.SellRecord) {
		r.Status = model.StatusCompleted
		r.Success = true
		r.CompletedAt = &now
	}); err != nil {
		logrus.Errorf("finalizing %s: %v", inv.TransactionID, err)
	}
}

// expireInvoice claims the in-flight entry for an invoice that ran out of
// time or retries and finalizes it as EXPIRED. For sends the reserved asset
// units are refunded, exactly once.
func (o *Orangemart) expireInvoice(paymentHash string, reason string) {
	inv, ok := o.take(paymentHash)
	if !ok {
		return
	}
	logrus.Infof("expiring invoice %s (%s, actor %s): %s", inv.PaymentHash, inv.Kind, inv.ActorID, reason)

	now := time.Now().UTC()
	switch inv.Kind {
	case model.PurchaseCurrency, model.PurchaseVip:
		if err := o.log.UpdateBuy(inv.TransactionID, func(r *model.BuyRecord) {
			r.Status = model.StatusExpired
			r.CompletedAt = &now
		}); err != nil {
			logrus.Errorf("expiring %s: %v", inv.TransactionID, err)
		}
	case model.PurchaseSend:
		o.failSell(inv.TransactionID, model.StatusExpired, reason)
	}
}

// failSell finalizes an outbound payment as failed or expired and refunds the
// reserved units unless an earlier path already did. The refund decision and
// the flag update happen inside the same log update, so two racing callers
// cannot both refund.
func (o *Orangemart) failSell(transactionID, status, reason string) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}

	now := time.Now().UTC()
	var refundActor string
	var refundUnits int64
	if err := o.log.UpdateSell(transactionID, func(r *model.SellRecord) {
		r.Status = status
		r.Success = false
		r.FailureReason = reason
		r.CompletedAt = &now
		if !r.CurrencyReturned {
			r.CurrencyReturned = true
			refundActor = r.ActorID
			refundUnits = r.SatsAmount / cnf.Currency.SatsPerUnit
		}
	}); err != nil {
		logrus.Errorf("failing %s: %v", transactionID, err)
		return
	}

	if refundActor != "" && refundUnits > 0 {
		if err := o.inventory.Return(refundActor, refundUnits); err != nil {
			notification.NotifyError(err, "refunding "+transactionID)
		} else {
			logrus.Infof("refunded %d units to %s for %s", refundUnits, refundActor, transactionID)
		}
	}
}

// noteStillPending records one more unconfirmed settlement round for the
// invoice. The first round flips the record from INITIATED to PROCESSING;
// exceeding the retry budget expires it.
func (o *Orangemart) noteStillPending(paymentHash string) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	hash := model.NormalizeHash(paymentHash)

	o.mu.Lock()
	tracked, ok := o.inflight[hash]
	if !ok {
		o.mu.Unlock()
		return
	}
	tracked.retries++
	retries := tracked.retries
	inv := tracked.inv
	o.mu.Unlock()

	var updateErr error
	switch inv.Kind {
	case model.PurchaseCurrency, model.PurchaseVip:
		updateErr = o.log.UpdateBuy(inv.TransactionID, func(r *model.BuyRecord) {
			r.RetryCount = retries
			if r.Status == model.StatusInitiated {
				r.Status = model.StatusProcessing
			}
		})
	case model.PurchaseSend:
		updateErr = o.log.UpdateSell(inv.TransactionID, func(r *model.SellRecord) {
			r.RetryCount = retries
			if r.Status == model.StatusInitiated {
				r.Status = model.StatusProcessing
			}
		})
	}
	if updateErr != nil {
		logrus.Errorf("recording retry on %s: %v", inv.TransactionID, updateErr)
	}

	if retries >= cnf.Invoice.MaxRetries {
		o.expireInvoice(hash, "settlement retries exhausted")
	}
}
