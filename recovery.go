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

	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/model"
	"github.com/rustysats/orangemart/notification"
)

// recoverInterrupted resolves every record a previous process left
// non-terminal. Each one gets a single settlement check: paid finalizes as
// COMPLETED with its effect (guarded by the effect flags, so a crash between
// effect and flag cannot double-apply), unpaid finalizes as EXPIRED for buys
// and FAILED with refund for sends. Records that never got a gateway
// reference cannot have moved money and fail outright. Running the pass twice
// is safe: the second run finds only terminal records.
func (o *Orangemart) recoverInterrupted(ctx context.Context) error {
	buys, err := o.log.LoadBuys()
	if err != nil {
		return err
	}
	sells, err := o.log.LoadSells()
	if err != nil {
		return err
	}

	recovered := 0
	for _, record := range buys {
		if model.IsTerminalStatus(record.Status) {
			continue
		}
		o.recoverBuy(ctx, record)
		recovered++
	}
	for _, record := range sells {
		if model.IsTerminalStatus(record.Status) {
			continue
		}
		o.recoverSell(ctx, record)
		recovered++
	}
	if recovered > 0 {
		logrus.Infof("recovery pass resolved %d interrupted transaction(s)", recovered)
	}
	return nil
}

func (o *Orangemart) recoverBuy(ctx context.Context, record model.BuyRecord) {
	now := time.Now().UTC()

	if record.InvoiceID == "" {
		// died before the gateway answered, no invoice to check
		if err := o.log.UpdateBuy(record.TransactionID, func(r *model.BuyRecord) {
			r.Status = model.StatusFailed
			r.FailureReason = "interrupted before invoice creation"
			r.CompletedAt = &now
		}); err != nil {
			logrus.Errorf("recovering %s: %v", record.TransactionID, err)
		}
		return
	}

	paid, err := o.gateway.CheckSettlement(ctx, record.InvoiceID)
	if err != nil {
		logrus.Warnf("recovery settlement check for %s failed, treating as unpaid: %v", record.TransactionID, err)
		paid = false
	}
	if !paid {
		if err := o.log.UpdateBuy(record.TransactionID, func(r *model.BuyRecord) {
			r.Status = model.StatusExpired
			r.CompletedAt = &now
		}); err != nil {
			logrus.Errorf("recovering %s: %v", record.TransactionID, err)
		}
		return
	}

	logrus.Infof("recovery: %s settled while the process was down", record.TransactionID)
	inv := model.PendingInvoice{
		TransactionID: record.TransactionID,
		PaymentHash:   record.InvoiceID,
		ActorID:       record.ActorID,
		Amount:        record.Units,
		Kind:          record.PurchaseKind,
		CreatedAt:     record.CreatedAt,
	}
	switch {
	case record.PurchaseKind == model.PurchaseCurrency && record.CurrencyGiven,
		record.PurchaseKind == model.PurchaseVip && record.VipGranted:
		// effect already applied before the crash, just settle the status
		if err := o.log.UpdateBuy(record.TransactionID, func(r *model.BuyRecord) {
			r.Status = model.StatusCompleted
			r.Paid = true
			r.CompletedAt = &now
		}); err != nil {
			logrus.Errorf("recovering %s: %v", record.TransactionID, err)
		}
	default:
		o.completeBuy(inv)
	}
}

func (o *Orangemart) recoverSell(ctx context.Context, record model.SellRecord) {
	if record.PaymentHash == "" {
		// died between the debit and the gateway call; the units are reserved
		// but no payment can exist, so refund and fail
		o.failSell(record.TransactionID, model.StatusFailed, "interrupted before payment was initiated")
		return
	}

	paid, err := o.gateway.CheckSettlement(ctx, record.PaymentHash)
	if err != nil {
		logrus.Warnf("recovery settlement check for %s failed, treating as unpaid: %v", record.TransactionID, err)
		paid = false
	}
	if paid {
		o.completeSell(model.PendingInvoice{
			TransactionID: record.TransactionID,
			PaymentHash:   record.PaymentHash,
			ActorID:       record.ActorID,
			Amount:        record.SatsAmount,
			Kind:          model.PurchaseSend,
			CreatedAt:     record.CreatedAt,
		})
		return
	}
	o.failSell(record.TransactionID, model.StatusFailed, "unsettled at recovery")
}

// RefundSell marks a completed outbound payment as refunded after the fact.
// Operators use this when a payment settled but the recipient made the actor
// whole out of band. It refuses to touch non-terminal records.
func (o *Orangemart) RefundSell(transactionID string) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	var refundActor string
	var refundUnits int64
	if err := o.log.UpdateSell(transactionID, func(r *model.SellRecord) {
		if !model.IsTerminalStatus(r.Status) || r.CurrencyReturned {
			return
		}
		r.Status = model.StatusRefunded
		r.CurrencyReturned = true
		refundActor = r.ActorID
		refundUnits = r.SatsAmount / cnf.Currency.SatsPerUnit
	}); err != nil {
		return err
	}
	if refundActor == "" {
		return nil
	}
	if err := o.inventory.Return(refundActor, refundUnits); err != nil {
		notification.NotifyError(err, "refunding "+transactionID)
		return err
	}
	logrus.Infof("refunded %d units to %s for %s", refundUnits, refundActor, transactionID)
	return nil
}
