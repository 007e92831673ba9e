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

	"github.com/sirupsen/logrus"

	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/gateway"
	"github.com/rustysats/orangemart/internal/apierror"
	"github.com/rustysats/orangemart/model"
)

// Receipt is what an admitted request hands back to the caller: the bolt11
// payment request to settle and the identifiers to follow it with.
type Receipt struct {
	TransactionID  string `json:"transaction_id"`
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
	AmountSats     int64  `json:"amount_sats"`
}

// BuyCurrency admits a currency purchase: it prices the requested units,
// creates an inbound invoice and tracks it until settlement delivers the
// units. The actor pays nothing and receives nothing until the invoice
// settles.
func (o *Orangemart) BuyCurrency(ctx context.Context, actor Actor, units int64) (*Receipt, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if err := o.checkCooldown(actor.ID, cooldownBuy); err != nil {
		return nil, err
	}
	if err := o.checkPendingCap(actor.ID); err != nil {
		return nil, err
	}
	if cnf.Currency.MaxPurchaseAmount > 0 && units > cnf.Currency.MaxPurchaseAmount {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("maximum purchase is %d %s", cnf.Currency.MaxPurchaseAmount, cnf.Currency.Name), nil)
	}
	sats, err := model.SafeSats(units, cnf.Currency.PricePerUnit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid purchase amount", err.Error())
	}

	memo := fmt.Sprintf("Buying %d %s for %s", units, cnf.Currency.Name, actor.Name)
	return o.admitBuy(ctx, actor, model.BuyRecord{
		ActorID:      actor.ID,
		Status:       model.StatusInitiated,
		AmountSats:   sats,
		Units:        units,
		PurchaseKind: model.PurchaseCurrency,
		CreatedAt:    time.Now().UTC(),
	}, units, memo)
}

// BuyVip admits a VIP purchase at the configured flat price. Settlement runs
// the privilege command instead of crediting units.
func (o *Orangemart) BuyVip(ctx context.Context, actor Actor) (*Receipt, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if err := o.checkCooldown(actor.ID, cooldownBuy); err != nil {
		return nil, err
	}
	if err := o.checkPendingCap(actor.ID); err != nil {
		return nil, err
	}
	sats, err := model.SafeSats(cnf.Vip.PriceSats, 1)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid VIP price", err.Error())
	}

	memo := fmt.Sprintf("VIP purchase for %s", actor.Name)
	return o.admitBuy(ctx, actor, model.BuyRecord{
		ActorID:      actor.ID,
		Status:       model.StatusInitiated,
		AmountSats:   sats,
		Units:        1,
		PurchaseKind: model.PurchaseVip,
		CreatedAt:    time.Now().UTC(),
	}, sats, memo)
}

// admitBuy is the shared tail of both inbound flows: persist the record
// first, then ask the gateway for an invoice, then start tracking. The
// record-before-gateway order means a crash between the two leaves a record
// recovery can resolve, never an invoice the log knows nothing about.
func (o *Orangemart) admitBuy(ctx context.Context, actor Actor, record model.BuyRecord, pendingAmount int64, memo string) (*Receipt, error) {
	record.TransactionID = model.GenerateTransactionID("buy")
	if err := o.log.RecordBuy(record); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "could not record transaction", err.Error())
	}

	paymentRequest, paymentHash, err := o.gateway.CreateInvoice(ctx, record.AmountSats, memo)
	if err != nil {
		now := time.Now().UTC()
		if uerr := o.log.UpdateBuy(record.TransactionID, func(r *model.BuyRecord) {
			r.Status = model.StatusFailed
			r.FailureReason = err.Error()
			r.CompletedAt = &now
		}); uerr != nil {
			logrus.Errorf("failing %s: %v", record.TransactionID, uerr)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "payment gateway rejected the invoice", err.Error())
	}

	if err := o.log.UpdateBuy(record.TransactionID, func(r *model.BuyRecord) {
		r.InvoiceID = paymentHash
	}); err != nil {
		logrus.Errorf("attaching invoice to %s: %v", record.TransactionID, err)
	}

	o.track(model.PendingInvoice{
		TransactionID: record.TransactionID,
		PaymentHash:   paymentHash,
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		Amount:        pendingAmount,
		Kind:          record.PurchaseKind,
		Memo:          memo,
		CreatedAt:     record.CreatedAt,
	})
	o.announce(actor, paymentRequest, record.AmountSats, memo)

	return &Receipt{
		TransactionID:  record.TransactionID,
		PaymentRequest: paymentRequest,
		PaymentHash:    paymentHash,
		AmountSats:     record.AmountSats,
	}, nil
}

// SendCurrency admits an outbound payment: it debits the units up front,
// resolves the Lightning address and pays it from the gateway account. Any
// failure before the payment is handed to the gateway refunds the debit
// immediately; after that the refund decision belongs to reconciliation.
func (o *Orangemart) SendCurrency(ctx context.Context, actor Actor, units int64, address string) (*Receipt, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if err := o.checkCooldown(actor.ID, cooldownSend); err != nil {
		return nil, err
	}
	if err := o.checkPendingCap(actor.ID); err != nil {
		return nil, err
	}
	if cnf.Currency.MaxSendAmount > 0 && units > cnf.Currency.MaxSendAmount {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("maximum send is %d %s", cnf.Currency.MaxSendAmount, cnf.Currency.Name), nil)
	}
	sats, err := model.SafeSats(units, cnf.Currency.SatsPerUnit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "invalid send amount", err.Error())
	}
	if allowed, domain := gateway.AddressAllowed(address, cnf.Invoice.WhitelistedDomains, cnf.Invoice.BlacklistedDomains); !allowed {
		return nil, apierror.NewAPIError(apierror.ErrAddressRejected,
			fmt.Sprintf("lightning address domain %q is not allowed", domain), nil)
	}

	debited, err := o.inventory.DebitIfAvailable(actor.ID, units)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "could not reserve units", err.Error())
	}
	if !debited {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("you need %d %s to send that much", units, cnf.Currency.Name), nil)
	}

	record := model.SellRecord{
		TransactionID:    model.GenerateTransactionID("send"),
		ActorID:          actor.ID,
		LightningAddress: address,
		Status:           model.StatusInitiated,
		SatsAmount:       sats,
		CreatedAt:        time.Now().UTC(),
	}
	if err := o.log.RecordSell(record); err != nil {
		// nothing durable exists yet, hand the units straight back
		if rerr := o.inventory.Return(actor.ID, units); rerr != nil {
			logrus.Errorf("refunding %s after record failure: %v", actor.ID, rerr)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "could not record transaction", err.Error())
	}

	bolt11, err := o.gateway.ResolveAddress(ctx, address, sats)
	if err != nil {
		o.failSell(record.TransactionID, model.StatusFailed, fmt.Sprintf("resolving %s: %v", address, err))
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "lightning address could not be resolved", err.Error())
	}

	paymentHash, err := o.gateway.SendPayment(ctx, bolt11)
	if err != nil {
		o.failSell(record.TransactionID, model.StatusFailed, fmt.Sprintf("sending payment: %v", err))
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "payment gateway rejected the payment", err.Error())
	}

	if err := o.log.UpdateSell(record.TransactionID, func(r *model.SellRecord) {
		r.PaymentHash = paymentHash
	}); err != nil {
		logrus.Errorf("attaching payment hash to %s: %v", record.TransactionID, err)
	}

	o.track(model.PendingInvoice{
		TransactionID: record.TransactionID,
		PaymentHash:   paymentHash,
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		Amount:        sats,
		Kind:          model.PurchaseSend,
		CreatedAt:     record.CreatedAt,
	})

	return &Receipt{
		TransactionID: record.TransactionID,
		PaymentHash:   paymentHash,
		AmountSats:    sats,
	}, nil
}

// announce hands the invoice to the notifier without blocking the request.
func (o *Orangemart) announce(actor Actor, paymentRequest string, amountSats int64, memo string) {
	if o.notifier == nil {
		return
	}
	go func() {
		if err := o.notifier.NotifyInvoice(actor.Name, paymentRequest, amountSats, memo); err != nil {
			logrus.Errorf("announcing invoice: %v", err)
		}
	}()
}
