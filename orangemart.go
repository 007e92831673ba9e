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

// Package orangemart reconciles Lightning invoice lifecycles against in-world
// asset movements. Purchases create an inbound invoice and deliver assets once
// the payment settles; sends reserve assets up front and refund them when the
// outbound payment fails or times out. Settlement signals arrive over two
// channels, a WebSocket push subscription per invoice and a periodic polling
// fallback, and the in-flight table is the serialization point that guarantees
// every invoice produces its effect at most once.
package orangemart

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/model"
	"github.com/rustysats/orangemart/store"
)

// Actor identifies the in-world participant behind a request. Name is only
// used for display (memos, privilege command placeholders); ID is the stable
// key for cooldowns, pending caps and transaction records.
type Actor struct {
	ID   string
	Name string
}

// PaymentGateway is the engine's view of the Lightning gateway. *gateway.Client
// satisfies it; tests substitute their own.
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (paymentRequest, paymentHash string, err error)
	SendPayment(ctx context.Context, bolt11 string) (paymentHash string, err error)
	CheckSettlement(ctx context.Context, paymentHash string) (bool, error)
	ResolveAddress(ctx context.Context, address string, amountSats int64) (string, error)
}

// AssetInventory moves asset units in and out of an actor's holdings. Credit
// must deliver by any means the host world supports; it only errors when
// delivery is impossible. DebitIfAvailable reports false (without error) when
// the actor lacks the balance. Return refunds a previously debited amount.
type AssetInventory interface {
	Credit(actorID string, amount int64) error
	DebitIfAvailable(actorID string, amount int64) (bool, error)
	Return(actorID string, amount int64) error
}

// PrivilegeGranter executes a fully rendered privilege command, e.g.
// "usergroup add 7656119xxxx vip".
type PrivilegeGranter interface {
	Grant(command string) error
}

// InvoiceNotifier publishes a freshly created invoice somewhere the actor can
// pay it. Failures are logged, never fatal: the invoice stays payable through
// other means.
type InvoiceNotifier interface {
	NotifyInvoice(actorName, paymentRequest string, amountSats int64, memo string) error
}

// trackedInvoice is an in-flight table entry: the admitted invoice plus its
// process-local reconciliation state.
type trackedInvoice struct {
	inv     model.PendingInvoice
	retries int
	expiry  *time.Timer
}

type Orangemart struct {
	log        store.TransactionLog
	gateway    PaymentGateway
	inventory  AssetInventory
	privileges PrivilegeGranter
	notifier   InvoiceNotifier

	// mu guards the in-flight table. Removal from the table under mu is the
	// at-most-once gate: whichever signal deletes the entry applies the
	// effect, every later signal finds nothing and stops.
	mu       sync.Mutex
	inflight map[string]*trackedInvoice

	cooldownMu sync.Mutex
	cooldowns  map[string]time.Time

	subs *subscriptionManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrangemart builds the engine around its collaborators. privileges and
// notifier may be nil when the host world has no privilege system or no
// announcement channel.
func NewOrangemart(log store.TransactionLog, gateway PaymentGateway, inventory AssetInventory, privileges PrivilegeGranter, notifier InvoiceNotifier) *Orangemart {
	o := &Orangemart{
		log:        log,
		gateway:    gateway,
		inventory:  inventory,
		privileges: privileges,
		notifier:   notifier,
		inflight:   make(map[string]*trackedInvoice),
		cooldowns:  make(map[string]time.Time),
	}
	// replaced by Start; keeps pre-Start admissions from holding a nil context
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.subs = newSubscriptionManager(o.handlePushSignal)
	return o
}

// Start runs the recovery pass and launches the background loops: the
// settlement poller and the cooldown sweeper. It returns once recovery is
// done; the loops run until Shutdown or ctx cancellation.
func (o *Orangemart) Start(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	o.ctx, o.cancel = context.WithCancel(ctx)

	if err := o.recoverInterrupted(o.ctx); err != nil {
		return err
	}

	o.wg.Add(2)
	go o.runPoller(o.ctx, time.Duration(cnf.Invoice.CheckIntervalSeconds)*time.Second)
	go o.runCooldownSweeper(o.ctx)
	logrus.Infof("engine started: poll interval %ds, invoice timeout %ds", cnf.Invoice.CheckIntervalSeconds, cnf.Invoice.TimeoutSeconds)
	return nil
}

// Shutdown stops the background loops and tears down every push subscription.
// In-flight invoices stay INITIATED/PROCESSING in the log and are resolved by
// the recovery pass on the next start.
func (o *Orangemart) Shutdown() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.subs.closeAll()

	o.mu.Lock()
	for hash, tracked := range o.inflight {
		tracked.expiry.Stop()
		delete(o.inflight, hash)
	}
	o.mu.Unlock()
	logrus.Info("engine stopped")
}

// track admits an invoice into the in-flight table, arms its expiry timer and,
// when the push channel is enabled, opens a WebSocket subscription for it.
func (o *Orangemart) track(inv model.PendingInvoice) {
	cnf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	hash := model.NormalizeHash(inv.PaymentHash)
	timeout := time.Duration(cnf.Invoice.TimeoutSeconds) * time.Second

	tracked := &trackedInvoice{inv: inv}
	tracked.expiry = time.AfterFunc(timeout, func() {
		o.expireInvoice(hash, "invoice timeout reached")
	})

	o.mu.Lock()
	o.inflight[hash] = tracked
	o.mu.Unlock()

	if cnf.Invoice.UseWebSockets {
		o.subs.watch(o.ctx, hash)
	}
}

// PendingCount reports how many invoices the actor currently has in flight.
func (o *Orangemart) PendingCount(actorID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, tracked := range o.inflight {
		if tracked.inv.ActorID == actorID {
			count++
		}
	}
	return count
}

// ListBuys returns every recorded purchase transaction.
func (o *Orangemart) ListBuys() ([]model.BuyRecord, error) {
	return o.log.LoadBuys()
}

// ListSells returns every recorded outbound payment transaction.
func (o *Orangemart) ListSells() ([]model.SellRecord, error) {
	return o.log.LoadSells()
}

// InFlight reports whether the payment hash is still awaiting an outcome.
func (o *Orangemart) InFlight(paymentHash string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[model.NormalizeHash(paymentHash)]
	return ok
}
