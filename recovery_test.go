package orangemart

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rustysats/orangemart/model"
)

func seedBuy(t *testing.T, f *fixture, record model.BuyRecord) {
	t.Helper()
	if record.TransactionID == "" {
		record.TransactionID = model.GenerateTransactionID("buy")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC().Add(-time.Hour)
	}
	assert.NoError(t, f.log.RecordBuy(record))
}

func seedSell(t *testing.T, f *fixture, record model.SellRecord) {
	t.Helper()
	if record.TransactionID == "" {
		record.TransactionID = model.GenerateTransactionID("send")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC().Add(-time.Hour)
	}
	assert.NoError(t, f.log.RecordSell(record))
}

func TestRecoveryCompletesPaidBuy(t *testing.T) {
	f := newFixture(t)
	seedBuy(t, f, model.BuyRecord{
		ActorID:      testActor.ID,
		InvoiceID:    "hash01",
		Status:       model.StatusProcessing,
		Units:        100,
		AmountSats:   200,
		PurchaseKind: model.PurchaseCurrency,
	})
	f.gateway.markPaid("hash01")

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	record := f.singleBuy(t)
	assert.Equal(t, model.StatusCompleted, record.Status)
	assert.True(t, record.Paid)
	assert.True(t, record.CurrencyGiven)
	assert.Equal(t, int64(100), f.inventory.balance(testActor.ID))
}

func TestRecoverySkipsAlreadyAppliedEffect(t *testing.T) {
	f := newFixture(t)
	// crashed after crediting but before the status write
	seedBuy(t, f, model.BuyRecord{
		ActorID:       testActor.ID,
		InvoiceID:     "hash01",
		Status:        model.StatusProcessing,
		Units:         100,
		PurchaseKind:  model.PurchaseCurrency,
		CurrencyGiven: true,
	})
	f.gateway.markPaid("hash01")

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	assert.Equal(t, model.StatusCompleted, f.singleBuy(t).Status)
	assert.Equal(t, 0, f.inventory.creditCount())
}

func TestRecoveryExpiresUnpaidBuy(t *testing.T) {
	f := newFixture(t)
	seedBuy(t, f, model.BuyRecord{
		ActorID:      testActor.ID,
		InvoiceID:    "hash01",
		Status:       model.StatusInitiated,
		Units:        100,
		PurchaseKind: model.PurchaseCurrency,
	})

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	assert.Equal(t, model.StatusExpired, f.singleBuy(t).Status)
	assert.Equal(t, 0, f.inventory.creditCount())
}

func TestRecoveryFailsBuyWithoutInvoice(t *testing.T) {
	f := newFixture(t)
	seedBuy(t, f, model.BuyRecord{
		ActorID:      testActor.ID,
		Status:       model.StatusInitiated,
		Units:        100,
		PurchaseKind: model.PurchaseCurrency,
	})

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	// no gateway reference, so no settlement check was possible
	assert.Equal(t, 0, f.gateway.checkCalls)
	assert.Equal(t, model.StatusFailed, f.singleBuy(t).Status)
}

func TestRecoveryCompletesPaidSell(t *testing.T) {
	f := newFixture(t)
	seedSell(t, f, model.SellRecord{
		ActorID:     testActor.ID,
		Status:      model.StatusProcessing,
		SatsAmount:  300,
		PaymentHash: "hash01",
	})
	f.gateway.markPaid("hash01")

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	record := f.singleSell(t)
	assert.Equal(t, model.StatusCompleted, record.Status)
	assert.True(t, record.Success)
	assert.False(t, record.CurrencyReturned)
	assert.Equal(t, 0, f.inventory.returnCount())
}

func TestRecoveryRefundsUnpaidSell(t *testing.T) {
	f := newFixture(t)
	seedSell(t, f, model.SellRecord{
		ActorID:     testActor.ID,
		Status:      model.StatusProcessing,
		SatsAmount:  300,
		PaymentHash: "hash01",
	})

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	record := f.singleSell(t)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.True(t, record.CurrencyReturned)
	assert.Equal(t, int64(300), f.inventory.balance(testActor.ID)) // 300 sats at 1 sat per unit
}

func TestRecoveryRefundsSellWithoutHash(t *testing.T) {
	f := newFixture(t)
	seedSell(t, f, model.SellRecord{
		ActorID:    testActor.ID,
		Status:     model.StatusInitiated,
		SatsAmount: 300,
	})

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	record := f.singleSell(t)
	assert.Equal(t, model.StatusFailed, record.Status)
	assert.True(t, record.CurrencyReturned)
	assert.Equal(t, 1, f.inventory.returnCount())
}

func TestRecoveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	seedBuy(t, f, model.BuyRecord{
		ActorID:      testActor.ID,
		InvoiceID:    "hash01",
		Status:       model.StatusProcessing,
		Units:        100,
		PurchaseKind: model.PurchaseCurrency,
	})
	seedSell(t, f, model.SellRecord{
		ActorID:     testActor.ID,
		Status:      model.StatusProcessing,
		SatsAmount:  300,
		PaymentHash: "hash02",
	})
	f.gateway.markPaid("hash01")

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))
	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	assert.Equal(t, 1, f.inventory.creditCount())
	assert.Equal(t, 1, f.inventory.returnCount())
}

func TestRecoveryLeavesTerminalRecordsAlone(t *testing.T) {
	f := newFixture(t)
	seedBuy(t, f, model.BuyRecord{
		ActorID:      testActor.ID,
		InvoiceID:    "hash01",
		Status:       model.StatusCompleted,
		Paid:         true,
		PurchaseKind: model.PurchaseCurrency,
	})

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	assert.Equal(t, 0, f.gateway.checkCalls)
}

func TestRecoverySettlementErrorMeansUnpaid(t *testing.T) {
	f := newFixture(t)
	seedBuy(t, f, model.BuyRecord{
		ActorID:      testActor.ID,
		InvoiceID:    "hash01",
		Status:       model.StatusProcessing,
		Units:        100,
		PurchaseKind: model.PurchaseCurrency,
	})
	f.gateway.checkErr = assert.AnError

	assert.NoError(t, f.engine.recoverInterrupted(context.Background()))

	// one check is all recovery gets; an error resolves conservatively
	assert.Equal(t, model.StatusExpired, f.singleBuy(t).Status)
	assert.Equal(t, 0, f.inventory.creditCount())
}

func TestRefundSell(t *testing.T) {
	f := newFixture(t)
	id := model.GenerateTransactionID("send")
	seedSell(t, f, model.SellRecord{
		TransactionID: id,
		ActorID:       testActor.ID,
		Status:        model.StatusCompleted,
		Success:       true,
		SatsAmount:    300,
		PaymentHash:   "hash01",
	})

	assert.NoError(t, f.engine.RefundSell(id))
	assert.NoError(t, f.engine.RefundSell(id)) // second call finds the flag set

	record := f.singleSell(t)
	assert.Equal(t, model.StatusRefunded, record.Status)
	assert.True(t, record.CurrencyReturned)
	assert.Equal(t, 1, f.inventory.returnCount())
}

func TestRefundSellRefusesPending(t *testing.T) {
	f := newFixture(t)
	id := model.GenerateTransactionID("send")
	seedSell(t, f, model.SellRecord{
		TransactionID: id,
		ActorID:       testActor.ID,
		Status:        model.StatusProcessing,
		SatsAmount:    300,
		PaymentHash:   "hash01",
	})

	assert.NoError(t, f.engine.RefundSell(id))

	assert.Equal(t, model.StatusProcessing, f.singleSell(t).Status)
	assert.Equal(t, 0, f.inventory.returnCount())
}
