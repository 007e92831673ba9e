package store

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/rustysats/orangemart/model"
)

func newTestLog(t *testing.T) *JSONLog {
	t.Helper()
	log, err := NewJSONLog(t.TempDir())
	assert.NoError(t, err)
	return log
}

func TestLoadFromMissingFiles(t *testing.T) {
	log := newTestLog(t)

	buys, err := log.LoadBuys()
	assert.NoError(t, err)
	assert.Empty(t, buys)

	sells, err := log.LoadSells()
	assert.NoError(t, err)
	assert.Empty(t, sells)
}

func TestBuyRoundTrip(t *testing.T) {
	log := newTestLog(t)

	completed := time.Now().UTC().Truncate(time.Second)
	record := model.BuyRecord{
		TransactionID: gofakeit.UUID(),
		ActorID:       gofakeit.UUID(),
		InvoiceID:     "a1b2c3",
		Status:        model.StatusCompleted,
		Paid:          true,
		AmountSats:    2100,
		Units:         2100,
		PurchaseKind:  model.PurchaseCurrency,
		CurrencyGiven: true,
		RetryCount:    3,
		CreatedAt:     completed.Add(-time.Minute),
		CompletedAt:   &completed,
	}
	assert.NoError(t, log.RecordBuy(record))

	buys, err := log.LoadBuys()
	assert.NoError(t, err)
	assert.Equal(t, []model.BuyRecord{record}, buys)
}

func TestSellRoundTripWithNullableFields(t *testing.T) {
	log := newTestLog(t)

	// no payment hash, no completion time, no failure reason
	record := model.SellRecord{
		TransactionID:    gofakeit.UUID(),
		ActorID:          gofakeit.UUID(),
		LightningAddress: "satoshi@example.com",
		Status:           model.StatusInitiated,
		SatsAmount:       500,
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}
	assert.NoError(t, log.RecordSell(record))

	sells, err := log.LoadSells()
	assert.NoError(t, err)
	assert.Equal(t, []model.SellRecord{record}, sells)
	assert.Nil(t, sells[0].CompletedAt)
	assert.Empty(t, sells[0].PaymentHash)
}

func TestRecordReplacesExisting(t *testing.T) {
	log := newTestLog(t)

	record := model.BuyRecord{
		TransactionID: "txn_1",
		Status:        model.StatusInitiated,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	assert.NoError(t, log.RecordBuy(record))

	record.Status = model.StatusFailed
	assert.NoError(t, log.RecordBuy(record))

	buys, err := log.LoadBuys()
	assert.NoError(t, err)
	assert.Len(t, buys, 1)
	assert.Equal(t, model.StatusFailed, buys[0].Status)
}

func TestUpdateBuy(t *testing.T) {
	log := newTestLog(t)

	assert.NoError(t, log.RecordBuy(model.BuyRecord{
		TransactionID: "txn_1",
		Status:        model.StatusInitiated,
		PurchaseKind:  model.PurchaseCurrency,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}))

	err := log.UpdateBuy("txn_1", func(r *model.BuyRecord) {
		r.Status = model.StatusCompleted
		r.Paid = true
		r.CurrencyGiven = true
	})
	assert.NoError(t, err)

	buys, err := log.LoadBuys()
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, buys[0].Status)
	assert.True(t, buys[0].CurrencyGiven)
}

func TestUpdateUnknownID(t *testing.T) {
	log := newTestLog(t)

	err := log.UpdateBuy("missing", func(r *model.BuyRecord) {})
	assert.ErrorIs(t, err, ErrNotFound)

	err = log.UpdateSell("missing", func(r *model.SellRecord) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentUpdates(t *testing.T) {
	log := newTestLog(t)

	assert.NoError(t, log.RecordBuy(model.BuyRecord{TransactionID: "txn_a", CreatedAt: time.Now().UTC()}))
	assert.NoError(t, log.RecordBuy(model.BuyRecord{TransactionID: "txn_b", CreatedAt: time.Now().UTC()}))

	done := make(chan error, 2)
	go func() {
		done <- log.UpdateBuy("txn_a", func(r *model.BuyRecord) { r.RetryCount = 7 })
	}()
	go func() {
		done <- log.UpdateBuy("txn_b", func(r *model.BuyRecord) { r.RetryCount = 9 })
	}()
	assert.NoError(t, <-done)
	assert.NoError(t, <-done)

	buys, err := log.LoadBuys()
	assert.NoError(t, err)
	counts := map[string]int{}
	for _, b := range buys {
		counts[b.TransactionID] = b.RetryCount
	}
	assert.Equal(t, map[string]int{"txn_a": 7, "txn_b": 9}, counts)
}
