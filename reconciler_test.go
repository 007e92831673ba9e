package orangemart

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/model"
	"github.com/rustysats/orangemart/store"
)

func TestConfirmDeliversExactlyOnce(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)

	f.engine.confirmPayment("hash01")
	f.engine.confirmPayment("hash01") // duplicate signal loses the claim

	assert.Equal(t, 1, f.inventory.creditCount())
	assert.Equal(t, int64(100), f.inventory.balance(testActor.ID))

	record := f.singleBuy(t)
	assert.Equal(t, model.StatusCompleted, record.Status)
	assert.True(t, record.Paid)
	assert.True(t, record.CurrencyGiven)
	assert.NotNil(t, record.CompletedAt)
	assert.False(t, f.engine.InFlight("hash01"))
}

func TestPushAndPollRace(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)
	f.gateway.markPaid("hash01")

	// proven push wins, the poll round afterwards finds nothing in flight
	f.engine.handlePushSignal("hash01", true)
	f.engine.pollRound(context.Background())

	assert.Equal(t, 1, f.inventory.creditCount())
	assert.Equal(t, model.StatusCompleted, f.singleBuy(t).Status)
}

func TestUnprovenPushIsVerifiedFirst(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)

	// hash matched but no preimage and the gateway says unpaid: no effect
	f.engine.handlePushSignal("hash01", false)
	assert.Equal(t, 0, f.inventory.creditCount())
	assert.True(t, f.engine.InFlight("hash01"))
	assert.Equal(t, 1, f.gateway.checkCalls)

	f.gateway.markPaid("hash01")
	f.engine.handlePushSignal("hash01", false)
	assert.Equal(t, 1, f.inventory.creditCount())
	assert.False(t, f.engine.InFlight("hash01"))
}

func TestPollRoundConfirms(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)
	f.gateway.markPaid("hash01")

	f.engine.pollRound(context.Background())

	assert.Equal(t, model.StatusCompleted, f.singleBuy(t).Status)
	assert.Equal(t, int64(100), f.inventory.balance(testActor.ID))
}

func TestFirstPendingRoundFlipsToProcessing(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)

	f.engine.pollRound(context.Background())

	record := f.singleBuy(t)
	assert.Equal(t, model.StatusProcessing, record.Status)
	assert.Equal(t, 1, record.RetryCount)
	assert.True(t, f.engine.InFlight("hash01"))
}

func TestRetryBudgetExpiresInvoice(t *testing.T) {
	f := newFixture(t) // MaxRetries is 3

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.engine.pollRound(context.Background())
	}

	assert.False(t, f.engine.InFlight("hash01"))
	assert.Equal(t, model.StatusExpired, f.singleBuy(t).Status)
	assert.Equal(t, 0, f.inventory.creditCount())
}

func TestSettlementErrorCountsAsPending(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)
	f.gateway.checkErr = assert.AnError

	f.engine.pollRound(context.Background())

	// an unreachable gateway burns a retry but never confirms or fails
	record := f.singleBuy(t)
	assert.Equal(t, model.StatusProcessing, record.Status)
	assert.Equal(t, 1, record.RetryCount)
	assert.True(t, f.engine.InFlight("hash01"))
}

func TestVipConfirmationRendersCommand(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyVip(context.Background(), testActor)
	assert.NoError(t, err)

	f.engine.confirmPayment("hash01")

	assert.Equal(t, []string{"usergroup add 76561198000000001 vip"}, f.privileges.granted())
	record := f.singleBuy(t)
	assert.Equal(t, model.StatusCompleted, record.Status)
	assert.True(t, record.VipGranted)
	assert.False(t, record.CurrencyGiven)
}

func TestVipCommandPlayerPlaceholder(t *testing.T) {
	cnf := mockEngineConfig()
	cnf.Vip.Command = "grantvip {player} {id}"
	config.MockConfig(cnf)

	log, err := store.NewJSONLog(t.TempDir())
	assert.NoError(t, err)
	f := &fixture{gateway: newFakeGateway(), inventory: newFakeInventory(), privileges: &fakePrivileges{}, log: log}
	f.engine = NewOrangemart(log, f.gateway, f.inventory, f.privileges, nil)
	t.Cleanup(f.engine.Shutdown)

	_, err = f.engine.BuyVip(context.Background(), testActor)
	assert.NoError(t, err)
	f.engine.confirmPayment("hash01")

	assert.Equal(t, []string{"grantvip satoshi 76561198000000001"}, f.privileges.granted())
}

func TestSendConfirmation(t *testing.T) {
	f := newFixture(t)
	f.inventory.balances[testActor.ID] = 500

	_, err := f.engine.SendCurrency(context.Background(), testActor, 300, "satoshi@example.com")
	assert.NoError(t, err)

	f.engine.confirmPayment("hash01")

	record := f.singleSell(t)
	assert.Equal(t, model.StatusCompleted, record.Status)
	assert.True(t, record.Success)
	assert.False(t, record.CurrencyReturned)
	// the debit stands, nothing comes back
	assert.Equal(t, int64(200), f.inventory.balance(testActor.ID))
}

func TestSendExpiryRefundsOnce(t *testing.T) {
	f := newFixture(t)
	f.inventory.balances[testActor.ID] = 500

	_, err := f.engine.SendCurrency(context.Background(), testActor, 300, "satoshi@example.com")
	assert.NoError(t, err)

	f.engine.expireInvoice("hash01", "invoice timeout reached")
	f.engine.expireInvoice("hash01", "invoice timeout reached")

	assert.Equal(t, 1, f.inventory.returnCount())
	assert.Equal(t, int64(500), f.inventory.balance(testActor.ID))

	record := f.singleSell(t)
	assert.Equal(t, model.StatusExpired, record.Status)
	assert.True(t, record.CurrencyReturned)
	assert.False(t, record.Success)
}

func TestExpiryLosesToConfirmation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.BuyCurrency(context.Background(), testActor, 100)
	assert.NoError(t, err)

	f.engine.confirmPayment("hash01")
	f.engine.expireInvoice("hash01", "invoice timeout reached")

	record := f.singleBuy(t)
	assert.Equal(t, model.StatusCompleted, record.Status)
	assert.Equal(t, 1, f.inventory.creditCount())
}

func TestUnknownHashSignalIsDiscarded(t *testing.T) {
	f := newFixture(t)

	f.engine.confirmPayment("never-seen")
	f.engine.expireInvoice("never-seen", "invoice timeout reached")

	assert.Equal(t, 0, f.inventory.creditCount())
	buys, err := f.log.LoadBuys()
	assert.NoError(t, err)
	assert.Empty(t, buys)
}
