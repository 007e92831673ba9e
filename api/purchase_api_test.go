package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/rustysats/orangemart"
	model2 "github.com/rustysats/orangemart/api/model"
	"github.com/rustysats/orangemart/config"
	"github.com/rustysats/orangemart/store"
)

type stubGateway struct{}

func (stubGateway) CreateInvoice(ctx context.Context, amountSats int64, memo string) (string, string, error) {
	return "lnbc-test-invoice", "feed01", nil
}

func (stubGateway) SendPayment(ctx context.Context, bolt11 string) (string, error) {
	return "feed02", nil
}

func (stubGateway) CheckSettlement(ctx context.Context, paymentHash string) (bool, error) {
	return false, nil
}

func (stubGateway) ResolveAddress(ctx context.Context, address string, amountSats int64) (string, error) {
	return "lnbc-resolved", nil
}

type stubInventory struct {
	balance int64
}

func (s *stubInventory) Credit(actorID string, amount int64) error {
	s.balance += amount
	return nil
}

func (s *stubInventory) DebitIfAvailable(actorID string, amount int64) (bool, error) {
	if s.balance < amount {
		return false, nil
	}
	s.balance -= amount
	return true, nil
}

func (s *stubInventory) Return(actorID string, amount int64) error {
	s.balance += amount
	return nil
}

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	err := json.NewDecoder(resp.Body).Decode(&s.Response)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *stubInventory) {
	t.Helper()
	config.MockConfig(&config.Configuration{
		Currency: config.CurrencyConfig{
			Name:               "blood",
			SatsPerUnit:        1,
			PricePerUnit:       2,
			MaxPurchaseAmount:  10000,
			MaxSendAmount:      10000,
			MaxPendingPerActor: 1,
		},
		Vip:     config.VipConfig{PriceSats: 1000, Command: "usergroup add {steamid} vip"},
		Invoice: config.InvoiceConfig{CheckIntervalSeconds: 10, TimeoutSeconds: 300, MaxRetries: 25},
	})
	log, err := store.NewJSONLog(t.TempDir())
	assert.NoError(t, err)

	inventory := &stubInventory{balance: 1000}
	engine := orangemart.NewOrangemart(log, stubGateway{}, inventory, nil, nil)
	t.Cleanup(engine.Shutdown)
	return NewAPI(engine).Router(), inventory
}

func toJSON(t *testing.T, payload interface{}) io.Reader {
	t.Helper()
	data, err := json.Marshal(payload)
	assert.NoError(t, err)
	return bytes.NewBuffer(data)
}

func TestBuyEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	var response orangemart.Receipt
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, model2.BuyRequest{ActorID: "7656", ActorName: "satoshi", Units: 21}),
		Response: &response,
		Method:   "POST",
		Route:    "/buy",
		Router:   router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "lnbc-test-invoice", response.PaymentRequest)
	assert.Equal(t, int64(42), response.AmountSats)
	assert.NotEmpty(t, response.TransactionID)
}

func TestBuyEndpointValidation(t *testing.T) {
	router, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, model2.BuyRequest{ActorName: "satoshi", Units: 0}),
		Response: &response,
		Method:   "POST",
		Route:    "/buy",
		Router:   router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, response, "error")
}

func TestBuyEndpointPendingCap(t *testing.T) {
	router, _ := setupRouter(t)

	payload := model2.BuyRequest{ActorID: "7656", ActorName: "satoshi", Units: 21}
	var first orangemart.Receipt
	resp, err := SetUpTestRequest(TestRequest{
		Payload: toJSON(t, payload), Response: &first,
		Method: "POST", Route: "/buy", Router: router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusCreated, resp.Code)

	var second map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{
		Payload: toJSON(t, payload), Response: &second,
		Method: "POST", Route: "/buy", Router: router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "TOO_MANY_PENDING", second["code"])
}

func TestSendEndpoint(t *testing.T) {
	router, inventory := setupRouter(t)

	var response orangemart.Receipt
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, model2.SendRequest{ActorID: "7656", ActorName: "satoshi", Units: 300, LightningAddress: "satoshi@example.com"}),
		Response: &response,
		Method:   "POST",
		Route:    "/send",
		Router:   router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, int64(300), response.AmountSats)
	assert.Equal(t, int64(700), inventory.balance)
}

func TestSendEndpointBadAddress(t *testing.T) {
	router, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  toJSON(t, model2.SendRequest{ActorID: "7656", Units: 300, LightningAddress: "not-an-address"}),
		Response: &response,
		Method:   "POST",
		Route:    "/send",
		Router:   router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLimitsEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	var response map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   "GET",
		Route:    "/limits",
		Router:   router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "blood", response["currency_name"])
	assert.Equal(t, float64(10000), response["max_purchase_amount"])
}

func TestSecretKeyAuth(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: "topsecret"},
		Currency: config.CurrencyConfig{
			Name: "blood", SatsPerUnit: 1, PricePerUnit: 2,
		},
		Invoice: config.InvoiceConfig{TimeoutSeconds: 300, MaxRetries: 25},
	})
	log, err := store.NewJSONLog(t.TempDir())
	assert.NoError(t, err)
	engine := orangemart.NewOrangemart(log, stubGateway{}, &stubInventory{}, nil, nil)
	t.Cleanup(engine.Shutdown)
	router := NewAPI(engine).Router()

	var unauthorized map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &unauthorized,
		Method:   "GET",
		Route:    "/limits",
		Router:   router,
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	var authorized map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{
		Response: &authorized,
		Method:   "GET",
		Route:    "/limits",
		Router:   router,
		Header:   map[string]string{"X-Orangemart-Key": "topsecret"},
	})
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, http.StatusOK, resp.Code)
}
