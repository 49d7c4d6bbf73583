package integration

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	httpHandler "webhook-relay/internal/adapter/http/handler"
	redisStorage "webhook-relay/internal/adapter/storage/redis"
	"webhook-relay/internal/core/domain"
	"webhook-relay/internal/core/ports"
	"webhook-relay/internal/service"
	"webhook-relay/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testVaultKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testAPIKey   = "integration-worker-key"
)

// testApp wires the full pipeline with in-memory repos, miniredis for the
// circuit breaker, and the real HTTP layer. Only PostgreSQL is substituted.
type testApp struct {
	server       *httptest.Server
	redis        *miniredis.Miniredis
	vault        ports.SecretVault
	dispatcher   ports.Dispatcher
	endpointRepo *inMemoryEndpointRepo
	deliveryRepo *inMemoryDeliveryRepo
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.Nop()

	vault, err := service.NewAESVault(testVaultKey)
	require.NoError(t, err)
	sigSvc := service.NewHMACSignatureService()
	breaker := redisStorage.NewCircuitBreaker(rdb, redisStorage.DefaultBreakerOptions(), log)
	metrics := service.NewMetrics()

	endpointRepo := newInMemoryEndpointRepo()
	deliveryRepo := newInMemoryDeliveryRepo()

	dispatcher := service.NewDispatcherService(endpointRepo, deliveryRepo, log)
	deliverer := service.NewHTTPDeliverer(vault, sigSvc, &http.Client{Timeout: 5 * time.Second}, log)
	worker := service.NewDrainWorker(
		deliveryRepo, endpointRepo, deliverer, breaker, metrics,
		service.WorkerOptions{
			BatchSize:   200,
			Concurrency: 20,
			MaxAttempts: 10,
			BackoffBase: 15 * time.Second,
			BackoffCap:  10 * time.Minute,
		},
		log,
	)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Worker:         worker,
		Metrics:        metrics,
		InternalAPIKey: testAPIKey,
		Logger:         log,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testApp{
		server:       server,
		redis:        mr,
		vault:        vault,
		dispatcher:   dispatcher,
		endpointRepo: endpointRepo,
		deliveryRepo: deliveryRepo,
	}
}

// registerEndpoint stores an endpoint with an encrypted secret and returns
// its plaintext secret for receiver-side verification.
func (app *testApp) registerEndpoint(t *testing.T, url string, types ...domain.EventType) (*domain.Endpoint, string) {
	t.Helper()
	secret := "whsec_" + uuid.New().String()
	enc, err := app.vault.Encrypt(secret)
	require.NoError(t, err)

	e := &domain.Endpoint{
		ID:         uuid.New(),
		MerchantID: uuid.New(),
		URL:        url,
		EventTypes: types,
		SecretEnc:  enc,
		Enabled:    true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, app.endpointRepo.Create(context.Background(), e))
	return e, secret
}

func (app *testApp) trigger(t *testing.T) map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/internal/webhook-worker", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Data
}

func newPaymentEvent() *domain.Event {
	return &domain.Event{
		ID:         uuid.New(),
		Type:       domain.EventPaymentCompleted,
		Data:       json.RawMessage(`{"payment_id":"p_42","amount":9900,"currency":"USD"}`),
		Sequence:   1,
		OccurredAt: time.Now().UTC(),
	}
}

func TestPipeline_EndToEndDelivery(t *testing.T) {
	app := newTestApp(t)

	var gotBody []byte
	var gotSig, gotTS string
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotTS = r.Header.Get("X-Webhook-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	endpoint, secret := app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted)

	event := newPaymentEvent()
	count, err := app.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	data := app.trigger(t)
	assert.EqualValues(t, 1, data["processed"])
	assert.EqualValues(t, 1, data["delivered"])

	// The receiver can verify the signature with its shared secret.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%s.%s", gotTS, gotBody)))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)

	// The audit trail shows one DELIVERED record.
	trail, err := app.deliveryRepo.ListByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.DeliveryStatusDelivered, trail[0].Status)
	assert.Equal(t, endpoint.ID, trail[0].EndpointID)
	assert.Equal(t, 1, trail[0].AttemptCount)

	// Success touched the endpoint's delivery timestamp.
	got, err := app.endpointRepo.GetByID(context.Background(), endpoint.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastDeliveryAt)
}

func TestPipeline_FanOutToMultipleSubscribers(t *testing.T) {
	app := newTestApp(t)

	var hits atomic.Int64
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted)
	app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted, domain.EventRefundProcessed)
	// Subscribed to a different event type: must not receive this one.
	app.registerEndpoint(t, receiver.URL, domain.EventTopupCompleted)

	count, err := app.dispatcher.Dispatch(context.Background(), newPaymentEvent())
	require.NoError(t, err)
	require.Equal(t, 2, count)

	data := app.trigger(t)
	assert.EqualValues(t, 2, data["delivered"])
	assert.EqualValues(t, 2, hits.Load())
}

func TestPipeline_FailureRetriesThenSucceeds(t *testing.T) {
	app := newTestApp(t)

	var calls atomic.Int64
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted)
	event := newPaymentEvent()
	_, err := app.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)

	data := app.trigger(t)
	assert.EqualValues(t, 1, data["retried"])

	// The retry is scheduled in the future; rewind it instead of sleeping.
	app.deliveryRepo.forceDue()

	data = app.trigger(t)
	assert.EqualValues(t, 1, data["delivered"])

	trail, err := app.deliveryRepo.ListByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.DeliveryStatusDelivered, trail[0].Status)
	assert.Equal(t, 2, trail[0].AttemptCount)
}

func TestPipeline_CircuitOpensAndSkips(t *testing.T) {
	app := newTestApp(t)

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer receiver.Close()

	app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted)

	// Ten failed deliveries open the endpoint's circuit.
	for i := 0; i < 10; i++ {
		_, err := app.dispatcher.Dispatch(context.Background(), newPaymentEvent())
		require.NoError(t, err)
		app.deliveryRepo.forceDue()
		app.trigger(t)
	}

	// With the circuit open, the next drain postpones without attempting.
	_, err := app.dispatcher.Dispatch(context.Background(), newPaymentEvent())
	require.NoError(t, err)
	app.deliveryRepo.forceDue()
	data := app.trigger(t)
	assert.EqualValues(t, 0, data["delivered"])
	assert.NotEqualValues(t, 0, data["skipped"])
}

func TestPipeline_RetryBudgetExhaustionDeadLetters(t *testing.T) {
	app := newTestApp(t)

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer receiver.Close()

	app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted)
	event := newPaymentEvent()
	_, err := app.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)

	// Drive the record through its whole retry budget. The breaker opens
	// along the way; clear it between runs so every run attempts.
	for i := 0; i < 10; i++ {
		app.deliveryRepo.forceDue()
		app.redis.FlushAll()
		app.trigger(t)
	}

	trail, err := app.deliveryRepo.ListByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.DeliveryStatusDead, trail[0].Status)
	assert.Equal(t, 10, trail[0].AttemptCount)

	// A DEAD record never comes back, even when forced due.
	app.deliveryRepo.forceDue()
	data := app.trigger(t)
	assert.EqualValues(t, 0, data["processed"])
}

func TestPipeline_DisabledEndpointDeadLetters(t *testing.T) {
	app := newTestApp(t)

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("a disabled endpoint must not receive deliveries")
	}))
	defer receiver.Close()

	endpoint, _ := app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted)
	event := newPaymentEvent()
	_, err := app.dispatcher.Dispatch(context.Background(), event)
	require.NoError(t, err)

	// Disabled between fan-out and drain.
	app.endpointRepo.disable(endpoint.ID)

	data := app.trigger(t)
	assert.EqualValues(t, 1, data["dead"])

	trail, err := app.deliveryRepo.ListByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.DeliveryStatusDead, trail[0].Status)
}

func TestPipeline_WrongTriggerKeyClaimsNothing(t *testing.T) {
	app := newTestApp(t)

	app.registerEndpoint(t, "https://nowhere.example.com/hooks", domain.EventPaymentCompleted)
	_, err := app.dispatcher.Dispatch(context.Background(), newPaymentEvent())
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, app.server.URL+"/internal/webhook-worker", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Every record is still PENDING.
	for _, rec := range app.deliveryRepo.all() {
		assert.Equal(t, domain.DeliveryStatusPending, rec.Status)
	}
}

func TestPipeline_MetricsEndpointAggregatesRuns(t *testing.T) {
	app := newTestApp(t)

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	app.registerEndpoint(t, receiver.URL, domain.EventPaymentCompleted)
	_, err := app.dispatcher.Dispatch(context.Background(), newPaymentEvent())
	require.NoError(t, err)
	app.trigger(t)
	app.trigger(t)

	req, err := http.NewRequest(http.MethodGet, app.server.URL+"/internal/webhook-worker/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data ports.MetricsSnapshot `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.EqualValues(t, 2, envelope.Data.Runs)
	assert.EqualValues(t, 1, envelope.Data.Delivered)
}
