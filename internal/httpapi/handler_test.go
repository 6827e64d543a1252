package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkpay/internal/auth"
	"chunkpay/internal/checkout"
	"chunkpay/internal/gateway"
	"chunkpay/internal/orchestrator"
)

// fakeProvider is an httptest stand-in for the payment provider backend:
// orders always succeed, verification always confirms.
func fakeProvider(t *testing.T, orderCount *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders":
			n := orderCount.Add(1)
			var req struct {
				Amount int64 `json:"amount"`
			}
			body, _ := io.ReadAll(r.Body)
			sonic.Unmarshal(body, &req)
			fmt.Fprintf(w, `{"orderId":"order_%d","amount":%d,"currency":"INR","keyId":"key_test"}`, n, req.Amount)
		case "/verify":
			w.Write([]byte(`{"success":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	app   *fiber.App
	token string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var orders atomic.Int64
	provider := fakeProvider(t, &orders)

	gw := gateway.NewClient(provider.Client(), provider.URL, nil)
	registry := checkout.NewRegistry()
	orch := orchestrator.New(gw, registry, nil, nil, orchestrator.Config{
		ChunkLimit: 25000,
		RetryFloor: 1000,
		Pacing:     0,
	})
	manager := orchestrator.NewManager(context.Background(), orch, nil)

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	token, err := jwtManager.Generate("user-1", "customer")
	require.NoError(t, err)

	app := fiber.New(fiber.Config{
		JSONEncoder: sonic.Marshal,
		JSONDecoder: sonic.Unmarshal,
	})
	NewHandler(manager, registry, nil, nil, jwtManager).Register(app)

	return &testEnv{app: app, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := e.app.Test(req, 5000)
	require.NoError(t, err)
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, raw
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/settlements", bytes.NewReader([]byte(`{}`)))
	res, err := env.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/settlements", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer garbage")
	res, err = env.app.Test(req, 5000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, res.StatusCode)
}

func TestStartSettlement_ValidationError(t *testing.T) {
	env := newTestEnv(t)

	res, raw := env.do(t, http.MethodPost, "/settlements",
		`{"amount":60000,"customAmount":70000,"totalDue":60000}`)
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
	assert.Contains(t, string(raw), "exceeds outstanding due")
}

func TestStartSettlement_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	res, _ := env.do(t, http.MethodPost, "/settlements", `{not json`)
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}

func TestProgress_UnknownRun(t *testing.T) {
	env := newTestEnv(t)

	res, _ := env.do(t, http.MethodGet, "/settlements/nope", "")
	assert.Equal(t, fiber.StatusNotFound, res.StatusCode)
}

func TestCheckoutCallbacks_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	res, _ := env.do(t, http.MethodPost, "/checkout/nope/cancel", "")
	assert.Equal(t, fiber.StatusNotFound, res.StatusCode)

	res, _ = env.do(t, http.MethodPost, "/checkout/nope/success",
		`{"paymentId":"pay_1","signature":"sig"}`)
	assert.Equal(t, fiber.StatusNotFound, res.StatusCode)
}

func TestCheckoutSuccess_RequiresSignature(t *testing.T) {
	env := newTestEnv(t)

	res, _ := env.do(t, http.MethodPost, "/checkout/whatever/success", `{"paymentId":"pay_1"}`)
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}

func TestReconciliationPending_ForbiddenForCustomers(t *testing.T) {
	env := newTestEnv(t)

	res, _ := env.do(t, http.MethodGet, "/reconciliation/pending", "")
	assert.Equal(t, fiber.StatusForbidden, res.StatusCode)
}

// TestSettlementEndToEnd walks a 60000 run through the API the way the
// browser would: start, poll for each open checkout, report success,
// repeat until the run completes.
func TestSettlementEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	res, raw := env.do(t, http.MethodPost, "/settlements",
		`{"amount":60000,"totalDue":60000,"description":"cylinder dues"}`)
	require.Equal(t, fiber.StatusAccepted, res.StatusCode)

	var started struct {
		SettlementID string `json:"settlementId"`
	}
	require.NoError(t, sonic.Unmarshal(raw, &started))
	require.NotEmpty(t, started.SettlementID)

	type progressView struct {
		Phase             string `json:"phase"`
		Outcome           string `json:"outcome"`
		SettledTotal      int64  `json:"settledTotal"`
		ChunkCount        int    `json:"chunkCount"`
		CheckoutSessionID string `json:"checkoutSessionId"`
	}

	deadline := time.Now().Add(5 * time.Second)
	resolved := make(map[string]bool)
	var last progressView
	for time.Now().Before(deadline) {
		_, raw := env.do(t, http.MethodGet, "/settlements/"+started.SettlementID, "")
		require.NoError(t, sonic.Unmarshal(raw, &last))

		if last.Phase == "done" {
			break
		}
		if sid := last.CheckoutSessionID; sid != "" && !resolved[sid] {
			// Fetch the params the SDK would receive, then complete.
			cres, craw := env.do(t, http.MethodGet, "/settlements/"+started.SettlementID+"/checkout", "")
			if cres.StatusCode == fiber.StatusOK {
				var params struct {
					SessionID string `json:"sessionId"`
					OrderID   string `json:"orderId"`
					Amount    int64  `json:"amount"`
					Key       string `json:"key"`
				}
				require.NoError(t, sonic.Unmarshal(craw, &params))
				assert.Equal(t, sid, params.SessionID)
				assert.NotEmpty(t, params.OrderID)
				assert.Equal(t, "key_test", params.Key)

				sres, _ := env.do(t, http.MethodPost, "/checkout/"+sid+"/success",
					fmt.Sprintf(`{"paymentId":"pay_%s","signature":"sig_%s"}`, params.OrderID, params.OrderID))
				if sres.StatusCode == fiber.StatusOK {
					resolved[sid] = true
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, "done", last.Phase, "run did not finish in time")
	assert.Equal(t, "all_settled", last.Outcome)
	assert.Equal(t, int64(60000), last.SettledTotal)
	assert.Equal(t, 3, last.ChunkCount)
}

// TestSettlementCancelledViaAPI settles the first chunk then cancels the
// second, checking the informational terminal outcome.
func TestSettlementCancelledViaAPI(t *testing.T) {
	env := newTestEnv(t)

	res, raw := env.do(t, http.MethodPost, "/settlements",
		`{"amount":60000,"totalDue":60000}`)
	require.Equal(t, fiber.StatusAccepted, res.StatusCode)

	var started struct {
		SettlementID string `json:"settlementId"`
	}
	require.NoError(t, sonic.Unmarshal(raw, &started))

	type progressView struct {
		Phase             string `json:"phase"`
		Outcome           string `json:"outcome"`
		SettledTotal      int64  `json:"settledTotal"`
		CheckoutSessionID string `json:"checkoutSessionId"`
	}

	deadline := time.Now().Add(5 * time.Second)
	seen := 0
	resolved := make(map[string]bool)
	var last progressView
	for time.Now().Before(deadline) {
		_, raw := env.do(t, http.MethodGet, "/settlements/"+started.SettlementID, "")
		require.NoError(t, sonic.Unmarshal(raw, &last))

		if last.Phase == "done" {
			break
		}
		if sid := last.CheckoutSessionID; sid != "" && !resolved[sid] {
			var sres *http.Response
			if seen == 0 {
				cres, craw := env.do(t, http.MethodGet, "/settlements/"+started.SettlementID+"/checkout", "")
				if cres.StatusCode != fiber.StatusOK {
					continue
				}
				var params struct {
					OrderID string `json:"orderId"`
				}
				require.NoError(t, sonic.Unmarshal(craw, &params))
				sres, _ = env.do(t, http.MethodPost, "/checkout/"+sid+"/success",
					fmt.Sprintf(`{"paymentId":"pay_%s","signature":"sig"}`, params.OrderID))
			} else {
				sres, _ = env.do(t, http.MethodPost, "/checkout/"+sid+"/cancel", "")
			}
			if sres.StatusCode == fiber.StatusOK {
				resolved[sid] = true
				seen++
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.Equal(t, "done", last.Phase, "run did not finish in time")
	assert.Equal(t, "user_cancelled", last.Outcome)
	assert.Equal(t, int64(25000), last.SettledTotal, "the settled first chunk stays reported")
}
