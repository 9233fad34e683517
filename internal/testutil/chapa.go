package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/model"
	"sync"
	"testing"
	"time"
)

const FakeChapaSecret = "CHASECK_TEST-secret"

// FakeChapa is an httptest stand-in for the Chapa transaction API.
type FakeChapa struct {
	Server *httptest.Server

	mu               sync.Mutex
	initializeStatus int
	initializeDelay  time.Duration
	verifyHTTPStatus int
	verifyStatus     map[string]string
	initializeCalls  int
	verifyCalls      int
	lastInitialize   model.ChapaInitializeRequest
}

func NewFakeChapa(t *testing.T) *FakeChapa {
	t.Helper()

	f := &FakeChapa{
		initializeStatus: http.StatusOK,
		verifyHTTPStatus: http.StatusOK,
		verifyStatus:     map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transaction/initialize", f.handleInitialize)
	mux.HandleFunc("GET /transaction/verify/{txRef}", f.handleVerify)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)

	return f
}

func (f *FakeChapa) Config() config.Chapa {
	return config.Chapa{
		BaseApiURL:      f.Server.URL,
		SecretKey:       FakeChapaSecret,
		CallbackURL:     "http://localhost:8080/api/payments/verify/",
		ReturnURL:       "http://localhost:3000/payment/success",
		Currency:        "ETB",
		Timeout:         2 * time.Second,
		BreakerFailures: 100,
		BreakerCooldown: time.Second,
	}
}

func (f *FakeChapa) FailInitialize(statusCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initializeStatus = statusCode
}

func (f *FakeChapa) DelayInitialize(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initializeDelay = d
}

func (f *FakeChapa) FailVerify(statusCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyHTTPStatus = statusCode
}

// SetVerifyStatus sets data.status reported for txRef. Unknown refs report "success".
func (f *FakeChapa) SetVerifyStatus(txRef, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyStatus[txRef] = status
}

func (f *FakeChapa) InitializeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initializeCalls
}

func (f *FakeChapa) VerifyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls
}

func (f *FakeChapa) LastInitialize() model.ChapaInitializeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInitialize
}

func (f *FakeChapa) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+FakeChapaSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API Key", "status": "failed"})
		return
	}

	var req model.ChapaInitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad request", "status": "failed"})
		return
	}

	f.mu.Lock()
	f.initializeCalls++
	f.lastInitialize = req
	status := f.initializeStatus
	delay := f.initializeDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if status != http.StatusOK {
		writeJSON(w, status, map[string]any{"message": "initialize failed", "status": "failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Hosted Link",
		"status":  "success",
		"data": map[string]string{
			"checkout_url": "https://checkout.chapa.test/" + req.TxRef,
		},
	})
}

func (f *FakeChapa) handleVerify(w http.ResponseWriter, r *http.Request) {
	txRef := r.PathValue("txRef")

	f.mu.Lock()
	f.verifyCalls++
	httpStatus := f.verifyHTTPStatus
	status, ok := f.verifyStatus[txRef]
	f.mu.Unlock()

	if httpStatus != http.StatusOK {
		writeJSON(w, httpStatus, map[string]any{"message": "verify failed", "status": "failed"})
		return
	}
	if !ok {
		status = "success"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Payment details",
		"status":  "success",
		"data": map[string]string{
			"status":    status,
			"method":    "telebirr",
			"reference": "CHREF-" + txRef,
			"tx_ref":    txRef,
			"currency":  "ETB",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
