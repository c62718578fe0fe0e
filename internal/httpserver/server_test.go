package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/careerforge/coinwallet/internal/identity"
	"github.com/careerforge/coinwallet/internal/store/gormstore"
	"github.com/careerforge/coinwallet/pkg/wallet"
)

const (
	testUserID     = "user-1"
	testSigningKey = "test-signing-key"
	testIssuer     = "careerforge"
)

func newTestRouter(test *testing.T, verifier *identity.Verifier) http.Handler {
	test.Helper()
	database, err := gorm.Open(sqlite.Open(test.TempDir()+"/wallet.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	if err := gormstore.Migrate(database); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	service, err := wallet.NewService(gormstore.New(database), func() int64 { return time.Now().UTC().Unix() })
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	server := New(Config{ListenAddr: "127.0.0.1:0"}, service, zap.NewNop(), verifier)
	return server.Router()
}

func doJSON(test *testing.T, router http.Handler, method string, path string, body string) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	test.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func creditCoins(test *testing.T, router http.Handler, amount int64) {
	test.Helper()
	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/credit",
		`{"amount":`+strconv.FormatInt(amount, 10)+`,"source":"subscription"}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("credit failed: %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	recorder := doJSON(test, router, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestBalanceStartsAtZero(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/balance", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["balance"].(float64) != 0 {
		test.Fatalf("expected zero balance, got %v", payload["balance"])
	}
}

func TestCreditThenBalance(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)

	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/balance", "")
	payload := decodeBody(test, recorder)
	if payload["balance"].(float64) != 100 {
		test.Fatalf("expected balance 100, got %v", payload["balance"])
	}
}

func TestCreditRejectsNonPositiveAmount(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/credit", `{"amount":0}`)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestCreditRejectsUnknownSource(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/credit", `{"amount":10,"source":"lottery"}`)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestDeductInsufficientFundsReturnsPaymentRequired(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 30)

	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/deduct", `{"amount":50}`)
	if recorder.Code != http.StatusPaymentRequired {
		test.Fatalf("expected 402, got %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["balance"].(float64) != 30 {
		test.Fatalf("expected balance 30 in error payload, got %v", payload["balance"])
	}
}

func TestCanAfford(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 70)

	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/can-afford?price=50", "")
	payload := decodeBody(test, recorder)
	if payload["status"].(bool) != true {
		test.Fatalf("expected affordable, got %v", payload)
	}

	recorder = doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/can-afford?price=71", "")
	payload = decodeBody(test, recorder)
	if payload["status"].(bool) != false {
		test.Fatalf("expected not affordable, got %v", payload)
	}

	recorder = doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/can-afford?price=-5", "")
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 for invalid price, got %d", recorder.Code)
	}
}

func TestReserveCompleteRoundTrip(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)

	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/reserve",
		`{"amount":40,"transactionId":"tx-1","metadata":{"context":"enhancement"}}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("reserve failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["status"].(string) != "pending" {
		test.Fatalf("expected pending status, got %v", payload["status"])
	}
	if payload["balance"].(float64) != 60 {
		test.Fatalf("expected balance 60 after reserve, got %v", payload["balance"])
	}

	recorder = doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/complete", `{"transactionId":"tx-1"}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("complete failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/transactions/tx-1", "")
	payload = decodeBody(test, recorder)
	if payload["exists"].(bool) != true || payload["status"].(string) != "completed" {
		test.Fatalf("unexpected status payload: %v", payload)
	}

	recorder = doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/balance", "")
	payload = decodeBody(test, recorder)
	if payload["balance"].(float64) != 60 {
		test.Fatalf("completion must not move balance, got %v", payload["balance"])
	}
}

func TestReserveGeneratesTransactionIDWhenOmitted(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)

	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/reserve", `{"amount":10}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("reserve failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["transactionId"].(string) == "" {
		test.Fatalf("expected generated transaction id, got %v", payload)
	}
}

func TestReserveDuplicateTransactionConflict(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)

	first := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/reserve", `{"amount":10,"transactionId":"tx-dup"}`)
	if first.Code != http.StatusOK {
		test.Fatalf("first reserve failed: %d %s", first.Code, first.Body.String())
	}
	second := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/reserve", `{"amount":10,"transactionId":"tx-dup"}`)
	if second.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d %s", second.Code, second.Body.String())
	}
}

func TestReserveInsufficientFunds(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 5)

	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/reserve", `{"amount":10,"transactionId":"tx-poor"}`)
	if recorder.Code != http.StatusPaymentRequired {
		test.Fatalf("expected 402, got %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["status"].(string) != "failed" {
		test.Fatalf("expected failed status, got %v", payload)
	}
	if payload["balance"].(float64) != 5 {
		test.Fatalf("expected balance 5 in failure payload, got %v", payload["balance"])
	}
}

func TestRefundRestoresBalance(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)

	if recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/reserve", `{"amount":40,"transactionId":"tx-r"}`); recorder.Code != http.StatusOK {
		test.Fatalf("reserve failed: %d", recorder.Code)
	}
	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/refund", `{"transactionId":"tx-r","reason":"generation failed"}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("refund failed: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/balance", "")
	payload := decodeBody(test, recorder)
	if payload["balance"].(float64) != 100 {
		test.Fatalf("expected restored balance 100, got %v", payload["balance"])
	}
}

func TestRefundUnknownTransactionNotFound(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/refund", `{"transactionId":"tx-missing"}`)
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d %s", recorder.Code, recorder.Body.String())
	}
}

func TestTransactionStatusMissingToken(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/transactions/tx-absent", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(test, recorder)
	if payload["exists"].(bool) != false {
		test.Fatalf("expected exists=false, got %v", payload)
	}
}

func TestTransactionsListsEntries(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)
	if recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/deduct", `{"amount":30}`); recorder.Code != http.StatusOK {
		test.Fatalf("deduct failed: %d", recorder.Code)
	}

	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/transactions", "")
	payload := decodeBody(test, recorder)
	transactions := payload["transactions"].([]interface{})
	if len(transactions) != 2 {
		test.Fatalf("expected 2 transactions, got %d", len(transactions))
	}

	recorder = doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/transactions?limit=bogus", "")
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400 for invalid limit, got %d", recorder.Code)
	}
}

func TestBreakdownEndpoint(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 60)
	if recorder := doJSON(test, router, http.MethodPost, "/api/wallet/"+testUserID+"/credit", `{"amount":40,"source":"bonus"}`); recorder.Code != http.StatusOK {
		test.Fatalf("bonus credit failed: %d", recorder.Code)
	}

	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/breakdown", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("breakdown failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["totalCredited"].(float64) != 100 {
		test.Fatalf("expected total 100, got %v", payload["totalCredited"])
	}
	if len(payload["bySource"].([]interface{})) != 2 {
		test.Fatalf("expected 2 sources, got %v", payload["bySource"])
	}
}

func TestEnhancedBalanceEndpoint(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)

	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/enhanced-balance", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("enhanced balance failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["availableCoins"].(float64) != 100 {
		test.Fatalf("expected 100 available, got %v", payload["availableCoins"])
	}
	if payload["summary"].(string) == "" {
		test.Fatalf("expected a summary string")
	}
}

func TestSubscriptionStatsEndpoint(test *testing.T) {
	test.Parallel()
	router := newTestRouter(test, nil)
	creditCoins(test, router, 100)

	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/subscription-stats", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("subscription stats failed: %d %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	subscription := payload["subscription"].(map[string]interface{})
	if subscription["totalCoins"].(float64) != 100 {
		test.Fatalf("expected 100 subscription coins, got %v", subscription["totalCoins"])
	}
}

func signTestToken(test *testing.T, subject string) string {
	test.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return token
}

func TestAuthRequiredWhenVerifierConfigured(test *testing.T) {
	test.Parallel()
	verifier, err := identity.New(identity.Config{SigningKey: []byte(testSigningKey), Issuer: testIssuer})
	if err != nil {
		test.Fatalf("verifier init failed: %v", err)
	}
	router := newTestRouter(test, verifier)

	recorder := doJSON(test, router, http.MethodGet, "/api/wallet/"+testUserID+"/balance", "")
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/wallet/"+testUserID+"/balance", nil)
	request.Header.Set("Authorization", "Bearer "+signTestToken(test, testUserID))
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		test.Fatalf("expected 200 with valid token, got %d %s", response.Code, response.Body.String())
	}

	request = httptest.NewRequest(http.MethodGet, "/api/wallet/"+testUserID+"/balance", nil)
	request.Header.Set("Authorization", "Bearer "+signTestToken(test, "someone-else"))
	response = httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusForbidden {
		test.Fatalf("expected 403 for subject mismatch, got %d", response.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/api/wallet/"+testUserID+"/balance", nil)
	request.Header.Set("Authorization", "Bearer garbage")
	response = httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401 for invalid token, got %d", response.Code)
	}
}
