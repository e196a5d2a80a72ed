package routes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"lendledger/core"
	"lendledger/gateway/middleware"
	"lendledger/native/credit"
	"lendledger/storage/ledgerstore"
)

const (
	lenderHex    = "0000000000000000000000000000000000000001"
	borrowerHex  = "0000000000000000000000000000000000000002"
	authorityHex = "0000000000000000000000000000000000000003"
	lineHex      = "0000000000000000000000000000000000000004"
	tokenHex     = "00000000000000000000000000000000000000aa"
	treasuryHex  = "00000000000000000000000000000000000000bb"
)

type openBank struct{}

func (openBank) Transfer(_, _, _ [20]byte, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.New("bank: negative amount")
	}
	return nil
}

type passHooks struct{}

func (passHooks) OnBeforeLoanTaken(uint64, [20]byte) error   { return nil }
func (passHooks) OnAfterLoanTaken(uint64, [20]byte) error    { return nil }
func (passHooks) OnBeforeLoanPayment(uint64, *big.Int) error { return nil }
func (passHooks) OnAfterLoanPayment(uint64, *big.Int) error  { return nil }
func (passHooks) OnBeforeLoanRevocation(uint64) error        { return nil }
func (passHooks) OnAfterLoanRevocation(uint64) error         { return nil }

func mustAddr(t *testing.T, hexAddr string) [20]byte {
	t.Helper()
	addr, err := parseAddress(hexAddr)
	require.NoError(t, err)
	return addr
}

func newTestLedger(t *testing.T) *core.Ledger {
	t.Helper()
	store, err := ledgerstore.Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledger := core.NewLedger(store)
	ledger.SetTransfer(openBank{})
	ledger.SetPolicyAuthority(mustAddr(t, authorityHex))
	ledger.SetRevocationPeriods(2)
	now := time.Now().Unix()
	ledger.SetNowFunc(func() int64 { return now })
	require.NoError(t, ledger.RegisterLiquidityPool(mustAddr(t, treasuryHex), passHooks{}))
	return ledger
}

func newTestServer(t *testing.T, auth *middleware.Authenticator) (*httptest.Server, *core.Ledger) {
	t.Helper()
	ledger := newTestLedger(t)
	handler := New(Config{Ledger: ledger, Authenticator: auth})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, ledger
}

func doJSON(t *testing.T, method, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func lineConfigPayload() creditLineConfigPayload {
	return creditLineConfigPayload{
		Token:                    tokenHex,
		Treasury:                 treasuryHex,
		PeriodLength:             100,
		RateFactor:               1_000_000,
		InterestRatePrecision:    1,
		MinBorrowAmount:          "100",
		MaxBorrowAmount:          "10000",
		MinDurationInPeriods:     1,
		MaxDurationInPeriods:     12,
		MaxInterestRatePrimary:   100_000,
		MaxInterestRateSecondary: 200_000,
	}
}

func borrowerPayload() borrowerConfigPayload {
	return borrowerConfigPayload{
		Expiration:            1 << 40,
		MinBorrowAmount:       "100",
		MaxBorrowAmount:       "10000",
		MinDurationInPeriods:  1,
		MaxDurationInPeriods:  12,
		InterestRatePrimary:   5_000,
		InterestRateSecondary: 10_000,
		BorrowPolicy:          uint8(credit.PolicyMultipleActiveLoans),
	}
}

func setupCreditLine(t *testing.T, base string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, base+"/v1/credit-lines",
		map[string]string{"caller": lenderHex, "creditLine": lineHex}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, base+"/v1/credit-lines/"+lineHex+"/config",
		map[string]interface{}{"caller": lenderHex, "config": lineConfigPayload()}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, base+"/v1/credit-lines/"+lineHex+"/borrowers/"+borrowerHex,
		map[string]interface{}{"caller": authorityHex, "config": borrowerPayload()}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	setupCreditLine(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/credit-lines/"+lineHex+"/quote",
		map[string]interface{}{"borrower": borrowerHex, "amount": "1000", "durationInPeriods": 5}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quote map[string]interface{}
	decodeBody(t, resp, &quote)
	require.Equal(t, treasuryHex, quote["treasury"])

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/loans", map[string]interface{}{
		"caller": borrowerHex, "creditLine": lineHex, "amount": "1000", "durationInPeriods": 5,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]uint64
	decodeBody(t, resp, &created)
	require.Equal(t, uint64(1), created["loanId"])

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/loans/%d", srv.URL, created["loanId"]), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loan loanPayload
	decodeBody(t, resp, &loan)
	require.Equal(t, "active", loan.Status)
	require.Equal(t, "1000", loan.TrackedBalance)
	require.Equal(t, lineHex, loan.CreditLine)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/v1/loans/%d/preview", srv.URL, created["loanId"]), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var preview map[string]interface{}
	decodeBody(t, resp, &preview)
	require.Equal(t, "1000", preview["outstandingBalance"])

	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/v1/loans/%d/repay", srv.URL, created["loanId"]),
		map[string]string{"caller": borrowerHex, "amount": "all"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &loan)
	require.Equal(t, "settled", loan.Status)
	require.Equal(t, "0", loan.TrackedBalance)
}

func TestFreezeAndRevokeOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	setupCreditLine(t, srv.URL)

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/loans", map[string]interface{}{
		"caller": borrowerHex, "creditLine": lineHex, "amount": "1000", "durationInPeriods": 5,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/loans/1/freeze",
		map[string]string{"caller": lenderHex}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var loan loanPayload
	decodeBody(t, resp, &loan)
	require.Equal(t, "frozen", loan.Status)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/loans/1/freeze",
		map[string]string{"caller": lenderHex}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/loans/1/unfreeze",
		map[string]string{"caller": lenderHex}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/loans/1/revoke",
		map[string]string{"caller": lenderHex}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &loan)
	require.Equal(t, "revoked", loan.Status)
}

func TestErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	setupCreditLine(t, srv.URL)

	// Unknown loan.
	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/loans/99", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Wrong caller for borrower configuration.
	resp = doJSON(t, http.MethodPut, srv.URL+"/v1/credit-lines/"+lineHex+"/borrowers/"+borrowerHex,
		map[string]interface{}{"caller": lenderHex, "config": borrowerPayload()}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Duplicate registration.
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/credit-lines",
		map[string]string{"caller": lenderHex, "creditLine": lineHex}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Malformed address.
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/credit-lines",
		map[string]string{"caller": "zz", "creditLine": lineHex}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Amount outside the configured range.
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/loans", map[string]interface{}{
		"caller": borrowerHex, "creditLine": lineHex, "amount": "50", "durationInPeriods": 5,
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func signToken(t *testing.T, secret, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "lendledger-tests",
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthScopes(t *testing.T) {
	const secret = "test-secret"
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: secret,
		Issuer:     "lendledger-tests",
	}, nil)
	srv, _ := newTestServer(t, auth)

	// No token.
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/credit-lines",
		map[string]string{"caller": lenderHex, "creditLine": lineHex}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Read scope cannot mutate.
	readToken := signToken(t, secret, middleware.ScopeLedgerRead)
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/credit-lines",
		map[string]string{"caller": lenderHex, "creditLine": lineHex},
		map[string]string{"Authorization": "Bearer " + readToken})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Write scope can.
	writeToken := signToken(t, secret, middleware.ScopeLedgerWrite)
	resp = doJSON(t, http.MethodPost, srv.URL+"/v1/credit-lines",
		map[string]string{"caller": lenderHex, "creditLine": lineHex},
		map[string]string{"Authorization": "Bearer " + writeToken})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Garbage token.
	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/loans/1", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndRequestID(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = doJSON(t, http.MethodGet, srv.URL+"/healthz", nil,
		map[string]string{"X-Request-ID": "fixed-id"})
	require.Equal(t, "fixed-id", resp.Header.Get("X-Request-ID"))
}
