package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendledger/core"
	"lendledger/gateway/middleware"
	nativecommon "lendledger/native/common"
	"lendledger/native/credit"
)

// CreditRoutes exposes the lending ledger over HTTP.
type CreditRoutes struct {
	ledger *core.Ledger
	logger *log.Logger
}

func NewCreditRoutes(ledger *core.Ledger, logger *log.Logger) *CreditRoutes {
	if logger == nil {
		logger = log.Default()
	}
	return &CreditRoutes{ledger: ledger, logger: logger}
}

// Mount attaches the ledger routes. Reads require the read scope, mutations
// the write scope; borrower configuration additionally requires admin.
func (c *CreditRoutes) Mount(r chi.Router, auth *middleware.Authenticator) {
	r.Group(func(gr chi.Router) {
		if auth != nil {
			gr.Use(auth.Middleware(middleware.ScopeLedgerRead))
		}
		gr.Get("/credit-lines/{line}/config", c.getCreditLineConfig)
		gr.Get("/credit-lines/{line}/access/{address}", c.getAccess)
		gr.Get("/credit-lines/{line}/borrowers/{borrower}", c.getBorrowerConfig)
		gr.Get("/credit-lines/{line}/borrowers/{borrower}/state", c.getBorrowerState)
		gr.Get("/loans/{id}", c.getLoan)
		gr.Get("/loans/{id}/preview", c.getLoanPreview)
		gr.Post("/credit-lines/{line}/quote", c.quoteLoanTerms)
	})
	r.Group(func(gr chi.Router) {
		if auth != nil {
			gr.Use(auth.Middleware(middleware.ScopeLedgerWrite))
		}
		gr.Post("/credit-lines", c.registerCreditLine)
		gr.Put("/credit-lines/{line}/config", c.configureCreditLine)
		gr.Put("/credit-lines/{line}/aliases/{alias}", c.configureAlias)
		gr.Post("/loans", c.takeLoan)
		gr.Post("/loans/{id}/repay", c.repayLoan)
		gr.Post("/loans/{id}/auto-repay", c.autoRepayLoan)
		gr.Post("/loans/{id}/freeze", c.freezeLoan)
		gr.Post("/loans/{id}/unfreeze", c.unfreezeLoan)
		gr.Post("/loans/{id}/duration", c.updateLoanDuration)
		gr.Post("/loans/{id}/interest-rate/primary", c.updateRatePrimary)
		gr.Post("/loans/{id}/interest-rate/secondary", c.updateRateSecondary)
		gr.Post("/loans/{id}/revoke", c.revokeLoan)
	})
	r.Group(func(gr chi.Router) {
		if auth != nil {
			gr.Use(auth.Middleware(middleware.ScopeLedgerAdmin))
		}
		gr.Put("/credit-lines/{line}/borrowers/{borrower}", c.configureBorrower)
		gr.Post("/credit-lines/{line}/borrowers", c.configureBorrowers)
	})
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(addr) {
		return addr, errors.New("address must be 20 hex-encoded bytes")
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, errors.New("amount must be a decimal integer")
	}
	return amount, nil
}

func formatAddress(addr [20]byte) string {
	return hex.EncodeToString(addr[:])
}

func pathAddress(r *http.Request, name string) ([20]byte, error) {
	return parseAddress(chi.URLParam(r, name))
}

func pathLoanID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, errors.New("loan id must be a positive integer")
	}
	return id, nil
}

func decodeJSON(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (c *CreditRoutes) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrFlowPaused):
		writeError(w, http.StatusServiceUnavailable, err)
	case credit.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case credit.IsUnauthorized(err):
		writeError(w, http.StatusForbidden, err)
	case credit.IsStateConflict(err):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

type creditLineConfigPayload struct {
	Token                    string `json:"token"`
	Treasury                 string `json:"treasury"`
	PeriodLength             uint64 `json:"periodLength"`
	RateFactor               uint64 `json:"rateFactor"`
	InterestRatePrecision    uint64 `json:"interestRatePrecision"`
	MinBorrowAmount          string `json:"minBorrowAmount"`
	MaxBorrowAmount          string `json:"maxBorrowAmount"`
	MinDurationInPeriods     uint64 `json:"minDurationInPeriods"`
	MaxDurationInPeriods     uint64 `json:"maxDurationInPeriods"`
	MinInterestRatePrimary   uint64 `json:"minInterestRatePrimary"`
	MaxInterestRatePrimary   uint64 `json:"maxInterestRatePrimary"`
	MinInterestRateSecondary uint64 `json:"minInterestRateSecondary"`
	MaxInterestRateSecondary uint64 `json:"maxInterestRateSecondary"`
	MinAddonFixedRate        uint64 `json:"minAddonFixedRate"`
	MaxAddonFixedRate        uint64 `json:"maxAddonFixedRate"`
	MinAddonPeriodRate       uint64 `json:"minAddonPeriodRate"`
	MaxAddonPeriodRate       uint64 `json:"maxAddonPeriodRate"`
}

func (p *creditLineConfigPayload) toConfig() (*credit.CreditLineConfig, error) {
	token, err := parseAddress(p.Token)
	if err != nil {
		return nil, err
	}
	treasury, err := parseAddress(p.Treasury)
	if err != nil {
		return nil, err
	}
	minBorrow, err := parseAmount(p.MinBorrowAmount)
	if err != nil {
		return nil, err
	}
	maxBorrow, err := parseAmount(p.MaxBorrowAmount)
	if err != nil {
		return nil, err
	}
	return &credit.CreditLineConfig{
		Token:                    token,
		Treasury:                 treasury,
		PeriodLength:             p.PeriodLength,
		RateFactor:               p.RateFactor,
		InterestRatePrecision:    p.InterestRatePrecision,
		MinBorrowAmount:          minBorrow,
		MaxBorrowAmount:          maxBorrow,
		MinDurationInPeriods:     p.MinDurationInPeriods,
		MaxDurationInPeriods:     p.MaxDurationInPeriods,
		MinInterestRatePrimary:   p.MinInterestRatePrimary,
		MaxInterestRatePrimary:   p.MaxInterestRatePrimary,
		MinInterestRateSecondary: p.MinInterestRateSecondary,
		MaxInterestRateSecondary: p.MaxInterestRateSecondary,
		MinAddonFixedRate:        p.MinAddonFixedRate,
		MaxAddonFixedRate:        p.MaxAddonFixedRate,
		MinAddonPeriodRate:       p.MinAddonPeriodRate,
		MaxAddonPeriodRate:       p.MaxAddonPeriodRate,
	}, nil
}

func creditLineConfigToPayload(cfg *credit.CreditLineConfig) creditLineConfigPayload {
	return creditLineConfigPayload{
		Token:                    formatAddress(cfg.Token),
		Treasury:                 formatAddress(cfg.Treasury),
		PeriodLength:             cfg.PeriodLength,
		RateFactor:               cfg.RateFactor,
		InterestRatePrecision:    cfg.InterestRatePrecision,
		MinBorrowAmount:          cfg.MinBorrowAmount.String(),
		MaxBorrowAmount:          cfg.MaxBorrowAmount.String(),
		MinDurationInPeriods:     cfg.MinDurationInPeriods,
		MaxDurationInPeriods:     cfg.MaxDurationInPeriods,
		MinInterestRatePrimary:   cfg.MinInterestRatePrimary,
		MaxInterestRatePrimary:   cfg.MaxInterestRatePrimary,
		MinInterestRateSecondary: cfg.MinInterestRateSecondary,
		MaxInterestRateSecondary: cfg.MaxInterestRateSecondary,
		MinAddonFixedRate:        cfg.MinAddonFixedRate,
		MaxAddonFixedRate:        cfg.MaxAddonFixedRate,
		MinAddonPeriodRate:       cfg.MinAddonPeriodRate,
		MaxAddonPeriodRate:       cfg.MaxAddonPeriodRate,
	}
}

type borrowerConfigPayload struct {
	Expiration            int64  `json:"expiration"`
	MinBorrowAmount       string `json:"minBorrowAmount"`
	MaxBorrowAmount       string `json:"maxBorrowAmount"`
	MinDurationInPeriods  uint64 `json:"minDurationInPeriods"`
	MaxDurationInPeriods  uint64 `json:"maxDurationInPeriods"`
	InterestRatePrimary   uint64 `json:"interestRatePrimary"`
	InterestRateSecondary uint64 `json:"interestRateSecondary"`
	AddonFixedRate        uint64 `json:"addonFixedRate"`
	AddonPeriodRate       uint64 `json:"addonPeriodRate"`
	BorrowPolicy          uint8  `json:"borrowPolicy"`
	AutoRepayment         bool   `json:"autoRepayment"`
}

func (p *borrowerConfigPayload) toConfig() (*credit.BorrowerConfig, error) {
	minBorrow, err := parseAmount(p.MinBorrowAmount)
	if err != nil {
		return nil, err
	}
	maxBorrow, err := parseAmount(p.MaxBorrowAmount)
	if err != nil {
		return nil, err
	}
	return &credit.BorrowerConfig{
		Expiration:            p.Expiration,
		MinBorrowAmount:       minBorrow,
		MaxBorrowAmount:       maxBorrow,
		MinDurationInPeriods:  p.MinDurationInPeriods,
		MaxDurationInPeriods:  p.MaxDurationInPeriods,
		InterestRatePrimary:   p.InterestRatePrimary,
		InterestRateSecondary: p.InterestRateSecondary,
		AddonFixedRate:        p.AddonFixedRate,
		AddonPeriodRate:       p.AddonPeriodRate,
		BorrowPolicy:          credit.BorrowPolicy(p.BorrowPolicy),
		AutoRepayment:         p.AutoRepayment,
	}, nil
}

func borrowerConfigToPayload(cfg *credit.BorrowerConfig) borrowerConfigPayload {
	return borrowerConfigPayload{
		Expiration:            cfg.Expiration,
		MinBorrowAmount:       cfg.MinBorrowAmount.String(),
		MaxBorrowAmount:       cfg.MaxBorrowAmount.String(),
		MinDurationInPeriods:  cfg.MinDurationInPeriods,
		MaxDurationInPeriods:  cfg.MaxDurationInPeriods,
		InterestRatePrimary:   cfg.InterestRatePrimary,
		InterestRateSecondary: cfg.InterestRateSecondary,
		AddonFixedRate:        cfg.AddonFixedRate,
		AddonPeriodRate:       cfg.AddonPeriodRate,
		BorrowPolicy:          uint8(cfg.BorrowPolicy),
		AutoRepayment:         cfg.AutoRepayment,
	}
}

type loanPayload struct {
	ID                    uint64 `json:"id"`
	Status                string `json:"status"`
	Borrower              string `json:"borrower"`
	Lender                string `json:"lender"`
	CreditLine            string `json:"creditLine"`
	Token                 string `json:"token"`
	Treasury              string `json:"treasury"`
	StartTimestamp        int64  `json:"startTimestamp"`
	TrackedTimestamp      int64  `json:"trackedTimestamp"`
	FreezeTimestamp       int64  `json:"freezeTimestamp,omitempty"`
	PeriodLength          uint64 `json:"periodLength"`
	RateFactor            uint64 `json:"rateFactor"`
	InterestRatePrecision uint64 `json:"interestRatePrecision"`
	DurationInPeriods     uint64 `json:"durationInPeriods"`
	InterestRatePrimary   uint64 `json:"interestRatePrimary"`
	InterestRateSecondary uint64 `json:"interestRateSecondary"`
	BorrowAmount          string `json:"borrowAmount"`
	AddonAmount           string `json:"addonAmount"`
	RepaidAmount          string `json:"repaidAmount"`
	TrackedBalance        string `json:"trackedBalance"`
	AutoRepayment         bool   `json:"autoRepayment"`
}

func loanToPayload(id uint64, loan *credit.Loan) loanPayload {
	return loanPayload{
		ID:                    id,
		Status:                loan.Status().String(),
		Borrower:              formatAddress(loan.Borrower),
		Lender:                formatAddress(loan.Lender),
		CreditLine:            formatAddress(loan.CreditLine),
		Token:                 formatAddress(loan.Token),
		Treasury:              formatAddress(loan.Treasury),
		StartTimestamp:        loan.StartTimestamp,
		TrackedTimestamp:      loan.TrackedTimestamp,
		FreezeTimestamp:       loan.FreezeTimestamp,
		PeriodLength:          loan.PeriodLength,
		RateFactor:            loan.RateFactor,
		InterestRatePrecision: loan.InterestRatePrecision,
		DurationInPeriods:     loan.DurationInPeriods,
		InterestRatePrimary:   loan.InterestRatePrimary,
		InterestRateSecondary: loan.InterestRateSecondary,
		BorrowAmount:          loan.BorrowAmount.String(),
		AddonAmount:           loan.AddonAmount.String(),
		RepaidAmount:          loan.RepaidAmount.String(),
		TrackedBalance:        loan.TrackedBalance.String(),
		AutoRepayment:         loan.AutoRepayment,
	}
}

func (c *CreditRoutes) registerCreditLine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller     string `json:"caller"`
		CreditLine string `json:"creditLine"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	line, err := parseAddress(req.CreditLine)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.ledger.RegisterCreditLine(caller, line); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"creditLine": formatAddress(line)})
}

func (c *CreditRoutes) configureCreditLine(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string                  `json:"caller"`
		Config creditLineConfigPayload `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := req.Config.toConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.ledger.ConfigureCreditLine(caller, line, cfg); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creditLineConfigToPayload(cfg))
}

func (c *CreditRoutes) getCreditLineConfig(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := c.ledger.CreditLineConfiguration(line)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, creditLineConfigToPayload(cfg))
}

func (c *CreditRoutes) configureAlias(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	alias, err := pathAddress(r, "alias")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller  string `json:"caller"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.ledger.ConfigureAlias(caller, line, alias, req.Enabled); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (c *CreditRoutes) getAccess(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	address, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := c.ledger.IsLenderOrAlias(line, address)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"lenderOrAlias": ok})
}

func (c *CreditRoutes) configureBorrower(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	borrower, err := pathAddress(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string                `json:"caller"`
		Config borrowerConfigPayload `json:"config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := req.Config.toConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.ledger.ConfigureBorrower(caller, line, borrower, cfg); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowerConfigToPayload(cfg))
}

func (c *CreditRoutes) configureBorrowers(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller    string `json:"caller"`
		Borrowers []struct {
			Address string                `json:"address"`
			Config  borrowerConfigPayload `json:"config"`
		} `json:"borrowers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	borrowers := make([][20]byte, 0, len(req.Borrowers))
	cfgs := make([]*credit.BorrowerConfig, 0, len(req.Borrowers))
	for _, entry := range req.Borrowers {
		borrower, err := parseAddress(entry.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cfg, err := entry.Config.toConfig()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		borrowers = append(borrowers, borrower)
		cfgs = append(cfgs, cfg)
	}
	if err := c.ledger.ConfigureBorrowers(caller, line, borrowers, cfgs); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"configured": len(borrowers)})
}

func (c *CreditRoutes) getBorrowerConfig(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	borrower, err := pathAddress(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := c.ledger.BorrowerConfiguration(line, borrower)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowerConfigToPayload(cfg))
}

func (c *CreditRoutes) getBorrowerState(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	borrower, err := pathAddress(r, "borrower")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := c.ledger.BorrowerStateView(line, borrower)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activeLoanCount":       state.ActiveLoanCount,
		"closedLoanCount":       state.ClosedLoanCount,
		"totalActiveLoanAmount": state.TotalActiveLoanAmount.String(),
		"totalClosedLoanAmount": state.TotalClosedLoanAmount.String(),
		"allowance":             state.Allowance.String(),
	})
}

func (c *CreditRoutes) quoteLoanTerms(w http.ResponseWriter, r *http.Request) {
	line, err := pathAddress(r, "line")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Borrower          string `json:"borrower"`
		Amount            string `json:"amount"`
		DurationInPeriods uint64 `json:"durationInPeriods"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	terms, err := c.ledger.DetermineLoanTerms(line, borrower, amount, req.DurationInPeriods)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":                 formatAddress(terms.Token),
		"treasury":              formatAddress(terms.Treasury),
		"periodLength":          terms.PeriodLength,
		"rateFactor":            terms.RateFactor,
		"durationInPeriods":     terms.DurationInPeriods,
		"interestRatePrimary":   terms.InterestRatePrimary,
		"interestRateSecondary": terms.InterestRateSecondary,
		"addonAmount":           terms.AddonAmount.String(),
		"autoRepayment":         terms.AutoRepayment,
	})
}

func (c *CreditRoutes) takeLoan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller            string `json:"caller"`
		CreditLine        string `json:"creditLine"`
		Amount            string `json:"amount"`
		DurationInPeriods uint64 `json:"durationInPeriods"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	line, err := parseAddress(req.CreditLine)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := c.ledger.TakeLoan(caller, line, amount, req.DurationInPeriods)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"loanId": id})
}

type repayRequest struct {
	Caller string `json:"caller"`
	// Amount is a decimal amount, or the literal "all" to settle the full
	// projected balance. Omitting it also settles in full.
	Amount string `json:"amount,omitempty"`
}

func (req *repayRequest) amountValue() (*big.Int, error) {
	trimmed := strings.TrimSpace(req.Amount)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		return credit.RepayAll, nil
	}
	return parseAmount(trimmed)
}

func (c *CreditRoutes) repayLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := req.amountValue()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.ledger.RepayLoan(caller, id, amount); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	c.respondWithLoan(w, id)
}

func (c *CreditRoutes) autoRepayLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req repayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := req.amountValue()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.ledger.AutoRepayLoan(caller, id, amount); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	c.respondWithLoan(w, id)
}

type loanActionRequest struct {
	Caller string `json:"caller"`
}

func (c *CreditRoutes) loanAction(w http.ResponseWriter, r *http.Request, action func(caller [20]byte, id uint64) error) {
	id, err := pathLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req loanActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := action(caller, id); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	c.respondWithLoan(w, id)
}

func (c *CreditRoutes) freezeLoan(w http.ResponseWriter, r *http.Request) {
	c.loanAction(w, r, c.ledger.FreezeLoan)
}

func (c *CreditRoutes) unfreezeLoan(w http.ResponseWriter, r *http.Request) {
	c.loanAction(w, r, c.ledger.UnfreezeLoan)
}

func (c *CreditRoutes) revokeLoan(w http.ResponseWriter, r *http.Request) {
	c.loanAction(w, r, c.ledger.RevokeLoan)
}

func (c *CreditRoutes) updateLoanDuration(w http.ResponseWriter, r *http.Request) {
	id, err := pathLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller            string `json:"caller"`
		DurationInPeriods uint64 `json:"durationInPeriods"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := c.ledger.UpdateLoanDuration(caller, id, req.DurationInPeriods); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	c.respondWithLoan(w, id)
}

func (c *CreditRoutes) updateRatePrimary(w http.ResponseWriter, r *http.Request) {
	c.updateRate(w, r, c.ledger.UpdateLoanInterestRatePrimary)
}

func (c *CreditRoutes) updateRateSecondary(w http.ResponseWriter, r *http.Request) {
	c.updateRate(w, r, c.ledger.UpdateLoanInterestRateSecondary)
}

func (c *CreditRoutes) updateRate(w http.ResponseWriter, r *http.Request, update func(caller [20]byte, id uint64, rate uint64) error) {
	id, err := pathLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Caller string `json:"caller"`
		Rate   uint64 `json:"rate"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := update(caller, id, req.Rate); err != nil {
		c.writeLedgerError(w, err)
		return
	}
	c.respondWithLoan(w, id)
}

func (c *CreditRoutes) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c.respondWithLoan(w, id)
}

func (c *CreditRoutes) getLoanPreview(w http.ResponseWriter, r *http.Request) {
	id, err := pathLoanID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var timestamp int64
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		timestamp, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("timestamp must be a unix timestamp"))
			return
		}
	}
	preview, err := c.ledger.GetLoanPreview(id, timestamp)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"periodIndex":        preview.PeriodIndex,
		"outstandingBalance": preview.OutstandingBalance.String(),
	})
}

func (c *CreditRoutes) respondWithLoan(w http.ResponseWriter, id uint64) {
	loan, err := c.ledger.GetLoanState(id)
	if err != nil {
		c.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToPayload(id, loan))
}
