package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"lendledger/config"
	"lendledger/core"
	"lendledger/core/events"
	"lendledger/gateway/middleware"
	"lendledger/gateway/routes"
	nativecommon "lendledger/native/common"
	"lendledger/native/credit"
	"lendledger/storage/ledgerstore"
)

func main() {
	configPath := flag.String("config", "./lendledger.toml", "path to the daemon configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "lendledgerd ", log.LstdFlags|log.Lmsgprefix)
	if err := run(*configPath, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := ledgerstore.Open(filepath.Join(cfg.DataDir, "ledger.db"), nil)
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer store.Close()

	ledger := core.NewLedger(store)
	ledger.SetTransfer(&loggingTransfer{logger: logger})
	ledger.SetRevocationPeriods(cfg.RevocationPeriods)
	ledger.SetPauses(nativecommon.StaticPauses{
		Take:   cfg.Pauses.Take,
		Repay:  cfg.Pauses.Repay,
		Freeze: cfg.Pauses.Freeze,
		Revoke: cfg.Pauses.Revoke,
	})
	if cfg.PolicyAuthority != "" {
		authority, err := parseAddress(cfg.PolicyAuthority)
		if err != nil {
			return fmt.Errorf("parse policy authority: %w", err)
		}
		ledger.SetPolicyAuthority(authority)
	}

	if cfg.Journal.Enabled {
		journal, err := events.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open event journal: %w", err)
		}
		defer journal.Close()
		ledger.SetEmitter(journal)
		logger.Printf("event journal at %s", cfg.Journal.Path)
	}

	for _, raw := range cfg.Treasuries {
		treasury, err := parseAddress(raw)
		if err != nil {
			return fmt.Errorf("parse treasury %q: %w", raw, err)
		}
		if err := ledger.RegisterLiquidityPool(treasury, &loggingHooks{logger: logger, treasury: treasury}); err != nil {
			return fmt.Errorf("register treasury %q: %w", raw, err)
		}
		logger.Printf("registered liquidity pool %s", raw)
	}

	var auth *middleware.Authenticator
	if cfg.Auth.Enabled {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger)
	}
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.Metrics.ServiceName,
		LogRequests: cfg.Metrics.LogRequests,
		Enabled:     cfg.Metrics.Enabled,
	}, logger)

	handler := routes.New(routes.Config{
		Ledger:        ledger,
		Authenticator: auth,
		Observability: obs,
		Logger:        logger,
	})
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be 20 hex-encoded bytes")
	}
	copy(addr[:], raw)
	return addr, nil
}

// loggingTransfer stands in for an external custody integration: fund
// movements are acknowledged and logged but not executed anywhere. Deployments
// replace it with a real settlement backend.
type loggingTransfer struct {
	logger *log.Logger
}

func (t *loggingTransfer) Transfer(token, from, to [20]byte, amount *big.Int) error {
	t.logger.Printf("transfer token=%x %x -> %x amount=%s", token, from, to, amount)
	return nil
}

// loggingHooks is the default liquidity-pool binding: every hook accepts and
// logs its invocation.
type loggingHooks struct {
	logger   *log.Logger
	treasury [20]byte
}

func (h *loggingHooks) OnBeforeLoanTaken(loanID uint64, creditLine [20]byte) error {
	h.logger.Printf("pool %x: before loan %d taken (line %x)", h.treasury, loanID, creditLine)
	return nil
}

func (h *loggingHooks) OnAfterLoanTaken(loanID uint64, creditLine [20]byte) error {
	h.logger.Printf("pool %x: loan %d taken (line %x)", h.treasury, loanID, creditLine)
	return nil
}

func (h *loggingHooks) OnBeforeLoanPayment(loanID uint64, amount *big.Int) error {
	h.logger.Printf("pool %x: before payment of %s on loan %d", h.treasury, amount, loanID)
	return nil
}

func (h *loggingHooks) OnAfterLoanPayment(loanID uint64, amount *big.Int) error {
	h.logger.Printf("pool %x: payment of %s on loan %d", h.treasury, amount, loanID)
	return nil
}

func (h *loggingHooks) OnBeforeLoanRevocation(loanID uint64) error {
	h.logger.Printf("pool %x: before revocation of loan %d", h.treasury, loanID)
	return nil
}

func (h *loggingHooks) OnAfterLoanRevocation(loanID uint64) error {
	h.logger.Printf("pool %x: loan %d revoked", h.treasury, loanID)
	return nil
}

var _ credit.TreasuryHooks = (*loggingHooks)(nil)
