// Command terminal runs one checkout in the terminal.
//
//	terminal -kind send_money -amount 2500 -recipient @ada -description lunch
//
// The amount is in naira. Transfers go to the transaction-service when
// TRANSACTION_SERVICE_URL is set; otherwise every kind is simulated.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/transfa/payflow/internal/app"
	"github.com/transfa/payflow/internal/config"
	"github.com/transfa/payflow/internal/domain"
	"github.com/transfa/payflow/internal/terminal"
	"github.com/transfa/payflow/pkg/logger"
	"github.com/transfa/payflow/pkg/transactionclient"
	"go.uber.org/zap"
)

func main() {
	kind := flag.String("kind", string(domain.KindSendMoney), "transaction type: send_money, airtime, data, cable_tv, cash_out, bill_payment")
	amount := flag.Float64("amount", 0, "amount in naira")
	recipient := flag.String("recipient", "", "username, phone number, smartcard, account number or customer reference")
	description := flag.String("description", "", "optional note")
	token := flag.String("token", os.Getenv("PAYFLOW_TOKEN"), "bearer token for the transaction service")
	logPath := flag.String("log", "", "write logs to this file")
	balance := flag.Float64("balance", 1_000_000, "simulated wallet balance in naira")
	flag.Parse()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	log := zap.NewNop()
	if *logPath != "" {
		if log, err = logger.NewFile(cfg.AppEnv, *logPath); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}
	defer log.Sync() //nolint:errcheck

	var operation app.Operation = app.NewSimulatedOperation(toKobo(*balance), 750*time.Millisecond, nil)
	if cfg.TransactionServiceURL != "" {
		operation = app.KindRouter{
			Routes: map[domain.TransactionKind]app.Operation{
				domain.KindSendMoney: transactionclient.NewClient(cfg.TransactionServiceURL, transactionclient.WithServiceToken(cfg.TransactionServiceToken)),
			},
			Default: operation,
		}
	}

	ws, err := app.NewWorkspace("terminal", app.WorkspaceConfig{
		Operation:          operation,
		Limits:             app.Limits{MaxAmount: cfg.MaxTransactionAmountKobo},
		PINLength:          cfg.PINLength,
		MaxAttempts:        cfg.PINMaxAttempts,
		AllowBiometric:     cfg.BiometricEnabled,
		MismatchResetDelay: cfg.MismatchResetDelay(),
		ResendCooldown:     cfg.PINResendCooldown(),
		SuccessDuration:    cfg.SuccessDuration(),
		ErrorDuration:      cfg.ErrorDuration(),
		ToastTTL:           cfg.ToastTTL(),
		OperationTimeout:   cfg.OperationTimeout(),
		Logger:             log,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer ws.Close()

	req := domain.TransactionRequest{
		Kind:        domain.TransactionKind(*kind),
		Amount:      toKobo(*amount),
		Recipient:   *recipient,
		Description: *description,
		AuthToken:   *token,
	}

	p := tea.NewProgram(terminal.New(ws, req), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func toKobo(naira float64) int64 {
	return int64(math.Round(naira * 100))
}
