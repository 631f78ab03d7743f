package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sokomarket/payment-service/internal/domain/models"
	"github.com/sokomarket/payment-service/internal/domain/ports"
	"github.com/sokomarket/payment-service/pkg/observability"
)

// Cluster is a group of completed credit entries sharing the same
// (reference_id, amount) pair. The oldest entry is authoritative; the rest
// are duplicates whose amounts were credited more than once.
type Cluster struct {
	ReferenceID   string
	Amount        decimal.Decimal
	Authoritative *models.Transaction
	Removable     []*models.Transaction
}

// Excess is the total amount credited beyond the authoritative entry
func (c *Cluster) Excess() decimal.Decimal {
	return c.Amount.Mul(decimal.NewFromInt(int64(len(c.Removable))))
}

// Report summarizes one audit pass over a wallet
type Report struct {
	WalletID    string
	Clusters    []*Cluster
	TotalExcess decimal.Decimal
	Corrected   bool
}

// Auditor detects and corrects duplicate wallet credits, a failure mode
// observed when webhook replays slipped past reconciliation. Corrections
// never mutate historical rows: duplicates are flagged reversed and a single
// compensating debit per cluster restores the balance.
type Auditor struct {
	db      ports.DBPort
	wallets ports.WalletRepository
	logger  ports.Logger
}

// NewAuditor creates a new duplicate-credit auditor
func NewAuditor(db ports.DBPort, wallets ports.WalletRepository, logger ports.Logger) *Auditor {
	return &Auditor{
		db:      db,
		wallets: wallets,
		logger:  logger,
	}
}

// Detect reports duplicate credit clusters for the wallet without changing
// anything. Safe to run repeatedly.
func (a *Auditor) Detect(ctx context.Context, walletID string) (*Report, error) {
	var report *Report
	err := a.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		entries, err := a.wallets.FindDuplicateCredits(ctx, tx, walletID)
		if err != nil {
			return err
		}
		report = buildReport(walletID, entries)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Correct applies the corrections Detect would report: every duplicate is
// flagged reversed and one compensating debit per cluster removes the excess
// from the balance. Detection and correction run in a single transaction
// under the wallet row lock, so a second concurrent run finds nothing left
// to correct.
func (a *Auditor) Correct(ctx context.Context, walletID string) (*Report, error) {
	var report *Report
	err := a.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		wallet, err := a.wallets.LockWallet(ctx, tx, walletID)
		if err != nil {
			return err
		}

		entries, err := a.wallets.FindDuplicateCredits(ctx, tx, walletID)
		if err != nil {
			return err
		}
		report = buildReport(walletID, entries)
		if len(report.Clusters) == 0 {
			return nil
		}

		now := time.Now().UTC()
		balance := wallet.Balance

		for _, cluster := range report.Clusters {
			for _, dup := range cluster.Removable {
				if err := a.wallets.MarkReversed(ctx, tx, dup.ID, "duplicate credit", now); err != nil {
					return err
				}
			}

			excess := cluster.Excess()
			after := balance.Sub(excess)
			if err := a.wallets.AppendTransaction(ctx, tx, &models.Transaction{
				ID:            uuid.NewString(),
				WalletID:      walletID,
				Type:          models.TxnReversal,
				Amount:        excess,
				BalanceBefore: balance,
				BalanceAfter:  after,
				ReferenceID:   cluster.ReferenceID,
				Description:   "duplicate credit correction",
				Status:        models.TxnCompleted,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
			balance = after
		}

		report.Corrected = true
		return a.wallets.UpdateBalance(ctx, tx, walletID, balance)
	})
	if err != nil {
		return nil, err
	}

	corrected := 0
	if report.Corrected {
		for _, c := range report.Clusters {
			corrected += len(c.Removable)
		}
		a.logger.Info("duplicate credits corrected",
			ports.String("wallet_id", walletID),
			ports.Int("clusters", len(report.Clusters)),
			ports.String("total_excess", report.TotalExcess.String()),
		)
	}
	observability.RecordDuplicateCredits(duplicateCount(report), corrected)
	return report, nil
}

// buildReport folds the repository's ordered duplicate rows into clusters.
// Rows arrive grouped by (reference_id, amount) and ordered oldest first
// within each group, so the first row of each group is authoritative.
func buildReport(walletID string, entries []*models.Transaction) *Report {
	report := &Report{WalletID: walletID, TotalExcess: decimal.Zero}

	var current *Cluster
	for _, entry := range entries {
		if current == nil || entry.ReferenceID != current.ReferenceID || !entry.Amount.Equal(current.Amount) {
			current = &Cluster{
				ReferenceID:   entry.ReferenceID,
				Amount:        entry.Amount,
				Authoritative: entry,
			}
			report.Clusters = append(report.Clusters, current)
			continue
		}
		current.Removable = append(current.Removable, entry)
		report.TotalExcess = report.TotalExcess.Add(entry.Amount)
	}
	return report
}

func duplicateCount(report *Report) int {
	n := 0
	for _, c := range report.Clusters {
		n += len(c.Removable)
	}
	return n
}
