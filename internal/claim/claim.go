package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/funds"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

var (
	ErrNotFound = errors.New("payout not found")
	ErrNotOwner = errors.New("payout belongs to another user")
	// ErrNotClaimable rejects claims on payouts still pending.
	ErrNotClaimable = errors.New("payout not claimable")
	// ErrFundsUnavailable means the treasury cannot cover the payout right
	// now; the payout stays Earned and the claim may be retried.
	ErrFundsUnavailable = errors.New("funds unavailable")
	// ErrRetryShortly means a concurrent claim on the same payout won the
	// row; the client should retry and will get the idempotent response.
	ErrRetryShortly = errors.New("claim conflict, retry shortly")
)

// Store is the persistence slice the claim ledger needs.
type Store interface {
	WithPayoutLock(ctx context.Context, payoutID string, fn func(tx repository.PayoutTx) error) error
}

// Result is the claim response. Repeated claims after distribution return
// the same transfer reference.
type Result struct {
	Amount      decimal.Decimal
	TransferRef string
}

// Service pays a Payout exactly once. All state transitions happen inside a
// serializable transaction holding the payout row lock; the external
// transfer is the one allowed network call under that lock, bounded by the
// claim timeout.
type Service struct {
	Repo   Store
	Funds  funds.Gateway
	Logger *zap.Logger
	Config config.ClaimConfig
}

func (s *Service) Claim(ctx context.Context, payoutID, userID string) (*Result, error) {
	if s == nil || s.Repo == nil {
		return nil, ErrNotFound
	}
	timeout := s.Config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	attempts := s.Config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := s.claimOnce(ctx, payoutID, userID, timeout)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, repository.ErrSerialization) {
			return nil, err
		}
		lastErr = err
		if s.Logger != nil {
			s.Logger.Info("claim lost serialization race, retrying",
				zap.String("payout_id", payoutID),
				zap.Int("attempt", attempt+1))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Config.RetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrRetryShortly, lastErr)
}

func (s *Service) claimOnce(ctx context.Context, payoutID, userID string, timeout time.Duration) (*Result, error) {
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result *Result
	err := s.Repo.WithPayoutLock(txCtx, payoutID, func(tx repository.PayoutTx) error {
		payout := tx.Payout()
		if payout == nil {
			return ErrNotFound
		}
		if payout.UserID != userID {
			return ErrNotOwner
		}
		if payout.Status == models.PayoutStatusDistributed {
			// Already paid: idempotent success with the recorded ref.
			ref := ""
			if payout.TransferRef != nil {
				ref = *payout.TransferRef
			}
			result = &Result{Amount: payout.Amount, TransferRef: ref}
			return nil
		}
		if payout.Status != models.PayoutStatusEarned {
			return ErrNotClaimable
		}

		if s.Funds != nil {
			available, err := s.Funds.Available(txCtx)
			if err != nil {
				return err
			}
			if available.LessThan(payout.Amount) {
				return ErrFundsUnavailable
			}
		}

		var ref string
		distributedAt := time.Now().UTC()
		if s.Funds != nil {
			transfer, err := s.Funds.Transfer(txCtx, funds.TransferRequest{
				IdempotencyKey: payout.ID,
				UserID:         payout.UserID,
				Amount:         payout.Amount,
				Memo:           payout.Kind,
			})
			if err != nil {
				return err
			}
			ref = transfer.Ref
			if !transfer.CompletedAt.IsZero() {
				distributedAt = transfer.CompletedAt
			}
		}

		if err := tx.MarkDistributed(ref, distributedAt); err != nil {
			return err
		}
		result = &Result{Amount: payout.Amount, TransferRef: ref}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrNotFound
	}
	return result, nil
}
