package gormrepository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/models"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- matches ----------------------------------------------------------------

func (s *Store) CreateMatch(ctx context.Context, item *models.Match) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Match
	err := s.db.WithContext(ctx).Model(&models.Match{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListMatches(ctx context.Context, params repository.ListMatchesParams) ([]models.Match, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyMatchFilters(s.db.WithContext(ctx).Model(&models.Match{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Match
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountMatches(ctx context.Context, params repository.ListMatchesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	query := s.applyMatchFilters(s.db.WithContext(ctx).Model(&models.Match{}), params)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) applyMatchFilters(query *gorm.DB, params repository.ListMatchesParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		user := strings.TrimSpace(*params.UserID)
		query = query.Where("creator_user_id = ? OR opponent_user_id = ?", user, user)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("created_at < ?", *params.Until)
	}
	return query
}

// JoinMatch flips a pending match live and inserts the opponent row in one
// transaction. The status guard on the UPDATE makes concurrent joins safe:
// only the one that wins the row claims the seat.
func (s *Store) JoinMatch(ctx context.Context, matchID string, participant *models.Participant, startedAt time.Time) (bool, error) {
	if s == nil || s.db == nil || participant == nil {
		return false, nil
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return false, nil
	}
	joined := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ?", matchID).
			Where("status = ?", models.MatchStatusPending).
			Where("creator_user_id <> ?", participant.UserID).
			Updates(map[string]any{
				"opponent_user_id": participant.UserID,
				"status":           models.MatchStatusLive,
				"started_at":       startedAt,
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(participant).Error; err != nil {
			return err
		}
		joined = true
		return nil
	})
	return joined, err
}

func (s *Store) CreateParticipant(ctx context.Context, item *models.Participant) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetParticipant(ctx context.Context, matchID, userID string) (*models.Participant, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	matchID = strings.TrimSpace(matchID)
	userID = strings.TrimSpace(userID)
	if matchID == "" || userID == "" {
		return nil, nil
	}
	var item models.Participant
	err := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("match_id = ?", matchID).
		Where("user_id = ?", userID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListParticipants(ctx context.Context, matchID string) ([]models.Participant, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, nil
	}
	var items []models.Participant
	if err := s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("match_id = ?", matchID).
		Order("slot asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// RaiseOpeningNotionalMark never lowers the mark; concurrent or replayed
// writers can only ratchet it upward.
func (s *Store) RaiseOpeningNotionalMark(ctx context.Context, matchID, userID string, newMark decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	matchID = strings.TrimSpace(matchID)
	userID = strings.TrimSpace(userID)
	if matchID == "" || userID == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("match_id = ?", matchID).
		Where("user_id = ?", userID).
		Update("opening_notional_mark", gorm.Expr("GREATEST(opening_notional_mark, ?)", newMark)).
		Error
}

func (s *Store) RecordExternalTrade(ctx context.Context, matchID, userID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	matchID = strings.TrimSpace(matchID)
	userID = strings.TrimSpace(userID)
	if matchID == "" || userID == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("match_id = ?", matchID).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"external_trade_count": gorm.Expr("external_trade_count + 1"),
			"updated_at":           time.Now().UTC(),
		}).Error
}

func (s *Store) CountPairingsSince(ctx context.Context, userA, userB string, since time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Match{}).
		Where("started_at IS NOT NULL").
		Where("started_at >= ?", since).
		Where(
			"(creator_user_id = ? AND opponent_user_id = ?) OR (creator_user_id = ? AND opponent_user_id = ?)",
			userA, userB, userB, userA,
		).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// --- fills ------------------------------------------------------------------

// RecordFill is the single write path for exchange fills. The platform-fill
// insert carries the dedup key; when OnConflict swallows it the rest of the
// transaction is skipped, so replaying a fill can never double-count flows or
// advance the opening-notional mark twice.
func (s *Store) RecordFill(ctx context.Context, rec repository.FillRecord) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	recorded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		platform := rec.Platform
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_fill_id"}},
			DoNothing: true,
		}).Create(&platform)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		recorded = true
		if rec.Attributed == nil {
			return nil
		}
		if err := tx.Create(rec.Attributed).Error; err != nil {
			return err
		}
		if err := upsertSymbolFlow(tx, rec.Attributed.MatchID, rec.Attributed.UserID, rec.Attributed.Symbol, rec.BoughtDelta, rec.SoldDelta); err != nil {
			return err
		}
		updates := map[string]any{
			"trades_count": gorm.Expr("trades_count + 1"),
			"updated_at":   time.Now().UTC(),
		}
		if rec.OpeningNotionalDelta.IsPositive() {
			// Delta form of the high-water mark: addition for a positive
			// delta, no-op otherwise, so fills applied in any order land on
			// the same mark.
			updates["opening_notional_mark"] = gorm.Expr(
				"GREATEST(opening_notional_mark, opening_notional_mark + ?)",
				rec.OpeningNotionalDelta,
			)
		}
		exposure, err := currentExposure(tx, rec.Attributed.MatchID, rec.Attributed.UserID)
		if err != nil {
			return err
		}
		updates["exposure"] = exposure
		return tx.Model(&models.Participant{}).
			Where("match_id = ?", rec.Attributed.MatchID).
			Where("user_id = ?", rec.Attributed.UserID).
			Updates(updates).
			Error
	})
	return recorded, err
}

// currentExposure values the open match flows at the latest attributed price
// per symbol, pending rows included so exposure moves as soon as the fill
// lands. Runs inside the RecordFill transaction so the stored value tracks
// the flow it was derived from.
func currentExposure(tx *gorm.DB, matchID, userID string) (decimal.Decimal, error) {
	var flows []models.SymbolFlow
	if err := tx.
		Where("match_id = ?", matchID).
		Where("user_id = ?", userID).
		Find(&flows).Error; err != nil {
		return decimal.Zero, err
	}
	type lastPrice struct {
		Symbol string
		Price  decimal.Decimal
	}
	var rows []lastPrice
	if err := tx.
		Table("attributed_fills").
		Select("DISTINCT ON (symbol) symbol, price").
		Where("match_id = ?", matchID).
		Where("user_id = ?", userID).
		Order("symbol, executed_at DESC, id DESC").
		Scan(&rows).Error; err != nil {
		return decimal.Zero, err
	}
	prices := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		prices[row.Symbol] = row.Price
	}
	total := decimal.Zero
	for _, flow := range flows {
		net := flow.Net()
		if net.IsZero() {
			continue
		}
		price, ok := prices[flow.Symbol]
		if !ok {
			continue
		}
		total = total.Add(net.Abs().Mul(price))
	}
	return total, nil
}

func upsertSymbolFlow(tx *gorm.DB, matchID, userID, symbol string, boughtDelta, soldDelta decimal.Decimal) error {
	flow := models.SymbolFlow{
		MatchID: matchID,
		UserID:  userID,
		Symbol:  symbol,
		Bought:  boughtDelta,
		Sold:    soldDelta,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "match_id"}, {Name: "user_id"}, {Name: "symbol"}},
		DoUpdates: clause.Assignments(map[string]any{
			"bought":     gorm.Expr("symbol_flows.bought + EXCLUDED.bought"),
			"sold":       gorm.Expr("symbol_flows.sold + EXCLUDED.sold"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&flow).Error
}

func (s *Store) ListAttributedFills(ctx context.Context, params repository.ListFillsParams) ([]models.AttributedFill, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AttributedFill{})
	if params.MatchID != nil && strings.TrimSpace(*params.MatchID) != "" {
		query = query.Where("match_id = ?", strings.TrimSpace(*params.MatchID))
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Symbol != nil && strings.TrimSpace(*params.Symbol) != "" {
		query = query.Where("symbol = ?", strings.TrimSpace(*params.Symbol))
	}
	if params.From != nil && !params.From.IsZero() {
		query = query.Where("executed_at >= ?", *params.From)
	}
	if params.To != nil && !params.To.IsZero() {
		// Window ends are inclusive, matching the match window
		// [started_at, started_at+duration].
		query = query.Where("executed_at <= ?", *params.To)
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "executed_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.AttributedFill
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAttributedFills(ctx context.Context, matchID, userID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.AttributedFill{})
	if strings.TrimSpace(matchID) != "" {
		query = query.Where("match_id = ?", strings.TrimSpace(matchID))
	}
	if strings.TrimSpace(userID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(userID))
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) GetSymbolFlow(ctx context.Context, matchID, userID, symbol string) (*models.SymbolFlow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SymbolFlow
	err := s.db.WithContext(ctx).
		Model(&models.SymbolFlow{}).
		Where("match_id = ?", strings.TrimSpace(matchID)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSymbolFlows(ctx context.Context, matchID, userID string) ([]models.SymbolFlow, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.SymbolFlow{}).
		Where("match_id = ?", strings.TrimSpace(matchID))
	if strings.TrimSpace(userID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(userID))
	}
	var items []models.SymbolFlow
	if err := query.Order("symbol asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) LastAttributedPrices(ctx context.Context, matchID, userID string) (map[string]decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	type lastPrice struct {
		Symbol string
		Price  decimal.Decimal
	}
	var rows []lastPrice
	err := s.db.WithContext(ctx).
		Table("attributed_fills").
		Select("DISTINCT ON (symbol) symbol, price").
		Where("match_id = ?", strings.TrimSpace(matchID)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("fact_pending = ?", false).
		Order("symbol, executed_at DESC, id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.Symbol] = row.Price
	}
	return out, nil
}

// ListFactPendingFills scans the platform table: every ingested fill has a
// row there, so pendings with no attributed portion are picked up too.
func (s *Store) ListFactPendingFills(ctx context.Context, limit int) ([]models.PlatformFill, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.PlatformFill
	if err := s.db.WithContext(ctx).
		Model(&models.PlatformFill{}).
		Where("fact_pending = ?", true).
		Order("executed_at asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ResolveFillFact(ctx context.Context, sourceFillID int64, price, fee, pnl decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fill models.AttributedFill
		err := tx.Where("source_fill_id = ?", sourceFillID).
			Where("fact_pending = ?", true).
			First(&fill).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return err
		}
		if err == nil {
			// Fee and pnl are stored prorated on the attributed row; the
			// platform row keeps the raw fact values.
			factor := decimal.NewFromInt(1)
			if fill.RawAmount.IsPositive() {
				factor = fill.Amount.Div(fill.RawAmount)
			}
			if err := tx.Model(&models.AttributedFill{}).
				Where("id = ?", fill.ID).
				Updates(map[string]any{
					"price":        price,
					"fee":          fee.Mul(factor),
					"pnl":          pnl.Mul(factor),
					"fact_pending": false,
				}).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.PlatformFill{}).
			Where("source_fill_id = ?", sourceFillID).
			Updates(map[string]any{
				"price":        price,
				"fee":          fee,
				"pnl":          pnl,
				"fact_pending": false,
			}).
			Error
	})
}

// PlatformNetFlow sums the signed raw amounts (buys positive) of every
// ingested fill for the user and symbol in the window, match-bound or not.
// Adding it to the pre-match snapshot reconstructs the venue position the
// engine expects to see.
func (s *Store) PlatformNetFlow(ctx context.Context, userID, symbol string, from, to time.Time) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var row struct {
		Net decimal.Decimal
	}
	err := s.db.WithContext(ctx).
		Model(&models.PlatformFill{}).
		Select("COALESCE(SUM(CASE WHEN side = ? THEN amount ELSE -amount END), 0) AS net", models.SideBuy).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("symbol = ?", strings.TrimSpace(symbol)).
		Where("executed_at >= ?", from).
		Where("executed_at <= ?", to).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Net, nil
}

// --- settlement -------------------------------------------------------------

// FinalizeMatch applies the terminal transition in one transaction. The
// status='live' guard makes re-settlement a no-op: whoever loses the race sees
// zero rows affected and backs off without touching finals or payouts.
func (s *Store) FinalizeMatch(ctx context.Context, matchID string, outcome repository.FinalizeOutcome) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return false, nil
	}
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Match{}).
			Where("id = ?", matchID).
			Where("status = ?", models.MatchStatusLive).
			Updates(map[string]any{
				"status":         outcome.Status,
				"winner_user_id": outcome.WinnerUserID,
				"is_draw":        outcome.IsDraw,
				"ended_at":       outcome.SettledAt,
				"settled_at":     outcome.SettledAt,
				"updated_at":     time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		for _, final := range outcome.Participants {
			if err := tx.Model(&models.Participant{}).
				Where("match_id = ?", matchID).
				Where("user_id = ?", final.UserID).
				Updates(map[string]any{
					"final_pnl_percent": final.PnlPercent,
					"final_score":       final.Score,
					"finalized_at":      outcome.SettledAt,
					"updated_at":        time.Now().UTC(),
				}).Error; err != nil {
				return err
			}
		}
		if outcome.WinnerPayout != nil {
			if err := tx.Create(outcome.WinnerPayout).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return applied, err
}

func (s *Store) ListLiveMatchesEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Match, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Match
	if err := s.db.WithContext(ctx).
		Model(&models.Match{}).
		Where("status = ?", models.MatchStatusLive).
		Where("started_at IS NOT NULL").
		Where("started_at + duration * INTERVAL '1 nanosecond' <= ?", cutoff).
		Order("started_at asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListTerminalMatches(ctx context.Context, params repository.ListMatchesParams) ([]models.Match, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyMatchFilters(s.db.WithContext(ctx).Model(&models.Match{}), params).
		Where("status IN ?", []string{
			models.MatchStatusFinished,
			models.MatchStatusNoContest,
			models.MatchStatusCancelled,
		})
	query = applyOrder(query, params.OrderBy, params.Asc, "settled_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Match
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- violations -------------------------------------------------------------

func (s *Store) InsertViolation(ctx context.Context, item *models.Violation) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListViolations(ctx context.Context, params repository.ListViolationsParams) ([]models.Violation, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.applyViolationFilters(s.db.WithContext(ctx).Model(&models.Violation{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Violation
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountViolations(ctx context.Context, params repository.ListViolationsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	query := s.applyViolationFilters(s.db.WithContext(ctx).Model(&models.Violation{}), params)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) applyViolationFilters(query *gorm.DB, params repository.ListViolationsParams) *gorm.DB {
	if params.MatchID != nil && strings.TrimSpace(*params.MatchID) != "" {
		query = query.Where("match_id = ?", strings.TrimSpace(*params.MatchID))
	}
	if params.Rule != nil && strings.TrimSpace(*params.Rule) != "" {
		query = query.Where("rule = ?", strings.TrimSpace(*params.Rule))
	}
	if params.Severity != nil && strings.TrimSpace(*params.Severity) != "" {
		query = query.Where("severity = ?", strings.TrimSpace(*params.Severity))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

// --- payouts ----------------------------------------------------------------

func (s *Store) CreatePayout(ctx context.Context, item *models.Payout) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Payout
	err := s.db.WithContext(ctx).Model(&models.Payout{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPayouts(ctx context.Context, params repository.ListPayoutsParams) ([]models.Payout, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Payout{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Payout
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

type payoutTx struct {
	tx     *gorm.DB
	payout *models.Payout
}

func (p *payoutTx) Payout() *models.Payout {
	if p == nil {
		return nil
	}
	return p.payout
}

func (p *payoutTx) MarkDistributed(ref string, at time.Time) error {
	if p == nil || p.tx == nil || p.payout == nil {
		return nil
	}
	if err := p.tx.Model(&models.Payout{}).
		Where("id = ?", p.payout.ID).
		Updates(map[string]any{
			"status":         models.PayoutStatusDistributed,
			"transfer_ref":   ref,
			"distributed_at": at,
			"updated_at":     time.Now().UTC(),
		}).Error; err != nil {
		return err
	}
	p.payout.Status = models.PayoutStatusDistributed
	p.payout.TransferRef = &ref
	p.payout.DistributedAt = &at
	return nil
}

// WithPayoutLock runs fn under SERIALIZABLE isolation with the payout row
// locked FOR UPDATE. Postgres aborts one of two racing claims with SQLSTATE
// 40001, which we surface as ErrSerialization for the caller to retry.
func (s *Store) WithPayoutLock(ctx context.Context, payoutID string, fn func(tx repository.PayoutTx) error) error {
	if s == nil || s.db == nil || fn == nil {
		return nil
	}
	payoutID = strings.TrimSpace(payoutID)
	if payoutID == "" {
		return fn(&payoutTx{})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.Payout
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", payoutID).
			First(&item).Error
		if err == gorm.ErrRecordNotFound {
			// Let the caller map the missing row to its own error.
			return fn(&payoutTx{tx: tx})
		}
		if err != nil {
			return err
		}
		return fn(&payoutTx{tx: tx, payout: &item})
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if isSerializationFailure(err) {
		return repository.ErrSerialization
	}
	return err
}

func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected.
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
