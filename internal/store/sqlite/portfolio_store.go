package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore and
// domain.ClosedPositionLister on SQLite.
type PortfolioStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPortfolioStore creates a PortfolioStore on db.
func NewPortfolioStore(db *DB) *PortfolioStore {
	return &PortfolioStore{db: db.conn, now: time.Now}
}

const openCols = `condition_id, question, city, slug, yes_token_id,
	entry_time, entry_yes, current_yes, take_profit, allocated, tokens`

const closedCols = openCols + `, status, pnl, close_time, resolution`

func (s *PortfolioStore) UpsertOpenPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO open_positions (` + openCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id) DO UPDATE SET
			current_yes = excluded.current_yes,
			allocated   = excluded.allocated,
			tokens      = excluded.tokens,
			take_profit = excluded.take_profit`

	_, err := s.db.ExecContext(ctx, query,
		p.ConditionID, p.Question, p.City, p.Slug, p.YesTokenID,
		formatTime(p.EntryTime), p.EntryYes, p.CurrentYes, p.TakeProfit, p.Allocated, p.Tokens,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert open position %s: %w", p.ConditionID, err)
	}
	return nil
}

func (s *PortfolioStore) DeleteOpenPosition(ctx context.Context, conditionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM open_positions WHERE condition_id = ?`, conditionID); err != nil {
		return fmt.Errorf("sqlite: delete open position %s: %w", conditionID, err)
	}
	return nil
}

func (s *PortfolioStore) InsertClosedPosition(ctx context.Context, p domain.Position) error {
	closeTime := s.now()
	if p.CloseTime != nil {
		closeTime = *p.CloseTime
	}

	const query = `
		INSERT INTO closed_positions (` + closedCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (condition_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		p.ConditionID, p.Question, p.City, p.Slug, p.YesTokenID,
		formatTime(p.EntryTime), p.EntryYes, p.CurrentYes, p.TakeProfit, p.Allocated, p.Tokens,
		string(p.Status), p.PnL, formatTime(closeTime), p.Resolution,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert closed position %s: %w", p.ConditionID, err)
	}
	return nil
}

func (s *PortfolioStore) SaveState(ctx context.Context, st domain.PortfolioState) error {
	const query = `
		INSERT INTO portfolio_state (id, initial_capital, total_capital, available_capital, session_start, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			initial_capital   = excluded.initial_capital,
			total_capital     = excluded.total_capital,
			available_capital = excluded.available_capital,
			session_start     = excluded.session_start,
			updated_at        = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		st.InitialCapital, st.TotalCapital, st.AvailableCapital,
		formatTime(st.SessionStart), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save portfolio state: %w", err)
	}
	return nil
}

// LoadState returns the saved capital row or domain.ErrNotFound.
func (s *PortfolioStore) LoadState(ctx context.Context) (domain.PortfolioState, error) {
	var st domain.PortfolioState
	var sessionStart string
	err := s.db.QueryRowContext(ctx, `
		SELECT initial_capital, total_capital, available_capital, session_start
		FROM portfolio_state WHERE id = 1`,
	).Scan(&st.InitialCapital, &st.TotalCapital, &st.AvailableCapital, &sessionStart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PortfolioState{}, fmt.Errorf("sqlite: load portfolio state: %w", domain.ErrNotFound)
		}
		return domain.PortfolioState{}, fmt.Errorf("sqlite: load portfolio state: %w", err)
	}
	if st.SessionStart, err = parseTime(sessionStart); err != nil {
		return domain.PortfolioState{}, fmt.Errorf("sqlite: load portfolio state: %w", err)
	}
	return st, nil
}

func (s *PortfolioStore) AppendCapitalPoint(ctx context.Context, pt domain.CapitalPoint) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO capital_history (ts, capital) VALUES (?, ?)`, formatTime(pt.Time), pt.Capital); err != nil {
		return fmt.Errorf("sqlite: append capital point: %w", err)
	}
	return nil
}

func (s *PortfolioStore) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+openCols+` FROM open_positions ORDER BY entry_time, condition_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var entry string
		if err := rows.Scan(
			&p.ConditionID, &p.Question, &p.City, &p.Slug, &p.YesTokenID,
			&entry, &p.EntryYes, &p.CurrentYes, &p.TakeProfit, &p.Allocated, &p.Tokens,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan open position: %w", err)
		}
		if p.EntryTime, err = parseTime(entry); err != nil {
			return nil, fmt.Errorf("sqlite: scan open position: %w", err)
		}
		p.Status = domain.PositionStatusOpen
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load open positions rows: %w", err)
	}
	return out, nil
}

func (s *PortfolioStore) LoadClosedPositions(ctx context.Context) ([]domain.Position, error) {
	return s.queryClosed(ctx, `SELECT `+closedCols+` FROM closed_positions ORDER BY close_time, condition_id`)
}

// ListClosedSince returns positions closed strictly after since.
func (s *PortfolioStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	return s.queryClosed(ctx,
		`SELECT `+closedCols+` FROM closed_positions WHERE close_time > ? ORDER BY close_time, condition_id`,
		formatTime(since),
	)
}

func (s *PortfolioStore) queryClosed(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load closed positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var entry, closed, status string
		if err := rows.Scan(
			&p.ConditionID, &p.Question, &p.City, &p.Slug, &p.YesTokenID,
			&entry, &p.EntryYes, &p.CurrentYes, &p.TakeProfit, &p.Allocated, &p.Tokens,
			&status, &p.PnL, &closed, &p.Resolution,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan closed position: %w", err)
		}
		if p.EntryTime, err = parseTime(entry); err != nil {
			return nil, fmt.Errorf("sqlite: scan closed position: %w", err)
		}
		closeTime, err := parseTime(closed)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan closed position: %w", err)
		}
		p.CloseTime = &closeTime
		p.Status = domain.PositionStatus(status)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load closed positions rows: %w", err)
	}
	return out, nil
}

// LoadCapitalHistory returns the most recent limit samples, oldest first.
// A non-positive limit returns everything.
func (s *PortfolioStore) LoadCapitalHistory(ctx context.Context, limit int) ([]domain.CapitalPoint, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, capital FROM (
			SELECT id, ts, capital FROM capital_history ORDER BY id DESC LIMIT ?
		) ORDER BY id`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load capital history: %w", err)
	}
	defer rows.Close()

	var out []domain.CapitalPoint
	for rows.Next() {
		var pt domain.CapitalPoint
		var ts string
		if err := rows.Scan(&ts, &pt.Capital); err != nil {
			return nil, fmt.Errorf("sqlite: scan capital point: %w", err)
		}
		if pt.Time, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan capital point: %w", err)
		}
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load capital history rows: %w", err)
	}
	return out, nil
}
