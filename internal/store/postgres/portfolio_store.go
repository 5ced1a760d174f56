package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/weatherbot/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore and
// domain.ClosedPositionLister using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a new PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const openPositionCols = `condition_id, question, city, slug, yes_token_id,
	entry_time, entry_yes, current_yes, take_profit, allocated, tokens`

const closedPositionCols = openPositionCols + `,
	status, pnl, close_time, resolution`

// UpsertOpenPosition inserts or replaces an open position.
func (s *PortfolioStore) UpsertOpenPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO open_positions (` + openPositionCols + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (condition_id) DO UPDATE SET
			current_yes = EXCLUDED.current_yes,
			allocated   = EXCLUDED.allocated,
			tokens      = EXCLUDED.tokens,
			take_profit = EXCLUDED.take_profit,
			updated_at  = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ConditionID, p.Question, p.City, p.Slug, p.YesTokenID,
		p.EntryTime, p.EntryYes, p.CurrentYes, p.TakeProfit, p.Allocated, p.Tokens,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert open position %s: %w", p.ConditionID, err)
	}
	return nil
}

// DeleteOpenPosition removes an open position. Unknown ids are not an error.
func (s *PortfolioStore) DeleteOpenPosition(ctx context.Context, conditionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM open_positions WHERE condition_id = $1`, conditionID); err != nil {
		return fmt.Errorf("postgres: delete open position %s: %w", conditionID, err)
	}
	return nil
}

// InsertClosedPosition records a closed position. Re-inserting the same id
// is a no-op.
func (s *PortfolioStore) InsertClosedPosition(ctx context.Context, p domain.Position) error {
	closeTime := time.Now().UTC()
	if p.CloseTime != nil {
		closeTime = *p.CloseTime
	}

	const query = `
		INSERT INTO closed_positions (` + closedPositionCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (condition_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		p.ConditionID, p.Question, p.City, p.Slug, p.YesTokenID,
		p.EntryTime, p.EntryYes, p.CurrentYes, p.TakeProfit, p.Allocated, p.Tokens,
		string(p.Status), p.PnL, closeTime, p.Resolution,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert closed position %s: %w", p.ConditionID, err)
	}
	return nil
}

// SaveState writes the singleton capital row.
func (s *PortfolioStore) SaveState(ctx context.Context, st domain.PortfolioState) error {
	const query = `
		INSERT INTO portfolio_state (id, initial_capital, total_capital, available_capital, session_start, updated_at)
		VALUES (1, $1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			initial_capital   = EXCLUDED.initial_capital,
			total_capital     = EXCLUDED.total_capital,
			available_capital = EXCLUDED.available_capital,
			session_start     = EXCLUDED.session_start,
			updated_at        = NOW()`

	if _, err := s.pool.Exec(ctx, query, st.InitialCapital, st.TotalCapital, st.AvailableCapital, st.SessionStart); err != nil {
		return fmt.Errorf("postgres: save portfolio state: %w", err)
	}
	return nil
}

// LoadState returns the saved capital row or domain.ErrNotFound.
func (s *PortfolioStore) LoadState(ctx context.Context) (domain.PortfolioState, error) {
	const query = `
		SELECT initial_capital, total_capital, available_capital, session_start
		FROM portfolio_state WHERE id = 1`

	var st domain.PortfolioState
	err := s.pool.QueryRow(ctx, query).Scan(
		&st.InitialCapital, &st.TotalCapital, &st.AvailableCapital, &st.SessionStart,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PortfolioState{}, fmt.Errorf("postgres: load portfolio state: %w", domain.ErrNotFound)
		}
		return domain.PortfolioState{}, fmt.Errorf("postgres: load portfolio state: %w", err)
	}
	st.SessionStart = st.SessionStart.UTC()
	return st, nil
}

// AppendCapitalPoint adds one capital history sample.
func (s *PortfolioStore) AppendCapitalPoint(ctx context.Context, pt domain.CapitalPoint) error {
	if _, err := s.pool.Exec(ctx, `INSERT INTO capital_history (ts, capital) VALUES ($1, $2)`, pt.Time, pt.Capital); err != nil {
		return fmt.Errorf("postgres: append capital point: %w", err)
	}
	return nil
}

// LoadOpenPositions returns every open position ordered by entry time.
func (s *PortfolioStore) LoadOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+openPositionCols+` FROM open_positions ORDER BY entry_time, condition_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load open positions: %w", err)
	}
	positions, err := pgx.CollectRows(rows, scanOpenPosition)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// LoadClosedPositions returns every closed position ordered by close time.
func (s *PortfolioStore) LoadClosedPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+closedPositionCols+` FROM closed_positions ORDER BY close_time, condition_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load closed positions: %w", err)
	}
	positions, err := pgx.CollectRows(rows, scanClosedPosition)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// ListClosedSince returns positions closed strictly after since.
func (s *PortfolioStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+closedPositionCols+` FROM closed_positions WHERE close_time > $1 ORDER BY close_time, condition_id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed since: %w", err)
	}
	positions, err := pgx.CollectRows(rows, scanClosedPosition)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed since: %w", err)
	}
	return positions, nil
}

// LoadCapitalHistory returns the most recent limit samples, oldest first.
// A non-positive limit returns everything.
func (s *PortfolioStore) LoadCapitalHistory(ctx context.Context, limit int) ([]domain.CapitalPoint, error) {
	query := `SELECT ts, capital FROM capital_history ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: load capital history: %w", err)
	}
	points, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CapitalPoint, error) {
		var pt domain.CapitalPoint
		err := row.Scan(&pt.Time, &pt.Capital)
		pt.Time = pt.Time.UTC()
		return pt, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan capital history: %w", err)
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

func scanOpenPosition(row pgx.CollectableRow) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ConditionID, &p.Question, &p.City, &p.Slug, &p.YesTokenID,
		&p.EntryTime, &p.EntryYes, &p.CurrentYes, &p.TakeProfit, &p.Allocated, &p.Tokens,
	)
	p.EntryTime = p.EntryTime.UTC()
	p.Status = domain.PositionStatusOpen
	return p, err
}

func scanClosedPosition(row pgx.CollectableRow) (domain.Position, error) {
	var p domain.Position
	var status string
	var closeTime time.Time
	err := row.Scan(
		&p.ConditionID, &p.Question, &p.City, &p.Slug, &p.YesTokenID,
		&p.EntryTime, &p.EntryYes, &p.CurrentYes, &p.TakeProfit, &p.Allocated, &p.Tokens,
		&status, &p.PnL, &closeTime, &p.Resolution,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.EntryTime = p.EntryTime.UTC()
	closeTime = closeTime.UTC()
	p.CloseTime = &closeTime
	p.Status = domain.PositionStatus(status)
	return p, nil
}
