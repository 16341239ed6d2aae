package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"vwapbot/internal/domain"
	"vwapbot/internal/ports"
)

// Repository implements the run, trade record and position repositories using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/vwapbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer at a time; the driver serializes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite repository ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		symbols TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		convention TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP DEFAULT NULL,
		total_closed INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0,
		open_remaining INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trade_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		position_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		strategy_tag TEXT NOT NULL,
		volume REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP NOT NULL,
		profit REAL NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		ticket INTEGER PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		volume REAL NOT NULL,
		entry_price REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		strategy_tag TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		exit_price REAL DEFAULT NULL,
		exit_time TIMESTAMP DEFAULT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_records_run ON trade_records (run_id);
	CREATE INDEX IF NOT EXISTS idx_trade_records_symbol_close ON trade_records (symbol, close_time);
	CREATE INDEX IF NOT EXISTS idx_positions_state ON positions (state);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- RunRepository ---

// CreateRun saves a new run header.
func (r *Repository) CreateRun(ctx context.Context, run *domain.Run) error {
	const query = `
	INSERT INTO runs (id, mode, symbols, timeframe, convention, started_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Mode, run.Symbols, run.Timeframe, run.Convention, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, mapWriteError(err))
	}
	r.logger.Debug(ctx, "Run created", map[string]interface{}{"runID": run.ID, "mode": run.Mode})
	return nil
}

// FinishRun stores the finish time and summary of a run.
func (r *Repository) FinishRun(ctx context.Context, run *domain.Run) error {
	const query = `
	UPDATE runs
	SET finished_at = ?, total_closed = ?, success_count = ?, failure_count = ?,
	    success_rate = ?, open_remaining = ?
	WHERE id = ?`

	s := run.Summary
	result, err := r.db.ExecContext(ctx, query,
		run.FinishedAt.UTC(), s.TotalClosed, s.SuccessCount, s.FailureCount, s.SuccessRate, s.OpenPositionsRemaining,
		run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for run %s: %w", run.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %s not found for update: %w", run.ID, ports.ErrNotFound)
	}
	return nil
}

// FindRun retrieves a run by ID.
func (r *Repository) FindRun(ctx context.Context, id string) (*domain.Run, error) {
	const query = `
	SELECT id, mode, symbols, timeframe, convention, started_at, finished_at,
	       total_closed, success_count, failure_count, success_rate, open_remaining
	FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	return run, nil
}

// --- TradeRecordRepository ---

// SaveRecord stores a closed trade record under runID.
func (r *Repository) SaveRecord(ctx context.Context, runID string, rec domain.TradeRecord) (int64, error) {
	const query = `
	INSERT INTO trade_records (run_id, position_id, symbol, side, strategy_tag, volume, entry_price,
	                           exit_price, entry_time, close_time, profit, outcome, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		runID, rec.PositionID, rec.Symbol, rec.Side, rec.StrategyTag, rec.Volume, rec.EntryPrice,
		rec.ExitPrice, rec.EntryTime.UTC(), rec.CloseTime.UTC(), rec.Profit, rec.Outcome, rec.Reason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade record for position %d: %w", rec.PositionID, mapWriteError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade record %d: %w", rec.PositionID, err)
	}
	r.logger.Debug(ctx, "Trade record saved", map[string]interface{}{"recordID": id, "runID": runID, "positionID": rec.PositionID})
	return id, nil
}

const recordColumns = `position_id, symbol, side, strategy_tag, volume, entry_price, exit_price,
	       entry_time, close_time, profit, outcome, reason`

// FindByRun returns the records of a run in close order.
func (r *Repository) FindByRun(ctx context.Context, runID string) ([]domain.TradeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM trade_records WHERE run_id = ? ORDER BY close_time, id`
	return r.queryRecords(ctx, query, runID)
}

// FindBySymbol retrieves the most recent records for a symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM trade_records WHERE symbol = ? ORDER BY close_time DESC, id DESC LIMIT ?`
	return r.queryRecords(ctx, query, symbol, limit)
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...interface{}) ([]domain.TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade records: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	records := make([]domain.TradeRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade record rows: %w", err)
	}
	return records, nil
}

// --- PositionRepository ---

// SaveOpen stores a newly opened position. A reused ticket is ErrDuplicateEntry.
func (r *Repository) SaveOpen(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (ticket, symbol, side, volume, entry_price, entry_time, strategy_tag, comment, state)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.ID, pos.Symbol, pos.Side, pos.Volume, pos.EntryPrice, pos.EntryTime.UTC(), pos.StrategyTag, pos.Comment, domain.StateOpen)
	if err != nil {
		return fmt.Errorf("failed to insert position %d: %w", pos.ID, mapWriteError(err))
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"ticket": pos.ID, "symbol": pos.Symbol})
	return nil
}

// MarkClosed stores the terminal state of a position.
func (r *Repository) MarkClosed(ctx context.Context, pos *domain.Position) error {
	const query = `UPDATE positions SET state = ?, exit_price = ?, exit_time = ? WHERE ticket = ?`

	var exitTime sql.NullTime
	if !pos.ExitTime.IsZero() {
		exitTime = sql.NullTime{Time: pos.ExitTime.UTC(), Valid: true}
	}
	result, err := r.db.ExecContext(ctx, query, pos.State, pos.ExitPrice, exitTime, pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position %d: %w: %w", pos.ID, ports.ErrQueryFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for position %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	return nil
}

// FindOpen returns every open position ordered by ticket.
func (r *Repository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT ticket, symbol, side, volume, entry_price, entry_time, strategy_tag, comment, state,
	       COALESCE(exit_price, 0), exit_time
	FROM positions WHERE state = ? ORDER BY ticket`

	rows, err := r.db.QueryContext(ctx, query, domain.StateOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during FindOpen: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// mapWriteError turns constraint violations into ErrDuplicateEntry.
func mapWriteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", ports.ErrDuplicateEntry, err)
	}
	return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*domain.Run, error) {
	run := &domain.Run{}
	var finished sql.NullTime
	var mode string
	err := s.Scan(&run.ID, &mode, &run.Symbols, &run.Timeframe, &run.Convention, &run.StartedAt, &finished,
		&run.Summary.TotalClosed, &run.Summary.SuccessCount, &run.Summary.FailureCount,
		&run.Summary.SuccessRate, &run.Summary.OpenPositionsRemaining)
	if err != nil {
		return nil, err
	}
	run.Mode = domain.RunMode(mode)
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return run, nil
}

func scanRecord(s scanner) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	var side, outcome, reason string
	err := s.Scan(&rec.PositionID, &rec.Symbol, &side, &rec.StrategyTag, &rec.Volume, &rec.EntryPrice,
		&rec.ExitPrice, &rec.EntryTime, &rec.CloseTime, &rec.Profit, &outcome, &reason)
	if err != nil {
		return rec, err
	}
	rec.Side = domain.Side(side)
	rec.Outcome = domain.Outcome(outcome)
	rec.Reason = domain.CloseReason(reason)
	return rec, nil
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, state string
	var exitTime sql.NullTime
	err := s.Scan(&p.ID, &p.Symbol, &side, &p.Volume, &p.EntryPrice, &p.EntryTime, &p.StrategyTag, &p.Comment,
		&state, &p.ExitPrice, &exitTime)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.State = domain.PositionState(state)
	if exitTime.Valid {
		p.ExitTime = exitTime.Time
	}
	return p, nil
}

var (
	_ ports.RunRepository         = (*Repository)(nil)
	_ ports.TradeRecordRepository = (*Repository)(nil)
	_ ports.PositionRepository    = (*Repository)(nil)
)
