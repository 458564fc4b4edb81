package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	cfg "github.com/sand/netdisk-market-ledger/backend/config"
)

const defaultConnAttempts = 3

// Postgres bundles the connection pool with the transactor used to scope
// ledger mutations. Repositories read through DBGetter so they transparently
// join any transaction opened by Transactor.WithinTransaction.
type Postgres struct {
	Pool       *pgxpool.Pool
	Builder    squirrel.StatementBuilderType
	DBGetter   tx.DBGetter
	Transactor *tx.Transactor

	maxPoolSize       int32
	connTimeout       time.Duration
	healthCheckPeriod time.Duration
	isolation         pgx.TxIsoLevel
}

type Option func(*Postgres)

func MaxPoolSize(size int32) Option {
	return func(p *Postgres) {
		p.maxPoolSize = size
	}
}

// ConnTimeout sets the pool connect timeout in seconds.
func ConnTimeout(seconds int) Option {
	return func(p *Postgres) {
		p.connTimeout = time.Duration(seconds) * time.Second
	}
}

// HealthCheckPeriod sets the pool health check period in minutes.
func HealthCheckPeriod(minutes int) Option {
	return func(p *Postgres) {
		p.healthCheckPeriod = time.Duration(minutes) * time.Minute
	}
}

// Isolation sets the default transaction isolation level for the session.
func Isolation(level pgx.TxIsoLevel) Option {
	return func(p *Postgres) {
		p.isolation = level
	}
}

func New(config *cfg.Config, opts ...Option) (*Postgres, error) {
	pg := &Postgres{
		Builder:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		isolation: pgx.ReadCommitted,
	}

	for _, opt := range opts {
		opt(pg)
	}

	poolConfig, err := pgxpool.ParseConfig(config.DB.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	if pg.maxPoolSize > 0 {
		poolConfig.MaxConns = pg.maxPoolSize
	}
	if pg.connTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = pg.connTimeout
	}
	if pg.healthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = pg.healthCheckPeriod
	}
	poolConfig.ConnConfig.RuntimeParams["default_transaction_isolation"] = string(pg.isolation)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for attempt := 1; ; attempt++ {
		pg.Pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			err = pg.Pool.Ping(ctx)
		}
		if err == nil {
			break
		}
		if attempt >= defaultConnAttempts {
			return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", attempt, err)
		}
		time.Sleep(time.Second)
	}

	pg.Transactor, pg.DBGetter = tx.NewTransactorFromPool(pg.Pool)

	return pg, nil
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
