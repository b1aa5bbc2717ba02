// internal/persistence/postgres.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/collab-monolith/common/backoff"
	"github.com/YaganovValera/collab-monolith/common/logger"
	"github.com/YaganovValera/collab-monolith/common/telemetry"
)

var tracer = telemetry.Tracer("collab-monolith/persistence")

// PostgresConfig описывает подключение к PostgreSQL.
type PostgresConfig struct {
	DSN            string         `mapstructure:"dsn"`
	ConnectTimeout time.Duration  `mapstructure:"connect_timeout"`
	Backoff        backoff.Config `mapstructure:"backoff"`
}

// Enabled — false, если DSN не задан (используется in-memory вариант).
func (c PostgresConfig) Enabled() bool { return c.DSN != "" }

const uniqueViolation = "23505"

const createUsersTable = `CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	last_login    TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
)`

// PostgresUserStorage реализует UserStorage поверх pgxpool.
type PostgresUserStorage struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresUserStorage подключается к БД (ping с back-off) и создаёт таблицу users.
func NewPostgresUserStorage(ctx context.Context, cfg PostgresConfig, log *logger.Logger) (*PostgresUserStorage, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	log = log.Named("postgres")

	pgxCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pgxCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	db, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	err = backoff.Execute(ctx, "postgres_ping", cfg.Backoff, log, func(ctx context.Context) error {
		return db.Ping(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := db.Exec(ctx, createUsersTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate users: %w", err)
	}
	return &PostgresUserStorage{db: db, log: log}, nil
}

func (s *PostgresUserStorage) SaveUser(ctx context.Context, nu NewUser) (User, error) {
	ctx, span := tracer.Start(ctx, "Postgres.SaveUser")
	defer span.End()

	u, err := prepareUser(nu)
	if err != nil {
		return User{}, err
	}
	u.ID = uuid.NewString()

	const query = `INSERT INTO users (id, username, email, password_hash, last_login, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

	start := time.Now()
	_, err = s.db.Exec(ctx, query, u.ID, u.Username, u.Email, u.PasswordHash, u.LastLogin, u.CreatedAt)
	observe("postgres", "save_user", start, err)
	if err != nil {
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, fmt.Errorf("%w: username %q already exists", ErrValidation, u.Username)
		}
		s.log.WithContext(ctx).Error("insert user failed", zap.String("username", u.Username), zap.Error(err))
		return User{}, fmt.Errorf("%w: insert user: %v", ErrPersistence, err)
	}
	return u, nil
}

func (s *PostgresUserStorage) LoadUserByID(ctx context.Context, id string) (User, error) {
	ctx, span := tracer.Start(ctx, "Postgres.LoadUserByID", trace.WithAttributes(attribute.String("user.id", id)))
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}

	const query = `SELECT id, username, email, password_hash, last_login, created_at
	FROM users WHERE id = $1`

	var u User
	start := time.Now()
	err := s.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.LastLogin, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		observe("postgres", "load_user", start, nil)
		return User{}, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	observe("postgres", "load_user", start, err)
	if err != nil {
		span.RecordError(err)
		s.log.WithContext(ctx).Error("select user failed", zap.String("id", id), zap.Error(err))
		return User{}, fmt.Errorf("%w: select user: %v", ErrPersistence, err)
	}
	return u, nil
}

// Close закрывает пул соединений.
func (s *PostgresUserStorage) Close() {
	s.db.Close()
}
