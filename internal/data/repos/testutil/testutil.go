package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	dbpkg "github.com/subgate-microservice/subgate-sub000/internal/data/db"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		mode := os.Getenv("TEST_LOG_MODE")
		if mode == "" {
			mode = "nop"
		}
		logg, logErr = logger.New(mode)
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}
}

// DB opens a private, migrated in-memory SQLite database. The pool holds a
// single connection, so a test must not read through the returned handle
// while a unit of work on it still has an open transaction.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s-%s?mode=memory&cache=shared&_busy_timeout=5000",
		sanitize(tb.Name()), uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := dbpkg.AutoMigrateAll(db); err != nil {
		tb.Fatalf("migrate sqlite: %v", err)
	}
	return db
}

// PostgresDB returns a shared migrated Postgres handle, skipping the test
// unless TEST_POSTGRES_DSN is set.
func PostgresDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	pgOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}
		var err error
		pgDB, err = gorm.Open(postgres.Open(dsn), gormConfig())
		if err != nil {
			pgErr = err
			return
		}
		pgErr = dbpkg.AutoMigrateAll(pgDB)
	})

	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run postgres integration tests")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init test db: %v", pgErr)
	}
	return pgDB
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// TxSession serves a fixed transaction to repositories under test.
type TxSession struct {
	Tx     *gorm.DB
	Closed error
}

func (s *TxSession) DB(ctx context.Context) (*gorm.DB, error) {
	if s.Closed != nil {
		return nil, s.Closed
	}
	return s.Tx.WithContext(ctx), nil
}

func (s *TxSession) Err() error { return s.Closed }

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
