// Package tokenstore keeps a persistent record of invalid and expired device
// tokens so later runs can skip them.
package tokenstore

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"golang.org/x/sync/semaphore"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/liuyaodong/APNPush/internal/apns"
	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
	"github.com/liuyaodong/APNPush/internal/observability/metrics"
)

const (
	defaultMaxWrites   = 4
	slowQueryThreshold = 200 * time.Millisecond
)

// Store records bad tokens. It is safe for concurrent use; concurrent writes
// are bounded so rejection and feedback bursts queue up instead of piling
// onto the database.
type Store struct {
	db      *gorm.DB
	writes  *semaphore.Weighted
	metrics *metrics.TokenStoreMetrics
	log     logger.Logger
}

// Option customises a Store.
type Option func(*options)

type options struct {
	maxWrites int64
	metrics   *metrics.TokenStoreMetrics
}

// WithMetrics records operation counts and latency.
func WithMetrics(m *metrics.TokenStoreMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxConcurrentWrites bounds in-flight writes.
func WithMaxConcurrentWrites(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWrites = int64(n)
		}
	}
}

func mysqlDSN(settings conf.DatabaseSettings) string {
	m := settings.MySQL
	cfg := mysqldriver.NewConfig()
	cfg.User = m.Username
	cfg.Passwd = m.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.Host, m.Port)
	cfg.DBName = m.Database
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open connects to the database described by settings and migrates the
// schema.
func Open(settings conf.DatabaseSettings, opts ...Option) (*Store, error) {
	switch settings.Type {
	case conf.DatabaseMySQL:
		return OpenDialector(mysql.Open(mysqlDSN(settings)), opts...)
	default:
		if dir := filepath.Dir(settings.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(err).
					Component("tokenstore").
					Category(errors.CategoryFileIO).
					Context("path", dir).
					Context("operation", "create_database_dir").
					Build()
			}
		}
		// sqlite serializes writers anyway
		return OpenDialector(sqlite.Open(settings.Path), append([]Option{WithMaxConcurrentWrites(1)}, opts...)...)
	}
}

// OpenDialector opens a store on an arbitrary gorm dialector.
func OpenDialector(dialector gorm.Dialector, opts ...Option) (*Store, error) {
	o := options{maxWrites: defaultMaxWrites}
	for _, opt := range opts {
		opt(&o)
	}

	log := GetLogger()
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryDatabase).
			Context("dialector", dialector.Name()).
			Context("operation", "open_database").
			Build()
	}

	if dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err == nil {
			// a single connection keeps :memory: databases shared
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.AutoMigrate(&InvalidToken{}); err != nil {
		return nil, errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}

	s := &Store{
		db:      db,
		writes:  semaphore.NewWeighted(o.maxWrites),
		metrics: o.metrics,
		log:     log,
	}
	s.refreshKnownBad(context.Background())
	log.Info("token store ready", logger.String("dialector", dialector.Name()))
	return s, nil
}

// RecordRejection stores a token the gateway rejected.
func (s *Store) RecordRejection(ctx context.Context, token string, status apns.Status) error {
	return s.record(ctx, InvalidToken{
		Token:      token,
		Reason:     status.String(),
		Source:     SourceRejection,
		ReportedAt: time.Now(),
	})
}

// RecordFeedback stores a token reported by the feedback service.
func (s *Store) RecordFeedback(ctx context.Context, tuple apns.FeedbackTuple) error {
	return s.record(ctx, InvalidToken{
		Token:      tuple.TokenHex(),
		Reason:     "EXPIRED",
		Source:     SourceFeedback,
		ReportedAt: tuple.Timestamp,
	})
}

// record inserts the token or, when it is already known, refreshes it and
// bumps its occurrence count.
func (s *Store) record(ctx context.Context, t InvalidToken) error {
	if err := s.writes.Acquire(ctx, 1); err != nil {
		return errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryCancellation).
			Context("operation", metrics.OpRecordToken).
			Build()
	}
	defer s.writes.Release(1)

	start := time.Now()
	t.Occurrences = 1
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token"}},
		DoUpdates: clause.Assignments(map[string]any{
			"reason":      t.Reason,
			"source":      t.Source,
			"reported_at": t.ReportedAt,
			"updated_at":  time.Now(),
			"occurrences": gorm.Expr("occurrences + 1"),
		}),
	}).Create(&t).Error
	s.metrics.RecordOperation(metrics.OpRecordToken, time.Since(start).Seconds(), err)

	if err != nil {
		return errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryDatabase).
			Context("operation", metrics.OpRecordToken).
			Context("source", t.Source).
			Build()
	}
	s.refreshKnownBad(ctx)
	return nil
}

// IsKnownBad reports whether token has been recorded.
func (s *Store) IsKnownBad(ctx context.Context, token string) (bool, error) {
	start := time.Now()
	var count int64
	err := s.db.WithContext(ctx).Model(&InvalidToken{}).Where("token = ?", token).Count(&count).Error
	s.metrics.RecordOperation(metrics.OpLookupToken, time.Since(start).Seconds(), err)
	if err != nil {
		return false, errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryDatabase).
			Context("operation", metrics.OpLookupToken).
			Build()
	}
	return count > 0, nil
}

// List returns up to limit records, most recently reported first. A limit of
// zero or less returns every record.
func (s *Store) List(ctx context.Context, limit int) ([]InvalidToken, error) {
	start := time.Now()
	var tokens []InvalidToken
	q := s.db.WithContext(ctx).Order("reported_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&tokens).Error
	s.metrics.RecordOperation(metrics.OpListTokens, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryDatabase).
			Context("operation", metrics.OpListTokens).
			Build()
	}
	return tokens, nil
}

// Count returns the number of distinct bad tokens.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&InvalidToken{}).Count(&count).Error; err != nil {
		return 0, errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryDatabase).
			Context("operation", "count_tokens").
			Build()
	}
	return count, nil
}

func (s *Store) refreshKnownBad(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	count, err := s.Count(ctx)
	if err != nil {
		s.log.Debug("failed to refresh known bad count", logger.Error(err))
		return
	}
	s.metrics.SetKnownBad(count)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.New(err).
			Component("tokenstore").
			Category(errors.CategoryDatabase).
			Context("operation", "close_database").
			Build()
	}
	return sqlDB.Close()
}
