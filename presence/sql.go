package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// LastSeenRecord is one row of the last_seen_records table
type LastSeenRecord struct {
	UserID    string    `gorm:"primaryKey;size:255"`
	Timestamp time.Time `gorm:"not null"`
}

// SQLStore keeps last-seen timestamps in a relational table through gorm
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore connects to the postgres database at dsn and migrates the last seen table
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "error connecting to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "error getting underlying sql.DB")
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "error pinging database")
	}

	store, err := NewSQLStore(db)
	if err != nil {
		return nil, err
	}

	logrus.WithField("comp", "presence").Info("connected to database")
	return store, nil
}

// NewSQLStore wraps an open gorm handle, creating the table if needed
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&LastSeenRecord{}); err != nil {
		return nil, errors.Wrap(err, "error migrating last seen table")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) GetAll(ctx context.Context) (map[string]time.Time, error) {
	var records []LastSeenRecord
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, errors.Wrap(err, "error reading last seen records")
	}

	all := make(map[string]time.Time, len(records))
	for _, r := range records {
		all[r.UserID] = r.Timestamp.UTC()
	}
	return all, nil
}

func (s *SQLStore) GetOne(ctx context.Context, userID string) (time.Time, bool, error) {
	var record LastSeenRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "error reading last seen for %s", userID)
	}
	return record.Timestamp.UTC(), true, nil
}

func (s *SQLStore) Upsert(ctx context.Context, userID string, at time.Time) error {
	record := &LastSeenRecord{UserID: userID, Timestamp: at.UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"timestamp": gorm.Expr("GREATEST(last_seen_records.timestamp, excluded.timestamp)"),
		}),
	}).Create(record).Error
	if err != nil {
		return errors.Wrapf(err, "error writing last seen for %s", userID)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
