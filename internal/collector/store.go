package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/birdnet-edge/internal/conf"
	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/event"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

const (
	slowQueryThreshold = 200 * time.Millisecond
	mysqlTimeout       = "5s"
)

// DetectionRecord is one species of a received event
type DetectionRecord struct {
	ID             uint   `gorm:"primaryKey"`
	EventID        string `gorm:"size:128;uniqueIndex:idx_event_label"`
	NodeID         string `gorm:"size:128;index"`
	Label          string `gorm:"size:255;uniqueIndex:idx_event_label"`
	Species        string `gorm:"size:255;index"`
	ScientificName string `gorm:"size:255"`
	Confidence     float64
	StartSeconds   float64
	EndSeconds     float64
	DetectedAt     time.Time `gorm:"index"`
	LocalTime      string    `gorm:"size:40"`
	Latitude       float64
	Longitude      float64
	SunPhase       string `gorm:"size:16"`
	Source         string `gorm:"size:255"`
	Partial        bool
	ReceivedAt     time.Time
}

// TableName overrides the gorm default
func (DetectionRecord) TableName() string { return "detections" }

// YearlySummary is the per year and species rollup
type YearlySummary struct {
	ID              uint   `gorm:"primaryKey"`
	Year            int    `gorm:"uniqueIndex:idx_year_species"`
	Species         string `gorm:"size:255;uniqueIndex:idx_year_species"`
	ScientificName  string `gorm:"size:255"`
	TotalDetections int64
	FirstSeen       time.Time
	LastSeen        time.Time
	MaxConfidence   float64
}

// TableName overrides the gorm default
func (YearlySummary) TableName() string { return "yearly_summaries" }

// Store persists received events
type Store interface {
	Save(ctx context.Context, ev *event.DetectionEvent) (int, error)
	Close() error
}

// GormStore is a Store backed by SQLite or MySQL
type GormStore struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

// OpenStore opens the configured database and migrates the schema
func OpenStore(settings conf.StoreSettings) (*GormStore, error) {
	var dialector gorm.Dialector

	switch settings.Driver {
	case "", conf.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(settings.Path), 0o755); err != nil {
			return nil, storeError(err, "create_directory")
		}
		dialector = sqlite.Open(settings.Path)
	case conf.DriverMySQL:
		dsn, err := mysqlDSN(settings.DSN)
		if err != nil {
			return nil, storeError(err, "parse_dsn")
		}
		dialector = gormmysql.Open(dsn)
	default:
		return nil, errors.Newf("unsupported store driver %q", settings.Driver).
			Component("collector").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), slowQueryThreshold),
	})
	if err != nil {
		return nil, storeError(err, "open")
	}

	if err := db.AutoMigrate(&DetectionRecord{}, &YearlySummary{}); err != nil {
		closeDB(db)
		return nil, storeError(err, "migrate")
	}

	driver := settings.Driver
	if driver == "" {
		driver = conf.DriverSQLite
	}
	target := settings.Path
	if driver == conf.DriverMySQL {
		target = logger.RedactEndpoint(settings.DSN)
	}
	GetLogger().Info("collector store opened",
		logger.String("driver", driver),
		logger.String("target", target))

	return &GormStore{db: db, driver: driver, log: GetLogger()}, nil
}

// mysqlDSN normalizes a MySQL DSN so time columns scan into time.Time
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout, _ = time.ParseDuration(mysqlTimeout)
	}
	return cfg.FormatDSN(), nil
}

// Save stores one row per detection and updates the yearly rollup. Detections
// already stored for the event are skipped, so a replayed event is not counted
// twice. It returns the number of new rows.
func (s *GormStore) Save(ctx context.Context, ev *event.DetectionEvent) (int, error) {
	if ev == nil || ev.EventID == "" {
		return 0, errors.Newf("event without id").
			Component("collector").
			Category(errors.CategoryValidation).
			Build()
	}

	received := time.Now().UTC()
	detectedAt := ev.TimestampUTC.UTC()
	stored := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range ev.Detections {
			d := &ev.Detections[i]
			rec := DetectionRecord{
				EventID:        ev.EventID,
				NodeID:         ev.NodeID,
				Label:          recordLabel(d),
				Species:        d.Species,
				ScientificName: d.ScientificName,
				Confidence:     d.Confidence,
				StartSeconds:   d.StartSeconds,
				EndSeconds:     d.EndSeconds,
				DetectedAt:     detectedAt,
				LocalTime:      ev.LocalTime,
				Latitude:       ev.Metadata.Location.Latitude,
				Longitude:      ev.Metadata.Location.Longitude,
				SunPhase:       ev.Metadata.SunPhase,
				Source:         ev.Metadata.Source,
				Partial:        ev.Metadata.Partial,
				ReceivedAt:     received,
			}

			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			stored++

			if err := updateSummary(tx, d, detectedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storeError(err, "save")
	}
	return stored, nil
}

func recordLabel(d *event.Detection) string {
	if d.Label != "" {
		return d.Label
	}
	return d.Species
}

// updateSummary folds one detection into its (year, species) rollup
func updateSummary(tx *gorm.DB, d *event.Detection, at time.Time) error {
	var sum YearlySummary
	err := tx.Where("year = ? AND species = ?", at.Year(), d.Species).First(&sum).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		sum = YearlySummary{
			Year:            at.Year(),
			Species:         d.Species,
			ScientificName:  d.ScientificName,
			TotalDetections: 1,
			FirstSeen:       at,
			LastSeen:        at,
			MaxConfidence:   d.Confidence,
		}
		return tx.Create(&sum).Error
	case err != nil:
		return err
	}

	sum.TotalDetections++
	if at.Before(sum.FirstSeen) {
		sum.FirstSeen = at
	}
	if at.After(sum.LastSeen) {
		sum.LastSeen = at
	}
	sum.MaxConfidence = max(sum.MaxConfidence, d.Confidence)
	return tx.Save(&sum).Error
}

// Detections returns the stored rows of an event, highest confidence first
func (s *GormStore) Detections(ctx context.Context, eventID string) ([]DetectionRecord, error) {
	var recs []DetectionRecord
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("confidence DESC").
		Find(&recs).Error
	if err != nil {
		return nil, storeError(err, "query_detections")
	}
	return recs, nil
}

// YearlySummaries returns the rollups of year, most detected species first
func (s *GormStore) YearlySummaries(ctx context.Context, year int) ([]YearlySummary, error) {
	var sums []YearlySummary
	err := s.db.WithContext(ctx).
		Where("year = ?", year).
		Order("total_detections DESC").
		Order("species").
		Find(&sums).Error
	if err != nil {
		return nil, storeError(err, "query_summaries")
	}
	return sums, nil
}

// Driver returns the database driver name
func (s *GormStore) Driver() string {
	return s.driver
}

// Close closes the database
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storeError(err, "close")
	}
	return sqlDB.Close()
}

func storeError(err error, op string) error {
	return errors.New(fmt.Errorf("collector store %s: %w", op, err)).
		Component("collector").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

// closeDB releases the pool of a database that could not be set up
func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
