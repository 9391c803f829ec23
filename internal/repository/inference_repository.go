package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Request outcomes stored in InferenceLog.Status.
const (
	StatusSucceeded = "succeeded"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// InferenceLog is the audit row written for every inference request.
type InferenceLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Format     string    `gorm:"column:format;size:16"`
	Width      int       `gorm:"column:width"`
	Height     int       `gorm:"column:height"`
	Label      string    `gorm:"column:label;size:64"`
	Percentage *float64  `gorm:"column:percentage"`
	Status     string    `gorm:"column:status;size:16;index"`
	ErrorKind  string    `gorm:"column:error_kind;size:64"`
	Details    string    `gorm:"column:details;type:text"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName overrides the default table name.
func (InferenceLog) TableName() string {
	return "inference_logs"
}

// MetricsAggregation holds raw aggregates over all audit rows.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	RejectedCount     int64
	AveragePercentage float64
	AverageLatencyMs  float64
}

// InferenceRepository provides persistence APIs for inference audit logs.
type InferenceRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured database.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	logger.Info("database connected", zap.String("driver", driver))
	return db, nil
}

// NewInferenceRepository creates a new repository instance.
func NewInferenceRepository(db *gorm.DB, logger *zap.Logger) *InferenceRepository {
	return &InferenceRepository{db: db, logger: logger.Named("inference_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *InferenceRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&InferenceLog{})
}

// SaveLog persists an audit entry.
func (r *InferenceRepository) SaveLog(ctx context.Context, log *InferenceLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByRequestID retrieves the audit entry of one request.
func (r *InferenceRepository) FindByRequestID(ctx context.Context, requestID string) (*InferenceLog, error) {
	var log InferenceLog
	if err := r.db.WithContext(ctx).First(&log, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics computes counts and averages over all audit rows.
func (r *InferenceRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount        int64
		SuccessCount      int64
		RejectedCount     int64
		AveragePercentage *float64
		AverageLatencyMs  *float64
	}
	err := r.db.WithContext(ctx).Model(&InferenceLog{}).
		Select(
			"COUNT(*) AS total_count, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success_count, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS rejected_count, "+
				"AVG(percentage) AS average_percentage, "+
				"AVG(latency_ms) AS average_latency_ms",
			StatusSucceeded, StatusRejected,
		).
		Scan(&row).Error
	if err != nil {
		r.logger.Error("metrics aggregation failed", zap.Error(err))
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:    row.TotalCount,
		SuccessCount:  row.SuccessCount,
		RejectedCount: row.RejectedCount,
	}
	if row.AveragePercentage != nil {
		agg.AveragePercentage = *row.AveragePercentage
	}
	if row.AverageLatencyMs != nil {
		agg.AverageLatencyMs = *row.AverageLatencyMs
	}
	return agg, nil
}
