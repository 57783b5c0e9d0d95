package infrastructure

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bulletin-verifier/domain"
)

func NewMySQLConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DB_DSN is not set")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// RunIndex tracks verification runs across processes. Verdicts stay in the
// candidate folders; rows here only record progress and artifact paths.
type RunIndex struct {
	db *gorm.DB
}

func NewRunIndex(db *gorm.DB) (*RunIndex, error) {
	if err := db.AutoMigrate(&domain.VerificationRun{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	log := Logger()
	log.Info().Msg("Run index migrated")
	return &RunIndex{db: db}, nil
}

// Enqueue records a new run in the queued state.
func (r *RunIndex) Enqueue(ctx context.Context, runID, folder string) (*domain.VerificationRun, error) {
	run := domain.VerificationRun{RunID: runID, Folder: folder, Status: domain.RunQueued}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &run, nil
}

func (r *RunIndex) MarkProcessing(ctx context.Context, runID, folder string) error {
	return r.upsert(ctx, runID, folder, map[string]interface{}{"status": domain.RunProcessing})
}

// Complete stores the outcome summary of a finished run.
func (r *RunIndex) Complete(ctx context.Context, runID string, v domain.Verdict, recordPath, reportPath string) error {
	return r.upsert(ctx, runID, v.Folder, map[string]interface{}{
		"status":             domain.RunCompleted,
		"candidate":          v.Candidate,
		"declared_average":   v.DeclaredAverage,
		"official_average":   v.OfficialAverage,
		"concordance":        v.Concordance,
		"discordance_count":  len(v.Discordances),
		"unverifiable_count": len(v.Unverifiable),
		"record_path":        nullable(recordPath),
		"report_path":        nullable(reportPath),
		"error_message":      nil,
	})
}

func (r *RunIndex) Fail(ctx context.Context, runID, folder string, cause error) error {
	msg := cause.Error()
	return r.upsert(ctx, runID, folder, map[string]interface{}{
		"status":        domain.RunFailed,
		"error_message": &msg,
	})
}

// upsert updates the run row, creating it first for runs that were started
// without going through Enqueue.
func (r *RunIndex) upsert(ctx context.Context, runID, folder string, fields map[string]interface{}) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&domain.VerificationRun{}).Where("run_id = ?", runID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the values did not change.
	var n int64
	if err := db.Model(&domain.VerificationRun{}).Where("run_id = ?", runID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to look up run %s: %w", runID, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Enqueue(ctx, runID, folder); err != nil {
		return err
	}
	if err := db.Model(&domain.VerificationRun{}).Where("run_id = ?", runID).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	return nil
}

func (r *RunIndex) Get(ctx context.Context, runID string) (*domain.VerificationRun, error) {
	var run domain.VerificationRun
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &run, nil
}

// ListByFolder returns the runs of one folder, newest first.
func (r *RunIndex) ListByFolder(ctx context.Context, folder string, limit int) ([]domain.VerificationRun, error) {
	var runs []domain.VerificationRun
	q := r.db.WithContext(ctx).Where("folder = ?", folder).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
