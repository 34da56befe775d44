package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/import-export-admin/internal/models"
	"github.com/yourusername/import-export-admin/internal/query"
)

// ErrNotFound はジョブが存在しない場合に返ります。
var ErrNotFound = errors.New("job not found")

// Store はジョブレコードをデータベースに保存します。
type Store struct {
	db *gorm.DB
}

// NewStore は Store を作成します。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB は内部の gorm.DB を返します。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate はジョブテーブルを作成・更新します。
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.ImportJob{}, &models.ExportJob{})
}

// CreateImport はインポートジョブを作成します。
func (s *Store) CreateImport(ctx context.Context, job *models.ImportJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// CreateExport はエクスポートジョブを作成します。
func (s *Store) CreateExport(ctx context.Context, job *models.ExportJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// GetImport は ID からインポートジョブを取得します。
func (s *Store) GetImport(ctx context.Context, id uint) (*models.ImportJob, error) {
	return get[models.ImportJob](ctx, s.db, id)
}

// GetExport は ID からエクスポートジョブを取得します。
func (s *Store) GetExport(ctx context.Context, id uint) (*models.ExportJob, error) {
	return get[models.ExportJob](ctx, s.db, id)
}

// SaveImport はインポートジョブ全体を保存します。
func (s *Store) SaveImport(ctx context.Context, job *models.ImportJob) error {
	return s.db.WithContext(ctx).Save(job).Error
}

// SaveExport はエクスポートジョブ全体を保存します。
func (s *Store) SaveExport(ctx context.Context, job *models.ExportJob) error {
	return s.db.WithContext(ctx).Save(job).Error
}

// UpdateFields は指定したカラムだけを更新します。
func (s *Store) UpdateFields(ctx context.Context, direction models.Direction, id uint, fields map[string]interface{}) error {
	model, err := modelFor(direction)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, direction, id)
	}
	return nil
}

// MarkProcessingInitiated は processing_initiated が未設定のときだけ時刻を設定します。
// 設定できた場合 true を返します。二重投入の防止に使います。
func (s *Store) MarkProcessingInitiated(ctx context.Context, direction models.Direction, id uint, at time.Time) (bool, error) {
	model, err := modelFor(direction)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND processing_initiated IS NULL", id).
		Update("processing_initiated", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Delete はジョブを削除します。
func (s *Store) Delete(ctx context.Context, direction models.Direction, id uint) error {
	model, err := modelFor(direction)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Delete(model, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, direction, id)
	}
	return nil
}

// ListImports は条件に合うインポートジョブと総件数を返します。
func (s *Store) ListImports(ctx context.Context, desc query.Descriptor, limit, offset int) ([]models.ImportJob, int64, error) {
	return list[models.ImportJob](ctx, s.db, desc, limit, offset)
}

// ListExports は条件に合うエクスポートジョブと総件数を返します。
func (s *Store) ListExports(ctx context.Context, desc query.Descriptor, limit, offset int) ([]models.ExportJob, int64, error) {
	return list[models.ExportJob](ctx, s.db, desc, limit, offset)
}

func get[T any](ctx context.Context, db *gorm.DB, id uint) (*T, error) {
	var record T
	err := db.WithContext(ctx).First(&record, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &record, nil
}

func list[T any](ctx context.Context, db *gorm.DB, desc query.Descriptor, limit, offset int) ([]T, int64, error) {
	var zero T
	filtered, err := desc.Where(db.WithContext(ctx).Model(&zero))
	if err != nil {
		return nil, 0, err
	}
	base := filtered.Session(&gorm.Session{})

	var count int64
	// 件数は並び順なしで数える
	if err := base.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var records []T
	q := desc.OrderBy(base)
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return records, count, nil
}

func modelFor(direction models.Direction) (interface{}, error) {
	switch direction {
	case models.DirectionImport:
		return &models.ImportJob{}, nil
	case models.DirectionExport:
		return &models.ExportJob{}, nil
	default:
		return nil, fmt.Errorf("unknown direction: %s", direction)
	}
}
