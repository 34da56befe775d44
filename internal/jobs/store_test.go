package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/import-export-admin/internal/models"
	"github.com/yourusername/import-export-admin/internal/query"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// :memory: は接続ごとに別 DB になるため1本に絞る
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewStore(openTestDB(s.T()))
	s.Require().NoError(s.store.Migrate(s.ctx))
}

func (s *StoreSuite) TestCreateAndGet() {
	job := &models.ImportJob{Model: "Winner", Format: "text/csv", Author: "admin"}
	s.Require().NoError(s.store.CreateImport(s.ctx, job))
	s.NotZero(job.ID)

	got, err := s.store.GetImport(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal("Winner", got.Model)
	s.Equal("admin", got.Author)

	_, err = s.store.GetExport(s.ctx, 999)
	s.True(errors.Is(err, ErrNotFound))
}

func (s *StoreSuite) TestUpdateFields() {
	job := &models.ExportJob{AppLabel: "winners", Model: "winner", Format: "text/csv"}
	s.Require().NoError(s.store.CreateExport(s.ctx, job))

	s.Require().NoError(s.store.UpdateFields(s.ctx, models.DirectionExport, job.ID, map[string]interface{}{
		"job_status": "5/5 Export job finished",
		"file":       "exports/x.csv",
	}))
	got, err := s.store.GetExport(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal("5/5 Export job finished", got.JobStatus)
	s.Equal("exports/x.csv", got.File)

	err = s.store.UpdateFields(s.ctx, models.DirectionExport, 999, map[string]interface{}{"file": "y"})
	s.True(errors.Is(err, ErrNotFound))
}

func (s *StoreSuite) TestMarkProcessingInitiatedOnlyOnce() {
	job := &models.ImportJob{Model: "Winner", Format: "text/csv"}
	s.Require().NoError(s.store.CreateImport(s.ctx, job))

	now := time.Now()
	ok, err := s.store.MarkProcessingInitiated(s.ctx, models.DirectionImport, job.ID, now)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.MarkProcessingInitiated(s.ctx, models.DirectionImport, job.ID, now.Add(time.Minute))
	s.Require().NoError(err)
	s.False(ok)
}

func (s *StoreSuite) TestListAndDelete() {
	for _, model := range []string{"Winner", "Prize", "Winner"} {
		s.Require().NoError(s.store.CreateImport(s.ctx, &models.ImportJob{Model: model, Format: "text/csv"}))
	}

	desc := query.New()
	desc.Filters = []query.Filter{{Field: "model", Op: query.OpExact, Value: "Winner"}}
	desc.Ordering = []string{"-id"}
	items, count, err := s.store.ListImports(s.ctx, desc, 1, 0)
	s.Require().NoError(err)
	s.Equal(int64(2), count)
	s.Require().Len(items, 1)
	s.Equal(uint(3), items[0].ID)

	s.Require().NoError(s.store.Delete(s.ctx, models.DirectionImport, 3))
	s.True(errors.Is(s.store.Delete(s.ctx, models.DirectionImport, 3), ErrNotFound))

	_, count, err = s.store.ListImports(s.ctx, query.New(), 0, 0)
	s.Require().NoError(err)
	s.Equal(int64(2), count)
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}
