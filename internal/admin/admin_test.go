package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/import-export-admin/internal/auth"
	"github.com/yourusername/import-export-admin/internal/jobs"
	"github.com/yourusername/import-export-admin/internal/models"
	"github.com/yourusername/import-export-admin/internal/registry"
	"github.com/yourusername/import-export-admin/internal/storage"
)

type winner struct {
	ID   uint `gorm:"primaryKey"`
	Name string
	City string
}

var winnerSettings = registry.ModelSettings{
	AppLabel: "winners",
	Model:    "winner",
	Table:    "winners",
	Resources: []registry.ResourceChoice{
		{Key: "full", Label: "All columns", Resource: registry.Resource{Name: "WinnerResource", Fields: []string{"id", "name", "city"}}},
	},
	Filterable: []string{"city"},
	AdminResources: []registry.Resource{
		{Name: "WinnerResource", Fields: []string{"id", "name", "city"}},
		{Name: "NameOnlyResource", Fields: []string{"name"}},
	},
}

type savedExport struct {
	id      uint
	created bool
}

type fakeScheduler struct {
	mu             sync.Mutex
	importsCreated []uint
	exportsSaved   []savedExport
	importRuns     []uint
	dryRuns        []uint
	exportRuns     []uint
	err            error
}

func (f *fakeScheduler) ImportCreated(ctx context.Context, job *models.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importsCreated = append(f.importsCreated, job.ID)
	return f.err
}

func (f *fakeScheduler) ExportSaved(ctx context.Context, job *models.ExportJob, created bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportsSaved = append(f.exportsSaved, savedExport{id: job.ID, created: created})
	return f.err
}

func (f *fakeScheduler) RunImport(ctx context.Context, id uint, dryRun bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dryRun {
		f.dryRuns = append(f.dryRuns, id)
	} else {
		f.importRuns = append(f.importRuns, id)
	}
	return f.err
}

func (f *fakeScheduler) RunExport(ctx context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exportRuns = append(f.exportRuns, id)
	return f.err
}

type adminEnv struct {
	ctx       context.Context
	db        *gorm.DB
	store     *jobs.Store
	files     *storage.Local
	mr        *miniredis.Miniredis
	scheduler *fakeScheduler
	router    *gin.Engine
	logs      *observer.ObservedLogs
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db := openTestDB(t)
	store := jobs.NewStore(db)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, db.AutoMigrate(&winner{}))
	require.NoError(t, db.Create(&[]winner{
		{Name: "Anna", City: "Brno"},
		{Name: "Petr", City: "Praha"},
		{Name: "Jana", City: "Brno"},
	}).Error)

	reg := registry.New()
	require.NoError(t, reg.Register("Winner", winnerSettings))

	files, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(zapcore.NewTee(zaptest.NewLogger(t).Core(), core))
	scheduler := &fakeScheduler{}
	site := NewSite(log)
	require.NoError(t, site.Register(NewTableAdmin(winnerSettings, ExportDeps{
		DB: db, Registry: reg, Store: store, Scheduler: scheduler, Logger: log,
	})))
	jobDeps := JobDeps{
		Store:       store,
		Status:      jobs.NewStatusCache(rdb, time.Hour, log),
		Scheduler:   scheduler,
		Files:       files,
		Registry:    reg,
		MaxFileSize: 1 << 20,
		Logger:      log,
	}
	require.NoError(t, site.Register(NewImportJobAdmin(jobDeps, map[string]registry.ModelSettings{"Winner": winnerSettings})))
	require.NoError(t, site.Register(NewExportJobAdmin(jobDeps)))

	router := gin.New()
	group := router.Group(Prefix, func(c *gin.Context) {
		c.Set(auth.ContextUserKey, "admin")
		c.Next()
	})
	site.Mount(group)

	return &adminEnv{
		ctx:       ctx,
		db:        db,
		store:     store,
		files:     files,
		mr:        mr,
		scheduler: scheduler,
		router:    router,
		logs:      logs,
	}
}

func (e *adminEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (e *adminEnv) postForm(t *testing.T, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *adminEnv) postMultipart(t *testing.T, path string, values url.Values, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for key, vs := range values {
		for _, v := range vs {
			require.NoError(t, w.WriteField(key, v))
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *adminEnv) exportJobs(t *testing.T) []models.ExportJob {
	t.Helper()
	var out []models.ExportJob
	require.NoError(t, e.db.Order("id").Find(&out).Error)
	return out
}

func (e *adminEnv) importJobs(t *testing.T) []models.ImportJob {
	t.Helper()
	var out []models.ImportJob
	require.NoError(t, e.db.Order("id").Find(&out).Error)
	return out
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
