package dataio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/import-export-admin/internal/query"
	"github.com/yourusername/import-export-admin/internal/registry"
)

type winner struct {
	ID   uint `gorm:"primaryKey"`
	Name string
	City *string
}

var winnerResource = registry.Resource{Name: "WinnerResource", Fields: []string{"id", "name", "city"}}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&winner{}))
	brno, praha := "Brno", "Praha"
	require.NoError(t, db.Create(&[]winner{
		{Name: "Anna", City: &brno},
		{Name: "Petr", City: &praha},
		{Name: "Jana", City: &brno},
	}).Error)
	return db
}

func TestExportCSV(t *testing.T) {
	db := setupDB(t)
	desc := query.New()
	desc.Filters = []query.Filter{{Field: "city", Op: query.OpExact, Value: "Brno"}}
	desc.Ordering = []string{"-name"}

	var buf bytes.Buffer
	var reported []int
	n, err := Export(context.Background(), db, "winners", winnerResource, desc, registry.FormatCSV, &buf, func(done int) {
		reported = append(reported, done)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "id,name,city\n3,Jana,Brno\n1,Anna,Brno\n", buf.String())
	assert.Equal(t, []int{2}, reported)
}

func TestExportTSVAndJSON(t *testing.T) {
	db := setupDB(t)
	short := registry.Resource{Name: "Short", Fields: []string{"id", "name"}}
	desc := query.New().WithIDs([]uint{2})

	var tsv bytes.Buffer
	_, err := Export(context.Background(), db, "winners", short, desc, registry.FormatTSV, &tsv, nil)
	require.NoError(t, err)
	assert.Equal(t, "id\tname\n2\tPetr\n", tsv.String())

	var js bytes.Buffer
	_, err = Export(context.Background(), db, "winners", short, query.New(), registry.FormatJSON, &js, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(js.String(), `[{"id":1,"name":"Anna"}`), js.String())

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(js.Bytes(), &rows))
	assert.Len(t, rows, 3)
}

func TestExportRejectsEmptyResource(t *testing.T) {
	db := setupDB(t)
	_, err := Export(context.Background(), db, "winners", registry.Resource{Name: "Empty"}, query.New(), registry.FormatCSV, &bytes.Buffer{}, nil)
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	db := setupDB(t)
	desc := query.New()
	desc.Filters = []query.Filter{{Field: "city", Op: query.OpExact, Value: "Brno"}}

	rows, count, err := List(context.Background(), db, "winners", []string{"id", "name"}, desc, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.Len(t, rows, 1)
	assert.Equal(t, "Jana", rows[0]["name"])
}

func TestDefaultResource(t *testing.T) {
	db := setupDB(t)
	r, err := DefaultResource(db, "winners")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id", "name", "city"}, r.Fields)
}

func TestImportCreatesAndUpdates(t *testing.T) {
	db := setupDB(t)
	input := "id,name,city\n1,Anička,Olomouc\n,Karel,\n"

	summary, err := Import(context.Background(), db, "winners", winnerResource, registry.FormatCSV, strings.NewReader(input), false, nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Created: 1, Updated: 1, Committed: true}, summary)

	var got winner
	require.NoError(t, db.First(&got, 1).Error)
	assert.Equal(t, "Anička", got.Name)
	require.NoError(t, db.Where("name = ?", "Karel").First(&got).Error)
	assert.Nil(t, got.City)
}

func TestImportDryRunRollsBack(t *testing.T) {
	db := setupDB(t)
	input := `[{"name":"Karel","city":"Ostrava"},{"id":2,"name":"Petra"}]`

	summary, err := Import(context.Background(), db, "winners", winnerResource, registry.FormatJSON, strings.NewReader(input), true, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Updated)
	assert.True(t, summary.DryRun)
	assert.False(t, summary.Committed)

	var count int64
	require.NoError(t, db.Model(&winner{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
	var petr winner
	require.NoError(t, db.First(&petr, 2).Error)
	assert.Equal(t, "Petr", petr.Name)
}

func TestImportRowErrorRollsBackEverything(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Exec("CREATE UNIQUE INDEX winners_name ON winners(name)").Error)
	input := "id,name\n,Karel\n,Anna\n"

	summary, err := Import(context.Background(), db, "winners", winnerResource, registry.FormatCSV, strings.NewReader(input), false, nil)
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 2, summary.Errors[0].Row)
	assert.False(t, summary.Committed)

	var count int64
	require.NoError(t, db.Model(&winner{}).Where("name = ?", "Karel").Count(&count).Error)
	assert.Zero(t, count)
}

func TestImportRejectsUnknownColumns(t *testing.T) {
	db := setupDB(t)
	_, err := Import(context.Background(), db, "winners", winnerResource, registry.FormatCSV, strings.NewReader("id,password\n1,x\n"), false, nil)
	assert.Error(t, err)
}
