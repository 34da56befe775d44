package query

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func allowOnly(fields ...string) func(string) bool {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return func(f string) bool {
		_, ok := set[f]
		return ok
	}
}

func TestFromValues(t *testing.T) {
	values, err := url.ParseQuery("city=Brno&name__icontains=an&secret=x&o=-name,city,evil;drop&p=2&score__bogus=1")
	require.NoError(t, err)

	d := FromValues(values, allowOnly("city", "name", "score"))

	assert.Equal(t, CurrentVersion, d.Version)
	assert.Equal(t, []Filter{
		{Field: "city", Op: OpExact, Value: "Brno"},
		{Field: "name", Op: OpIContains, Value: "an"},
	}, d.Filters)
	assert.Equal(t, []string{"-name", "city"}, d.Ordering)
	assert.Empty(t, d.IDs)
}

func TestBase64RoundTripIsByteExact(t *testing.T) {
	d := New()
	d.Filters = []Filter{{Field: "city", Op: OpIn, Value: "Brno,Praha"}}
	d.Ordering = []string{"-id"}
	d = d.WithIDs([]uint{3, 1, 2})

	raw, err := d.Encode()
	require.NoError(t, err)
	encoded, err := d.EncodeBase64()
	require.NoError(t, err)

	decodedBytes, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(raw, decodedBytes))

	back, err := DecodeBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, d, back)
	assert.Equal(t, []uint{3, 1, 2}, back.IDs, "selection order must survive")
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version":99}`))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))

	_, err = Decode([]byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnsupportedVersion))

	_, err = DecodeBase64("%%%")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	d := New()
	d.Filters = []Filter{{Field: "city", Op: OpExact, Value: "Brno"}}
	d.Ordering = []string{"-name"}

	assert.NoError(t, d.Validate(allowOnly("city", "name")))
	assert.Error(t, d.Validate(allowOnly("city")))

	bad := New()
	bad.Filters = []Filter{{Field: "city", Op: OpIsNull, Value: "maybe"}}
	assert.Error(t, bad.Validate(nil))

	injected := New()
	injected.Filters = []Filter{{Field: "city; drop table x", Op: OpExact, Value: "1"}}
	assert.Error(t, injected.Validate(nil))
}

type winner struct {
	ID    uint
	Name  string
	City  *string
	Score int
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// :memory: はコネクションごとに別DBになるため1本に固定する
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&winner{}))

	brno, praha := "Brno", "Praha"
	rows := []winner{
		{ID: 1, Name: "Anna", City: &brno, Score: 10},
		{ID: 2, Name: "Bob", City: &praha, Score: 20},
		{ID: 3, Name: "Hana", City: &brno, Score: 30},
		{ID: 4, Name: "Ivan", City: nil, Score: 40},
	}
	require.NoError(t, db.Create(&rows).Error)
	return db
}

func names(t *testing.T, db *gorm.DB, d Descriptor) []string {
	t.Helper()
	q, err := d.Apply(db.Model(&winner{}))
	require.NoError(t, err)
	var rows []winner
	require.NoError(t, q.Find(&rows).Error)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Name
	}
	return out
}

func TestApply(t *testing.T) {
	db := setupDB(t)

	tests := []struct {
		name string
		d    Descriptor
		want []string
	}{
		{
			name: "no filters orders by id",
			d:    New(),
			want: []string{"Anna", "Bob", "Hana", "Ivan"},
		},
		{
			name: "exact and descending order",
			d:    Descriptor{Version: 1, Filters: []Filter{{Field: "city", Op: OpExact, Value: "Brno"}}, Ordering: []string{"-name"}},
			want: []string{"Hana", "Anna"},
		},
		{
			name: "in",
			d:    Descriptor{Version: 1, Filters: []Filter{{Field: "name", Op: OpIn, Value: "Bob, Ivan"}}},
			want: []string{"Bob", "Ivan"},
		},
		{
			name: "icontains",
			d:    Descriptor{Version: 1, Filters: []Filter{{Field: "name", Op: OpIContains, Value: "AN"}}},
			want: []string{"Anna", "Hana", "Ivan"},
		},
		{
			name: "range",
			d: Descriptor{Version: 1, Filters: []Filter{
				{Field: "score", Op: OpGTE, Value: "20"},
				{Field: "score", Op: OpLTE, Value: "30"},
			}},
			want: []string{"Bob", "Hana"},
		},
		{
			name: "isnull",
			d:    Descriptor{Version: 1, Filters: []Filter{{Field: "city", Op: OpIsNull, Value: "true"}}},
			want: []string{"Ivan"},
		},
		{
			name: "is not null with selected ids",
			d:    Descriptor{Version: 1, Filters: []Filter{{Field: "city", Op: OpIsNull, Value: "false"}}, IDs: []uint{2, 4}},
			want: []string{"Bob"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(t, db, tt.d))
		})
	}
}
