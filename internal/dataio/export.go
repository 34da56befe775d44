// Package dataio はモデルのテーブルと CSV/TSV/JSON ファイルとの間でデータを入出力します。
package dataio

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/import-export-admin/internal/query"
	"github.com/yourusername/import-export-admin/internal/registry"
)

// ProgressReporter は処理済み件数の通知用コールバックです。
type ProgressReporter func(done int)

// progressEvery 件ごとに進捗を通知する
const progressEvery = 100

// Export は desc に合う行を resource の列構成で w に書き出し、書き出した件数を返します。
func Export(ctx context.Context, db *gorm.DB, table string, resource registry.Resource, desc query.Descriptor, format registry.Format, w io.Writer, progress ProgressReporter) (int, error) {
	if len(resource.Fields) == 0 {
		return 0, fmt.Errorf("resource %s has no fields", resource.Name)
	}
	if !format.CanExport {
		return 0, fmt.Errorf("format %s cannot be exported", format.Name)
	}

	q, err := desc.Apply(db.WithContext(ctx).Table(table).Select(resource.Fields))
	if err != nil {
		return 0, err
	}
	rows, err := q.Rows()
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	enc, err := newRowEncoder(format, w, resource.Fields)
	if err != nil {
		return 0, err
	}

	count := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		values, err := scanRow(rows, len(resource.Fields))
		if err != nil {
			return count, err
		}
		if err := enc.write(values); err != nil {
			return count, fmt.Errorf("failed to write row: %w", err)
		}
		count++
		if progress != nil && count%progressEvery == 0 {
			progress(count)
		}
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("failed to read rows: %w", err)
	}
	if err := enc.close(); err != nil {
		return count, fmt.Errorf("failed to finish output: %w", err)
	}
	if progress != nil {
		progress(count)
	}
	return count, nil
}

// List は desc に合う行を map の一覧で返します。一覧画面の表示に使います。
func List(ctx context.Context, db *gorm.DB, table string, fields []string, desc query.Descriptor, limit, offset int) ([]map[string]interface{}, int64, error) {
	filtered, err := desc.Where(db.WithContext(ctx).Table(table))
	if err != nil {
		return nil, 0, err
	}
	base := filtered.Session(&gorm.Session{})

	var count int64
	if err := base.Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", table, err)
	}

	q := desc.OrderBy(base.Select(fields))
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	rows, err := q.Rows()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []map[string]interface{}
	for rows.Next() {
		values, err := scanRow(rows, len(fields))
		if err != nil {
			return nil, 0, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, f := range fields {
			row[f] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, count, rows.Err()
}

// DefaultResource はテーブルの全カラムを並べたリソースを返します。
// ジョブにリソースが指定されていない場合に使います。
func DefaultResource(db *gorm.DB, table string) (registry.Resource, error) {
	columns, err := db.Migrator().ColumnTypes(table)
	if err != nil {
		return registry.Resource{}, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	fields := make([]string, 0, len(columns))
	for _, c := range columns {
		fields = append(fields, c.Name())
	}
	if len(fields) == 0 {
		return registry.Resource{}, fmt.Errorf("table %s has no columns", table)
	}
	return registry.Resource{Name: table, Label: table, Fields: fields}, nil
}

func scanRow(rows *sql.Rows, n int) ([]interface{}, error) {
	values := make([]interface{}, n)
	ptrs := make([]interface{}, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return values, nil
}

// normalize はドライバ依存の値を JSON に出せる値に揃えます。
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return t
	}
}

func cell(v interface{}) string {
	switch t := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

type rowEncoder interface {
	write(values []interface{}) error
	close() error
}

func newRowEncoder(format registry.Format, w io.Writer, fields []string) (rowEncoder, error) {
	switch format.Name {
	case registry.FormatCSV.Name, registry.FormatTSV.Name:
		cw := csv.NewWriter(w)
		if format.Name == registry.FormatTSV.Name {
			cw.Comma = '\t'
		}
		if err := cw.Write(fields); err != nil {
			return nil, err
		}
		return &csvEncoder{w: cw}, nil
	case registry.FormatJSON.Name:
		bw := bufio.NewWriter(w)
		if _, err := bw.WriteString("["); err != nil {
			return nil, err
		}
		return &jsonEncoder{w: bw, fields: fields}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format.Name)
	}
}

type csvEncoder struct {
	w *csv.Writer
}

func (e *csvEncoder) write(values []interface{}) error {
	record := make([]string, len(values))
	for i, v := range values {
		record[i] = cell(v)
	}
	return e.w.Write(record)
}

func (e *csvEncoder) close() error {
	e.w.Flush()
	return e.w.Error()
}

type jsonEncoder struct {
	w      *bufio.Writer
	fields []string
	n      int
}

func (e *jsonEncoder) write(values []interface{}) error {
	// 列順を保つため map ではなく手で組み立てる
	if e.n > 0 {
		if err := e.w.WriteByte(','); err != nil {
			return err
		}
	}
	e.n++
	if err := e.w.WriteByte('{'); err != nil {
		return err
	}
	for i, f := range e.fields {
		if i > 0 {
			if err := e.w.WriteByte(','); err != nil {
				return err
			}
		}
		key, err := json.Marshal(f)
		if err != nil {
			return err
		}
		val, err := json.Marshal(normalize(values[i]))
		if err != nil {
			return err
		}
		if _, err := e.w.Write(key); err != nil {
			return err
		}
		if err := e.w.WriteByte(':'); err != nil {
			return err
		}
		if _, err := e.w.Write(val); err != nil {
			return err
		}
	}
	return e.w.WriteByte('}')
}

func (e *jsonEncoder) close() error {
	if _, err := e.w.WriteString("]"); err != nil {
		return err
	}
	return e.w.Flush()
}
