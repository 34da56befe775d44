package dataio

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/import-export-admin/internal/registry"
)

// RowError は1行分の取り込みエラーです。Row はヘッダーを除いた 1 始まりの行番号です。
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Summary は取り込み結果の集計です。
type Summary struct {
	Total   int        `json:"total"`
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Errors  []RowError `json:"errors,omitempty"`
	DryRun  bool       `json:"dry_run"`
	// Committed はデータベースへの反映が確定したかどうかです。
	Committed bool `json:"committed"`
}

// HasErrors は行エラーがあったかを返します。
func (s Summary) HasErrors() bool {
	return len(s.Errors) > 0
}

var errRollback = errors.New("rollback")

// Import は r の内容を table に取り込みます。
// 全行を1トランザクションで処理し、dryRun または行エラーがあればロールバックします。
// 行エラーは Summary に入り、ファイルの読み込みやデータベースの障害だけが error として返ります。
func Import(ctx context.Context, db *gorm.DB, table string, resource registry.Resource, format registry.Format, r io.Reader, dryRun bool, progress ProgressReporter) (Summary, error) {
	summary := Summary{DryRun: dryRun}
	if !format.CanImport {
		return summary, fmt.Errorf("format %s cannot be imported", format.Name)
	}

	records, err := readRecords(format, r)
	if err != nil {
		return summary, err
	}
	for _, rec := range records {
		for col := range rec {
			if !resource.HasField(col) {
				return summary, fmt.Errorf("unknown column %q for resource %s", col, resource.Name)
			}
		}
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			summary.Total++
			created, err := importRow(tx, table, rec)
			if err != nil {
				summary.Errors = append(summary.Errors, RowError{Row: i + 1, Message: err.Error()})
			} else if created {
				summary.Created++
			} else {
				summary.Updated++
			}
			if progress != nil && summary.Total%progressEvery == 0 {
				progress(summary.Total)
			}
		}
		if dryRun || summary.HasErrors() {
			return errRollback
		}
		return nil
	})
	if progress != nil {
		progress(summary.Total)
	}
	if err != nil && !errors.Is(err, errRollback) {
		return summary, fmt.Errorf("failed to import into %s: %w", table, err)
	}
	summary.Committed = err == nil
	return summary, nil
}

// importRow は id が既存行を指していれば更新し、そうでなければ作成します。
func importRow(tx *gorm.DB, table string, rec map[string]interface{}) (bool, error) {
	// 失敗した行でトランザクション全体が中断されないよう SAVEPOINT で区切る
	return rowInSavepoint(tx, func(tx *gorm.DB) (bool, error) {
		if id, ok := rec["id"]; ok && id != nil {
			var count int64
			where := clause.Eq{Column: clause.Column{Name: "id"}, Value: id}
			if err := tx.Table(table).Where(where).Count(&count).Error; err != nil {
				return false, err
			}
			if count > 0 {
				fields := make(map[string]interface{}, len(rec))
				for k, v := range rec {
					if k != "id" {
						fields[k] = v
					}
				}
				if len(fields) == 0 {
					return false, nil
				}
				return false, tx.Table(table).Where(where).Updates(fields).Error
			}
		} else {
			delete(rec, "id")
		}
		return true, tx.Table(table).Create(rec).Error
	})
}

func rowInSavepoint(tx *gorm.DB, fn func(tx *gorm.DB) (bool, error)) (bool, error) {
	var created bool
	err := tx.Transaction(func(sp *gorm.DB) error {
		var err error
		created, err = fn(sp)
		return err
	})
	return created, err
}

// readRecords はファイルを列名→値の一覧に変換します。CSV/TSV の空セルは NULL として扱います。
func readRecords(format registry.Format, r io.Reader) ([]map[string]interface{}, error) {
	switch format.Name {
	case registry.FormatCSV.Name, registry.FormatTSV.Name:
		cr := csv.NewReader(r)
		if format.Name == registry.FormatTSV.Name {
			cr.Comma = '\t'
			cr.LazyQuotes = true
		}
		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		for i := range header {
			header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		}
		var out []map[string]interface{}
		for {
			row, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read row: %w", err)
			}
			rec := make(map[string]interface{}, len(header))
			for i, col := range header {
				if i >= len(row) || row[i] == "" {
					rec[col] = nil
					continue
				}
				rec[col] = row[i]
			}
			out = append(out, rec)
		}
		return out, nil
	case registry.FormatJSON.Name:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		var rows []map[string]interface{}
		if err := dec.Decode(&rows); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
		for _, rec := range rows {
			for k, v := range rec {
				if n, ok := v.(json.Number); ok {
					rec[k] = n.String()
				}
			}
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format.Name)
	}
}
