package query

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Apply は Descriptor の条件と並び順を gorm のクエリに適用します。
// 呼び出し前に Validate で検証しておく必要があります。
func (d Descriptor) Apply(db *gorm.DB) (*gorm.DB, error) {
	db, err := d.Where(db)
	if err != nil {
		return nil, err
	}
	return d.OrderBy(db), nil
}

// Where は絞り込み条件と選択 ID だけを適用します。件数取得に使います。
func (d Descriptor) Where(db *gorm.DB) (*gorm.DB, error) {
	for _, f := range d.Filters {
		expr, err := filterExpr(f)
		if err != nil {
			return nil, err
		}
		db = db.Where(expr)
	}

	if len(d.IDs) > 0 {
		values := make([]interface{}, len(d.IDs))
		for i, id := range d.IDs {
			values[i] = id
		}
		db = db.Where(clause.IN{Column: clause.Column{Name: "id"}, Values: values})
	}
	return db, nil
}

// OrderBy は並び順を適用します。指定がなければ id 昇順です。
func (d Descriptor) OrderBy(db *gorm.DB) *gorm.DB {
	if len(d.Ordering) == 0 {
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}})
	}
	for _, o := range d.Ordering {
		db = db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: strings.TrimPrefix(o, "-")},
			Desc:   strings.HasPrefix(o, "-"),
		})
	}
	return db
}

func filterExpr(f Filter) (clause.Expression, error) {
	col := clause.Column{Name: f.Field}
	switch f.Op {
	case OpExact:
		return clause.Eq{Column: col, Value: f.Value}, nil
	case OpIn:
		parts := strings.Split(f.Value, ",")
		values := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			values = append(values, strings.TrimSpace(p))
		}
		return clause.IN{Column: col, Values: values}, nil
	case OpIContains:
		return clause.Expr{
			SQL:  "LOWER(?) LIKE ?",
			Vars: []interface{}{col, "%" + strings.ToLower(f.Value) + "%"},
		}, nil
	case OpGTE:
		return clause.Gte{Column: col, Value: f.Value}, nil
	case OpLTE:
		return clause.Lte{Column: col, Value: f.Value}, nil
	case OpIsNull:
		isNull, err := strconv.ParseBool(f.Value)
		if err != nil {
			return nil, fmt.Errorf("isnull expects a boolean, got %q", f.Value)
		}
		if isNull {
			return clause.Eq{Column: col, Value: nil}, nil
		}
		return clause.Neq{Column: col, Value: nil}, nil
	default:
		return nil, fmt.Errorf("invalid filter operator: %q", f.Op)
	}
}
