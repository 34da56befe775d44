// Package query は一覧画面の絞り込み条件を、ジョブに保存できる構造化クエリとして表現します。
package query

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// CurrentVersion は Descriptor のフォーマットバージョンです。
const CurrentVersion = 1

// Op は絞り込み演算子です。
type Op string

const (
	OpExact     Op = "exact"
	OpIn        Op = "in"
	OpIContains Op = "icontains"
	OpGTE       Op = "gte"
	OpLTE       Op = "lte"
	OpIsNull    Op = "isnull"
)

// OrderParam は並び順を指定するクエリパラメータ名です。
const OrderParam = "o"

var (
	// ErrUnsupportedVersion は未知のバージョンの Descriptor を読み込んだときに返ります。
	ErrUnsupportedVersion = errors.New("unsupported query descriptor version")

	identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

	// 一覧画面の制御用パラメータは絞り込みとして扱わない
	reservedParams = map[string]struct{}{
		OrderParam:         {},
		"q":                {},
		"p":                {},
		"page":             {},
		"_selected_action": {},
	}
)

// Filter は1つの絞り込み条件です。in の値はカンマ区切りです。
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

// Descriptor はクエリ全体を表します。条件と並び順は記述順に適用されます。
type Descriptor struct {
	Version  int      `json:"version"`
	Filters  []Filter `json:"filters,omitempty"`
	Ordering []string `json:"ordering,omitempty"`
	IDs      []uint   `json:"ids,omitempty"`
}

// New は現在のバージョンで空の Descriptor を返します。
func New() Descriptor {
	return Descriptor{Version: CurrentVersion}
}

// FromValues は一覧画面のクエリパラメータから Descriptor を組み立てます。
// allowed が false を返すフィールドや解釈できない演算子は無視します。
func FromValues(values url.Values, allowed func(field string) bool) Descriptor {
	d := New()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, reserved := reservedParams[key]; reserved {
			continue
		}
		field, op := splitLookup(key)
		if !validIdent(field) || !knownOp(op) {
			continue
		}
		if allowed != nil && !allowed(field) {
			continue
		}
		for _, v := range values[key] {
			d.Filters = append(d.Filters, Filter{Field: field, Op: op, Value: v})
		}
	}

	for _, raw := range values[OrderParam] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			name := strings.TrimPrefix(part, "-")
			if !validIdent(name) {
				continue
			}
			if allowed != nil && !allowed(name) {
				continue
			}
			d.Ordering = append(d.Ordering, part)
		}
	}

	return d
}

// WithIDs は選択されたレコード ID を条件に加えた Descriptor を返します。
func (d Descriptor) WithIDs(ids []uint) Descriptor {
	d.IDs = append([]uint(nil), ids...)
	return d
}

// Fields は Descriptor が参照する全フィールドを重複なしで返します。
func (d Descriptor) Fields() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(f string) {
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	for _, f := range d.Filters {
		add(f.Field)
	}
	for _, o := range d.Ordering {
		add(strings.TrimPrefix(o, "-"))
	}
	return out
}

// Validate はバージョンと各フィールドを検証します。
func (d Descriptor) Validate(allowed func(field string) bool) error {
	if d.Version <= 0 || d.Version > CurrentVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.Version)
	}
	for _, f := range d.Filters {
		if !validIdent(f.Field) {
			return fmt.Errorf("invalid filter field: %q", f.Field)
		}
		if !knownOp(f.Op) {
			return fmt.Errorf("invalid filter operator: %q", f.Op)
		}
		if f.Op == OpIsNull {
			if _, err := strconv.ParseBool(f.Value); err != nil {
				return fmt.Errorf("isnull expects a boolean, got %q", f.Value)
			}
		}
	}
	for _, field := range d.Fields() {
		if !validIdent(field) {
			return fmt.Errorf("invalid field: %q", field)
		}
		if allowed != nil && !allowed(field) {
			return fmt.Errorf("field %q is not available", field)
		}
	}
	return nil
}

// Encode は Descriptor を JSON バイト列にします。
func (d Descriptor) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// EncodeBase64 は Encode の結果を base64 文字列にします。
func (d Descriptor) EncodeBase64() (string, error) {
	raw, err := d.Encode()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode は JSON バイト列から Descriptor を復元し、バージョンを確認します。
func Decode(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to decode query descriptor: %w", err)
	}
	if d.Version <= 0 || d.Version > CurrentVersion {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.Version)
	}
	return d, nil
}

// DecodeBase64 は base64 文字列から Descriptor を復元します。
func DecodeBase64(s string) (Descriptor, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to decode base64 query: %w", err)
	}
	return Decode(raw)
}

func splitLookup(key string) (string, Op) {
	if i := strings.LastIndex(key, "__"); i > 0 {
		return key[:i], Op(key[i+2:])
	}
	return key, OpExact
}

func knownOp(op Op) bool {
	switch op {
	case OpExact, OpIn, OpIContains, OpGTE, OpLTE, OpIsNull:
		return true
	default:
		return false
	}
}

func validIdent(s string) bool {
	return identPattern.MatchString(s)
}
