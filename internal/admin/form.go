package admin

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/form"

	"github.com/yourusername/import-export-admin/internal/registry"
)

// FieldType はフォーム部品の種類です。
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldSelect   FieldType = "select"
	FieldFile     FieldType = "file"
	FieldCheckbox FieldType = "checkbox"
	FieldMultiple FieldType = "multiple"
)

// Field はフォームの1項目です。
type Field struct {
	Name     string            `json:"name"`
	Label    string            `json:"label"`
	Type     FieldType         `json:"type"`
	Choices  []registry.Choice `json:"choices,omitempty"`
	Required bool              `json:"required"`
	ReadOnly bool              `json:"readonly"`
	Value    interface{}       `json:"value,omitempty"`

	// 表示専用。値は表示のたびに計算され、送信値は検証せずに捨てる
	Computed bool `json:"-"`
}

// Form は管理画面の編集フォームです。クライアントにはスキーマとして返します。
type Form struct {
	Fields []Field `json:"fields"`
}

// Field は名前でフィールドを探します。
func (f *Form) Field(name string) (*Field, bool) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i], true
		}
	}
	return nil, false
}

// Choices はフィールドの選択肢を返します。
func (f *Form) Choices(name string) []registry.Choice {
	field, ok := f.Field(name)
	if !ok {
		return nil
	}
	return field.Choices
}

// Validate は送信値を検証します。
// 選択肢にない値と読み取り専用フィールドへの変更はエラーになります。file 型はここでは扱いません。
func (f *Form) Validate(values url.Values) error {
	errs := ValidationErrors{}
	for _, field := range f.Fields {
		if field.Type == FieldFile || field.Computed {
			continue
		}
		submitted, present := values[field.Name]
		if field.ReadOnly {
			if present && len(submitted) > 0 && !sameValue(field.Value, submitted[0]) {
				errs.Add(field.Name, "この項目は変更できません。")
			}
			continue
		}
		value := strings.TrimSpace(values.Get(field.Name))
		if value == "" {
			if field.Required {
				errs.Add(field.Name, "この項目は必須です。")
			}
			continue
		}
		if field.Type == FieldSelect && !hasChoice(field.Choices, value) {
			errs.Add(field.Name, fmt.Sprintf("正しく選択してください。%s は候補にありません。", value))
		}
		if field.Type == FieldMultiple {
			for _, v := range submitted {
				if !hasChoice(field.Choices, v) {
					errs.Add(field.Name, fmt.Sprintf("正しく選択してください。%s は候補にありません。", v))
				}
			}
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// sameValue は読み取り専用フィールドに現在値と同じ値が送られたかを返します。
// 日時は JSON と同じ RFC3339 表記で受け付け、秒未満を省いた値も同じとみなします。
func sameValue(current interface{}, submitted string) bool {
	submitted = strings.TrimSpace(submitted)
	switch v := current.(type) {
	case nil:
		return submitted == ""
	case string:
		return v == submitted
	case *time.Time:
		if v == nil {
			return submitted == ""
		}
		return sameTime(*v, submitted)
	case time.Time:
		return sameTime(v, submitted)
	default:
		return fmt.Sprint(v) == submitted
	}
}

func sameTime(current time.Time, submitted string) bool {
	t, err := time.Parse(time.RFC3339Nano, submitted)
	if err != nil {
		return false
	}
	return t.Equal(current) || t.Equal(current.Truncate(time.Second))
}

func hasChoice(choices []registry.Choice, value string) bool {
	for _, c := range choices {
		if c.Value == value {
			return true
		}
	}
	return false
}

var formDecoder = form.NewDecoder()

// decodeForm は送信値を構造体に詰め替えます。
func decodeForm(dst interface{}, values url.Values) error {
	if err := formDecoder.Decode(dst, values); err != nil {
		return invalidInput(fmt.Sprintf("フォームの形式が正しくありません: %v", err))
	}
	return nil
}

// checkbox はチェックボックスの送信値を真偽値にします。
func checkbox(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}
