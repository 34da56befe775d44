package registry

import "strings"

// Format はファイル形式を表します。
type Format struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Extension   string `json:"extension"`
	CanImport   bool   `json:"canImport"`
	CanExport   bool   `json:"canExport"`
}

var (
	FormatCSV  = Format{Name: "csv", ContentType: "text/csv", Extension: "csv", CanImport: true, CanExport: true}
	FormatTSV  = Format{Name: "tsv", ContentType: "text/tab-separated-values", Extension: "tsv", CanImport: true, CanExport: true}
	FormatJSON = Format{Name: "json", ContentType: "application/json", Extension: "json", CanImport: true, CanExport: true}
)

var builtinFormats = []Format{FormatCSV, FormatTSV, FormatJSON}

// ImportFormats はインポート可能な形式を返します。
func ImportFormats() []Format {
	out := make([]Format, 0, len(builtinFormats))
	for _, f := range builtinFormats {
		if f.CanImport {
			out = append(out, f)
		}
	}
	return out
}

// ExportFormats はエクスポート可能な形式を返します。
func ExportFormats() []Format {
	out := make([]Format, 0, len(builtinFormats))
	for _, f := range builtinFormats {
		if f.CanExport {
			out = append(out, f)
		}
	}
	return out
}

// FormatByContentType は Content-Type から形式を探します。パラメータ部分は無視します。
func FormatByContentType(contentType string) (Format, bool) {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, f := range builtinFormats {
		if f.ContentType == ct {
			return f, true
		}
	}
	return Format{}, false
}

// FormatByName は短縮名 (csv, tsv, json) から形式を探します。
func FormatByName(name string) (Format, bool) {
	n := strings.TrimSpace(strings.ToLower(name))
	for _, f := range builtinFormats {
		if f.Name == n {
			return f, true
		}
	}
	return Format{}, false
}

// FormatChoices は形式一覧を選択肢に変換します。値は Content-Type です。
func FormatChoices(formats []Format) []Choice {
	choices := make([]Choice, len(formats))
	for i, f := range formats {
		choices[i] = Choice{Value: f.ContentType, Label: f.Name}
	}
	return choices
}
