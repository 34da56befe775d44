// Package registry はインポート/エクスポート対象モデル、リソース、フォーマットの登録簿を提供します。
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Choice はフォームの選択肢1件を表します。
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Resource はエクスポート/インポート時の列構成を定義します。
type Resource struct {
	Name   string   `json:"name"`
	Label  string   `json:"label"`
	Fields []string `json:"fields"`
}

// HasField は列名がリソースに含まれるかを返します。
func (r Resource) HasField(field string) bool {
	for _, f := range r.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// ResourceChoice はモデルに登録されたリソースをキー付きで保持します。
type ResourceChoice struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Resource Resource `json:"resource"`
}

// ModelSettings は1モデル分のインポート/エクスポート設定です。
type ModelSettings struct {
	AppLabel       string           `json:"app_label"`
	Model          string           `json:"model"`
	Table          string           `json:"table"`
	Resources      []ResourceChoice `json:"resources"`
	ImportResource string           `json:"import_resource,omitempty"`
	Filterable     []string         `json:"filterable,omitempty"`
	// AdminResources は管理画面のエクスポートで選べるリソースです。空なら Resources と同じです。
	AdminResources []Resource `json:"admin_resources,omitempty"`
}

// Resource はキーに対応するリソースを返します。
func (s ModelSettings) Resource(key string) (Resource, bool) {
	for _, rc := range s.Resources {
		if rc.Key == key {
			return rc.Resource, true
		}
	}
	return Resource{}, false
}

// ImportShape はインポート時に使うリソースを返します。未指定なら先頭のリソースです。
func (s ModelSettings) ImportShape() (Resource, bool) {
	if s.ImportResource != "" {
		return s.Resource(s.ImportResource)
	}
	if len(s.Resources) == 0 {
		return Resource{}, false
	}
	return s.Resources[0].Resource, true
}

// ResourceChoices はリソースキーの選択肢を登録順に返します。
func (s ModelSettings) ResourceChoices() []Choice {
	choices := make([]Choice, 0, len(s.Resources))
	for _, rc := range s.Resources {
		label := rc.Label
		if label == "" {
			label = rc.Resource.Label
		}
		choices = append(choices, Choice{Value: rc.Key, Label: label})
	}
	return choices
}

// IsFilterable はフィールドが絞り込みに使えるかを返します。
func (s ModelSettings) IsFilterable(field string) bool {
	for _, f := range s.Filterable {
		if f == field {
			return true
		}
	}
	return false
}

// ExportResources は管理画面のエクスポートで選べるリソースを返します。
func (s ModelSettings) ExportResources() []Resource {
	if len(s.AdminResources) > 0 {
		return s.AdminResources
	}
	out := make([]Resource, 0, len(s.Resources))
	for _, rc := range s.Resources {
		out = append(out, rc.Resource)
	}
	return out
}

// ExportResource は名前に一致する管理画面用リソースを返します。
func (s ModelSettings) ExportResource(name string) (Resource, bool) {
	for _, r := range s.ExportResources() {
		if r.Name == name {
			return r, true
		}
	}
	return Resource{}, false
}

// AllowsField は絞り込み・並べ替えに使えるフィールドかを返します。
// id、Filterable、いずれかのリソースに含まれる列が対象です。
func (s ModelSettings) AllowsField(field string) bool {
	if field == "id" || s.IsFilterable(field) {
		return true
	}
	for _, r := range s.ExportResources() {
		if r.HasField(field) {
			return true
		}
	}
	for _, rc := range s.Resources {
		if rc.Resource.HasField(field) {
			return true
		}
	}
	return false
}

func (s ModelSettings) validate() error {
	if strings.TrimSpace(s.AppLabel) == "" {
		return fmt.Errorf("app_label is required")
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if strings.TrimSpace(s.Table) == "" {
		return fmt.Errorf("table is required")
	}
	seen := make(map[string]struct{}, len(s.Resources))
	for _, rc := range s.Resources {
		if rc.Key == "" {
			return fmt.Errorf("resource key is required")
		}
		if _, dup := seen[rc.Key]; dup {
			return fmt.Errorf("duplicate resource key: %s", rc.Key)
		}
		seen[rc.Key] = struct{}{}
		if rc.Resource.Name == "" {
			return fmt.Errorf("resource %s has no name", rc.Key)
		}
		if len(rc.Resource.Fields) == 0 {
			return fmt.Errorf("resource %s has no fields", rc.Key)
		}
	}
	for _, r := range s.AdminResources {
		if r.Name == "" || len(r.Fields) == 0 {
			return fmt.Errorf("admin resource requires a name and fields")
		}
	}
	if s.ImportResource != "" {
		if _, ok := s.Resource(s.ImportResource); !ok {
			return fmt.Errorf("import_resource %s is not registered", s.ImportResource)
		}
	}
	return nil
}

// Registry はモデル設定の登録簿です。
type Registry struct {
	mu           sync.RWMutex
	byLabel      map[string]ModelSettings
	byName       map[string]ModelSettings
	resourceKeys map[string]string
}

// New は空の Registry を作成します。
func New() *Registry {
	return &Registry{
		byLabel:      make(map[string]ModelSettings),
		byName:       make(map[string]ModelSettings),
		resourceKeys: make(map[string]string),
	}
}

// Register はモデル設定を名前付きで登録します。
// リソース名からリソースキーへの対応表はここで確定し、同名リソースは最初に登録されたキーが優先されます。
func (r *Registry) Register(name string, settings ModelSettings) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("model name is required")
	}
	if err := settings.validate(); err != nil {
		return fmt.Errorf("invalid settings for %s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	label := labelKey(settings.AppLabel, settings.Model)
	if _, exists := r.byLabel[label]; exists {
		return fmt.Errorf("model already registered: %s", label)
	}
	r.byLabel[label] = settings
	r.byName[name] = settings
	for _, rc := range settings.Resources {
		key := label + "|" + rc.Resource.Name
		if _, taken := r.resourceKeys[key]; !taken {
			r.resourceKeys[key] = rc.Key
		}
	}
	return nil
}

// Lookup は app_label とモデル名から設定を取得します。
func (r *Registry) Lookup(appLabel, model string) (ModelSettings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byLabel[labelKey(appLabel, model)]
	return s, ok
}

// ByName は登録名から設定を取得します。
func (r *Registry) ByName(name string) (ModelSettings, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Names は登録名を昇順で返します。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveResourceKey は管理画面で選ばれたリソース名に対応するジョブ用リソースキーを返します。
// 対応がなければ空文字を返します。
func (r *Registry) ResolveResourceKey(appLabel, model, resourceName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resourceKeys[labelKey(appLabel, model)+"|"+resourceName]
}

func labelKey(appLabel, model string) string {
	return strings.ToLower(appLabel) + "." + strings.ToLower(model)
}
