// Package admin はインポート/エクスポートジョブと対象モデルの管理画面 API を提供します。
package admin

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/query"
)

// Prefix は管理画面のルートパスです。
const Prefix = "/admin"

const defaultListPerPage = 100

// Options は一覧・編集画面の表示設定です。
type Options struct {
	ListDisplay    []string `json:"list_display"`
	ListFilter     []string `json:"list_filter"`
	ReadonlyFields []string `json:"readonly_fields"`
	Exclude        []string `json:"exclude"`
	ListPerPage    int      `json:"list_per_page"`
}

// Selection は一括操作の対象です。Query には一覧の絞り込みと選択 ID が適用済みです。
type Selection struct {
	IDs   []uint
	All   bool
	Query query.Descriptor
}

// Action は一覧画面から実行する一括操作です。
type Action struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Run         func(c *gin.Context, sel Selection) error `json:"-"`
}

// ModelAdmin は管理画面に登録するモデルの設定と一覧取得を提供します。
type ModelAdmin interface {
	AppLabel() string
	ModelName() string
	Options() Options
	Actions() []Action
	// AllowsField は一覧の絞り込みと並べ替えに使えるフィールドかを返します。
	AllowsField(field string) bool
	List(ctx context.Context, desc query.Descriptor, limit, offset int) ([]map[string]interface{}, int64, error)
}

// ObjectAdmin は個別レコードの参照・追加・変更・削除に対応する ModelAdmin です。
type ObjectAdmin interface {
	ModelAdmin
	HasAddPermission() bool
	// Form は obj の編集フォームを返します。obj が nil なら追加フォームです。
	Form(ctx context.Context, obj interface{}) *Form
	Get(ctx context.Context, id uint) (interface{}, error)
	Create(c *gin.Context) (uint, error)
	Update(c *gin.Context, id uint) error
	Delete(ctx context.Context, id uint) error
}

// FileAdmin はレコードに紐づくファイルのダウンロードに対応します。
type FileAdmin interface {
	OpenFile(ctx context.Context, id uint, field string) (io.ReadCloser, string, error)
}

// ExportFormAdmin は一覧画面にエクスポートフォームを持つ ModelAdmin です。
type ExportFormAdmin interface {
	ExportForm() *Form
}

// Site は ModelAdmin の登録簿で、gin のルーティングを提供します。
type Site struct {
	admins map[string]ModelAdmin
	logger *zap.Logger
}

// NewSite は空の Site を作成します。
func NewSite(logger *zap.Logger) *Site {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Site{
		admins: make(map[string]ModelAdmin),
		logger: logger.With(zap.String("component", "admin")),
	}
}

// Register は ModelAdmin を登録します。
func (s *Site) Register(a ModelAdmin) error {
	key := adminKey(a.AppLabel(), a.ModelName())
	if _, exists := s.admins[key]; exists {
		return fmt.Errorf("admin already registered: %s", key)
	}
	s.admins[key] = a
	return nil
}

// Lookup は app_label とモデル名から ModelAdmin を取得します。
func (s *Site) Lookup(appLabel, model string) (ModelAdmin, bool) {
	a, ok := s.admins[adminKey(appLabel, model)]
	return a, ok
}

func (s *Site) sorted() []ModelAdmin {
	keys := make([]string, 0, len(s.admins))
	for k := range s.admins {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ModelAdmin, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.admins[k])
	}
	return out
}

// Mount は管理画面のルートを登録します。r は Prefix のグループを想定しています。
func (s *Site) Mount(r gin.IRoutes) {
	r.GET("/", s.index)
	r.GET("/:app/:model/", s.changelist)
	r.POST("/:app/:model/action/", s.action)
	r.GET("/:app/:model/add/", s.addForm)
	r.POST("/:app/:model/add/", s.add)
	r.GET("/:app/:model/change/:id", s.changeForm)
	r.POST("/:app/:model/change/:id", s.change)
	r.POST("/:app/:model/delete/:id", s.delete)
	r.GET("/:app/:model/file/:id", s.file)
}

// ChangeURL はレコードの変更画面のパスを返します。
func ChangeURL(appLabel, model string, id uint) string {
	return fmt.Sprintf("%s/%s/%s/change/%d", Prefix, strings.ToLower(appLabel), strings.ToLower(model), id)
}

// ChangelistURL は一覧画面のパスを返します。
func ChangelistURL(appLabel, model string) string {
	return fmt.Sprintf("%s/%s/%s/", Prefix, strings.ToLower(appLabel), strings.ToLower(model))
}

func adminKey(appLabel, model string) string {
	return strings.ToLower(appLabel) + "." + strings.ToLower(model)
}
