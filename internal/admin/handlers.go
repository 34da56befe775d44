package admin

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/import-export-admin/internal/auth"
	"github.com/yourusername/import-export-admin/internal/query"
	"github.com/yourusername/import-export-admin/internal/registry"
)

func (s *Site) index(c *gin.Context) {
	entries := make([]gin.H, 0, len(s.admins))
	for _, a := range s.sorted() {
		addAllowed := false
		if oa, ok := a.(ObjectAdmin); ok {
			addAllowed = oa.HasAddPermission()
		}
		entries = append(entries, gin.H{
			"app_label":   a.AppLabel(),
			"model":       a.ModelName(),
			"url":         ChangelistURL(a.AppLabel(), a.ModelName()),
			"add_allowed": addAllowed,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": entries})
}

func (s *Site) lookup(c *gin.Context) (ModelAdmin, bool) {
	a, ok := s.Lookup(c.Param("app"), c.Param("model"))
	if !ok {
		respondWithError(c, notFound("指定されたモデルは登録されていません。"))
		return nil, false
	}
	return a, true
}

func (s *Site) lookupObjectAdmin(c *gin.Context) (ObjectAdmin, bool) {
	a, ok := s.lookup(c)
	if !ok {
		return nil, false
	}
	oa, ok := a.(ObjectAdmin)
	if !ok {
		respondWithError(c, notFound("このモデルは個別の編集に対応していません。"))
		return nil, false
	}
	return oa, true
}

func (s *Site) changelist(c *gin.Context) {
	a, ok := s.lookup(c)
	if !ok {
		return
	}
	opts := a.Options()
	perPage := opts.ListPerPage
	if perPage <= 0 {
		perPage = defaultListPerPage
	}
	page, err := parsePage(c.Query("p"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	desc := query.FromValues(c.Request.URL.Query(), a.AllowsField)
	results, count, err := a.List(c.Request.Context(), desc, perPage, (page-1)*perPage)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if results == nil {
		results = []map[string]interface{}{}
	}

	payload := gin.H{
		"app_label": a.AppLabel(),
		"model":     a.ModelName(),
		"options":   opts,
		"actions":   a.Actions(),
		"results":   results,
		"count":     count,
		"page":      page,
		"per_page":  perPage,
	}
	if ea, ok := a.(ExportFormAdmin); ok {
		payload["export_form"] = ea.ExportForm()
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Site) action(c *gin.Context) {
	a, ok := s.lookup(c)
	if !ok {
		return
	}
	name := c.PostForm("action")
	var action *Action
	for _, candidate := range a.Actions() {
		if candidate.Name == name {
			candidate := candidate
			action = &candidate
			break
		}
	}
	if action == nil {
		respondWithError(c, invalidInput(fmt.Sprintf("不明な操作です: %q", name)))
		return
	}

	sel, err := selection(c, a)
	if err != nil {
		respondWithError(c, err)
		return
	}
	log := s.logger.With(auth.Operator(c), modelField(a), zap.String("action", name),
		zap.Bool("select_across", sel.All), zap.Int("selected", len(sel.IDs)))
	if err := action.Run(c, sel); err != nil {
		log.Warn("admin action failed", zap.Error(err))
		respondWithError(c, err)
		return
	}
	log.Info("admin action")
}

func modelField(a ModelAdmin) zap.Field {
	return zap.String("model", a.AppLabel()+"."+a.ModelName())
}

// selection は一覧画面のクエリ文字列と選択 ID から操作対象を作ります。
// select_across=1 の場合は絞り込み結果の全件が対象です。
func selection(c *gin.Context, a ModelAdmin) (Selection, error) {
	desc := query.FromValues(c.Request.URL.Query(), a.AllowsField)
	sel := Selection{All: checkbox(c.PostForm("select_across"))}

	for _, raw := range c.PostFormArray("_selected_action") {
		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil || id == 0 {
			return Selection{}, invalidInput(fmt.Sprintf("選択された ID が正しくありません: %q", raw))
		}
		sel.IDs = append(sel.IDs, uint(id))
	}
	if !sel.All {
		if len(sel.IDs) == 0 {
			return Selection{}, invalidInput("操作の対象を選択してください。")
		}
		desc = desc.WithIDs(sel.IDs)
	}
	sel.Query = desc
	return sel, nil
}

func (s *Site) addForm(c *gin.Context) {
	oa, ok := s.lookupObjectAdmin(c)
	if !ok {
		return
	}
	if !oa.HasAddPermission() {
		respondWithError(c, forbidden("このモデルは追加できません。"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"form": oa.Form(c.Request.Context(), nil)})
}

func (s *Site) add(c *gin.Context) {
	oa, ok := s.lookupObjectAdmin(c)
	if !ok {
		return
	}
	if !oa.HasAddPermission() {
		respondWithError(c, forbidden("このモデルは追加できません。"))
		return
	}
	id, err := oa.Create(c)
	if err != nil {
		respondWithError(c, err)
		return
	}
	s.logger.Info("object created", auth.Operator(c), modelField(oa), zap.Uint("id", id))
	s.respondSaved(c, oa, id, http.StatusCreated)
}

func (s *Site) changeForm(c *gin.Context) {
	oa, ok := s.lookupObjectAdmin(c)
	if !ok {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	obj, err := oa.Get(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"object": obj,
		"form":   oa.Form(c.Request.Context(), obj),
	})
}

func (s *Site) change(c *gin.Context) {
	oa, ok := s.lookupObjectAdmin(c)
	if !ok {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := oa.Update(c, id); err != nil {
		respondWithError(c, err)
		return
	}
	s.logger.Info("object changed", auth.Operator(c), modelField(oa), zap.Uint("id", id))
	s.respondSaved(c, oa, id, http.StatusOK)
}

func (s *Site) respondSaved(c *gin.Context, oa ObjectAdmin, id uint, status int) {
	obj, err := oa.Get(c.Request.Context(), id)
	if err != nil {
		respondWithError(c, err)
		return
	}
	location := ChangeURL(oa.AppLabel(), oa.ModelName(), id)
	c.Header("Location", location)
	c.JSON(status, gin.H{
		"object": obj,
		"url":    location,
	})
}

func (s *Site) delete(c *gin.Context) {
	oa, ok := s.lookupObjectAdmin(c)
	if !ok {
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	if err := oa.Delete(c.Request.Context(), id); err != nil {
		respondWithError(c, err)
		return
	}
	s.logger.Info("object deleted", auth.Operator(c), modelField(oa), zap.Uint("id", id))
	c.Status(http.StatusNoContent)
}

func (s *Site) file(c *gin.Context) {
	a, ok := s.lookup(c)
	if !ok {
		return
	}
	fa, ok := a.(FileAdmin)
	if !ok {
		respondWithError(c, notFound("このモデルにはファイルがありません。"))
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	field := c.DefaultQuery("field", "file")
	rc, name, err := fa.OpenFile(c.Request.Context(), id, field)
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", contentTypeFor(name))
	c.Header("Content-Disposition", attachment(name))
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		_ = c.Error(err)
	}
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", name, url.PathEscape(name))
}

// contentTypeFor は拡張子から Content-Type を決めます。
func contentTypeFor(name string) string {
	if f, ok := registry.FormatByName(strings.TrimPrefix(path.Ext(name), ".")); ok {
		return f.ContentType
	}
	return "application/octet-stream"
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, invalidInput("ID が正しくありません。")
	}
	return uint(id), nil
}

func parsePage(raw string) (int, error) {
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, invalidInput("ページ番号が正しくありません。")
	}
	return page, nil
}
