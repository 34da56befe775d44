// Package storage はジョブが読み書きするファイルの保存先を提供します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey はルート外を指すキーなど、不正なキーが渡された場合に返ります。
var ErrInvalidKey = errors.New("invalid storage key")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Local はローカルファイルシステムに保存するストレージです。
// キーは "<prefix>/<uuid>-<name>" 形式です。
type Local struct {
	root string
}

// NewLocal は root 配下に保存する Local を作成します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Save は r の内容を保存し、キーを返します。
func (l *Local) Save(ctx context.Context, prefix, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.Trim(strings.TrimSpace(prefix), "._/") == "" {
		return "", fmt.Errorf("%w: empty prefix", ErrInvalidKey)
	}
	key := sanitize(prefix) + "/" + uuid.NewString() + "-" + sanitize(name)

	path, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return key, nil
}

// Open はキーのファイルを開きます。存在しない場合は fs.ErrNotExist をラップして返します。
func (l *Local) Open(key string) (*os.File, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete はキーのファイルを削除します。存在しない場合は何もしません。
func (l *Local) Delete(key string) error {
	if key == "" {
		return nil
	}
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Name はキーから元のファイル名を取り出します。
func Name(key string) string {
	base := filepath.Base(filepath.FromSlash(key))
	// uuid (36文字) + "-" を取り除く
	if len(base) > 37 && base[36] == '-' {
		return base[37:]
	}
	return base
}

func (l *Local) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	path := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return path, nil
}

func sanitize(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}
