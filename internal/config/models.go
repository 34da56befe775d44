package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/yourusername/import-export-admin/internal/registry"
)

// LoadModels はインポート対象モデルの設定ファイル(JSON)を読み込みます。
// キーはモデル名で、インポートフォームの選択肢になります。
func LoadModels(path string) (map[string]registry.ModelSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file: %w", err)
	}
	return ParseModels(data)
}

// ParseModels はモデル設定 JSON を解析します。
func ParseModels(data []byte) (map[string]registry.ModelSettings, error) {
	models := make(map[string]registry.ModelSettings)
	if len(data) == 0 {
		return models, nil
	}
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse models file: %w", err)
	}
	return models, nil
}
