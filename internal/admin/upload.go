package admin

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yourusername/import-export-admin/internal/registry"
)

// sniffLen は種類判定のために読む先頭バイト数です。
const sniffLen = 3072

// openUpload はアップロードファイルのサイズと中身の種類を検証して開きます。
// 中身は選択された形式かテキストである必要があります。
func openUpload(header *multipart.FileHeader, format registry.Format, maxSize int64) (multipart.File, error) {
	if header.Size == 0 {
		return nil, ValidationErrors{"file": {"空のファイルはアップロードできません。"}}
	}
	if maxSize > 0 && header.Size > maxSize {
		return nil, ValidationErrors{"file": {fmt.Sprintf("ファイルサイズは %d バイト以下にしてください。", maxSize)}}
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		file.Close()
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if !acceptsContent(mimetype.Detect(head[:n]), format) {
		file.Close()
		return nil, ValidationErrors{"file": {fmt.Sprintf("ファイルの内容が %s 形式ではありません。", format.Name)}}
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to rewind upload: %w", err)
	}
	return file, nil
}

func acceptsContent(detected *mimetype.MIME, format registry.Format) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(format.ContentType) || m.Is("text/plain") {
			return true
		}
	}
	return false
}
