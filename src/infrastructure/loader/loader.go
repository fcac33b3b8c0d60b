package loader

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/viant/afs"

	"bloom-graph/src/domain"
)

// TextExtensions расширения, которые LoadDir считает текстовыми
var TextExtensions = []string{".txt", ".md"}

// Loader читает документы из локальной файловой системы или любого хранилища afs (s3://, gs://, mem://)
type Loader struct {
	fs afs.Service
}

// New создает загрузчик поверх сервиса afs по умолчанию
func New() *Loader {
	return &Loader{fs: afs.New()}
}

// Load скачивает один документ; заголовок берется из имени файла
func (l *Loader) Load(ctx context.Context, url string) (domain.Document, error) {
	data, err := l.fs.DownloadWithURL(ctx, url)
	if err != nil {
		return domain.Document{}, fmt.Errorf("ошибка чтения документа %s: %w", url, err)
	}
	if !utf8.Valid(data) {
		return domain.Document{}, domain.NewValidationError("документ %s не в кодировке UTF-8", url)
	}
	return domain.Document{
		Title:   titleOf(url),
		Source:  url,
		Content: string(data),
	}, nil
}

// LoadDir загружает все текстовые файлы каталога без рекурсии
func (l *Loader) LoadDir(ctx context.Context, url string) ([]domain.Document, error) {
	objects, err := l.fs.List(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", url, err)
	}
	var docs []domain.Document
	for _, obj := range objects {
		if obj.IsDir() || !isText(obj.Name()) {
			continue
		}
		doc, err := l.Load(ctx, obj.URL())
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func titleOf(url string) string {
	base := path.Base(strings.TrimRight(url, "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

func isText(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range TextExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
