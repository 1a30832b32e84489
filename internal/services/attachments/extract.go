// Package attachments extracts text from issue attachments already saved to
// local disk by the scraper. It is deliberately stateless: the ingestion
// pipeline invokes it as a plain function during phase 1 and it holds no
// state of its own between calls.
package attachments

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ExtractAttachmentText reads the file at path and returns its text content.
// Only PDF is supported; other extensions return an empty string and a nil
// error so callers can treat "nothing extracted" the same as "nothing to
// extract".
func ExtractAttachmentText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDFText(path)
	default:
		return "", nil
	}
}

func extractPDFText(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat attachment %s: %w", path, err)
	}

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return "", fmt.Errorf("read pdf context %s: %w", path, err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp("", "imscrawl-attach-*")
	if err != nil {
		return "", fmt.Errorf("create temp extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("extract pdf content %s: %w", path, err)
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("read extraction output: %w", err)
	}

	pageTexts := make(map[int]string, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var b strings.Builder
	for page := 1; page <= pageCount; page++ {
		text, ok := pageTexts[page]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(text))
	}

	return b.String(), nil
}
