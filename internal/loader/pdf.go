package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/hsn0918/bookrag/pkg/logger"
)

// extractPDF walks every page and concatenates the plain text, joining pages
// with blank lines so paragraph boundaries survive into chunking. Pages that
// fail to extract are skipped rather than failing the whole book.
func extractPDF(_ context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var pages []string
	skipped := 0

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			skipped++
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, text)
	}

	if skipped > 0 {
		logger.Get().Warn("some pages failed text extraction",
			slog.String("file", path),
			slog.Int("skipped", skipped),
			slog.Int("total", totalPages),
		)
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("no extractable text in %d pages", totalPages)
	}
	return strings.Join(pages, "\n\n"), nil
}
