package pdfextract

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"

	"pdfchat/internal/model"
)

var ErrEmptyDocument = errors.New("pdf document is empty")

// ExtractPages parses an in-memory PDF and returns the plain text of every page in order.
// Pages without a content stream come back with empty text.
func ExtractPages(data []byte) (pages []model.Page, err error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}

	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse pdf failed: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	total := reader.NumPage()
	pages = make([]model.Page, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d failed: %w", i, err)
		}
		pages = append(pages, model.Page{Number: i, Text: text})
	}
	return pages, nil
}
