package rag

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFLoader extracts the plain text of every page. The file is validated with
// pdfcpu first, then text is decoded through each font's encoding, including
// Identity-H fonts with a ToUnicode map.
type PDFLoader struct{}

func (PDFLoader) Load(ctx context.Context, path string) (pages []Page, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validatePDF(path); err != nil {
		return nil, err
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	// The text decoder panics on some broken font programs.
	defer func() {
		if p := recover(); p != nil {
			pages = nil
			err = fmt.Errorf("extract text from %s: %v", path, p)
		}
	}()

	total := r.NumPage()
	pages = make([]Page, 0, total)
	for nr := 1; nr <= total; nr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var text string
		if page := r.Page(nr); !page.V.IsNull() {
			text, err = page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("extract page %d of %s: %w", nr, path, err)
			}
		}

		pages = append(pages, Page{Index: nr - 1, Text: text})
	}

	return pages, nil
}

func validatePDF(path string) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ValidateFile(path, conf); err != nil {
		return fmt.Errorf("validate pdf %s: %w", path, err)
	}
	return nil
}
