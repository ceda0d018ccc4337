package pdf

import (
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/orrn/printdesk/internal/core"
)

const invalidDocumentMessage = "Invalid or corrupted PDF file"

// Counter reads page counts with pdfcpu.
type Counter struct{}

func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, &core.DocumentError{Message: invalidDocumentMessage, Cause: err}
	}
	if n < 1 {
		return 0, &core.DocumentError{Message: invalidDocumentMessage}
	}
	return n, nil
}
