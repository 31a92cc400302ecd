// Package parse turns uploaded PDF files into cleaned, per-page text. The
// cleaning pass strips the noise PDF extraction leaves behind: running
// headers and footers repeated across pages, bare page numbers, and runs of
// blank lines.
package parse

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/errors"
)

// Parser extracts cleaned pages from a document file on disk.
type Parser interface {
	Parse(ctx context.Context, path, filename string) ([]document.Page, error)
}

// Func adapts a function to the Parser interface, for tests and stubs.
type Func func(ctx context.Context, path, filename string) ([]document.Page, error)

// Parse implements Parser.
func (f Func) Parse(ctx context.Context, path, filename string) ([]document.Page, error) {
	return f(ctx, path, filename)
}

// Lines shorter than this that repeat on two or more pages are treated as
// running headers or footers.
const repeatedLineMaxLen = 120

// pageNumberRe matches lines that are only a page marker: "3", "page 3",
// "3 of 12", "3 / 12".
var pageNumberRe = regexp.MustCompile(`(?i)^\s*(?:page\s*)?\d+(?:\s*(?:of|/)\s*\d+)?\s*$`)

// PDF parses PDF files with a pure-Go reader.
type PDF struct{}

// NewPDF creates a PDF parser.
func NewPDF() *PDF {
	return &PDF{}
}

// Parse implements Parser. Pages that come out empty after cleaning are
// dropped; page numbers in the result refer to the original PDF pages.
func (p *PDF) Parse(ctx context.Context, path, filename string) ([]document.Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf %s: %v", errors.ErrInvalidInput, filename, err)
	}
	defer f.Close()

	raw := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			raw = append(raw, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single damaged page should not sink the document.
			raw = append(raw, "")
			continue
		}
		raw = append(raw, text)
	}

	cleaned := Clean(raw)

	var pages []document.Page
	for i, text := range cleaned {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, document.Page{
			Text:     text,
			Page:     i + 1,
			Filename: filename,
		})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s contains no extractable text", errors.ErrInvalidInput, filename)
	}
	return pages, nil
}

// Clean removes repeated headers and footers, page-number lines and excess
// blank lines from raw per-page text.
func Clean(rawPages []string) []string {
	repeated := repeatedLines(rawPages)

	cleaned := make([]string, len(rawPages))
	for i, page := range rawPages {
		var kept []string
		for _, line := range strings.Split(page, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" {
				if pageNumberRe.MatchString(trimmed) {
					continue
				}
				if _, dup := repeated[trimmed]; dup {
					continue
				}
			}
			kept = append(kept, line)
		}
		cleaned[i] = collapseBlankLines(strings.Join(kept, "\n"))
	}
	return cleaned
}

// repeatedLines returns the set of short lines appearing on two or more
// pages. Counting is per page, so a line repeated within one page does not
// qualify.
func repeatedLines(rawPages []string) map[string]struct{} {
	counts := make(map[string]int)
	for _, page := range rawPages {
		seen := make(map[string]struct{})
		for _, line := range strings.Split(page, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || len(trimmed) >= repeatedLineMaxLen {
				continue
			}
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			counts[trimmed]++
		}
	}
	repeated := make(map[string]struct{})
	for line, n := range counts {
		if n >= 2 {
			repeated[line] = struct{}{}
		}
	}
	return repeated
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(text string) string {
	return strings.TrimSpace(blankRunRe.ReplaceAllString(text, "\n\n"))
}
