// Package parser turns a downloaded document blob into an ordered
// sequence of (text, heading-path, page-number) tuples ready for
// chunking. Suffix selects structure-aware parsing (.pdf/.docx/.doc) or
// a plain loader (.txt/.md); anything else fails UNSUPPORTED_FORMAT.
package parser

import (
	"path/filepath"
	"strings"

	"github.com/ragctl/ragctl/apperrors"
)

// Tuple is one parsed unit of source text with its structural context.
type Tuple struct {
	Text        string
	HeadingPath string
	Page        int
}

// Result is everything the chunker needs from a parsed document.
type Result struct {
	Tuples    []Tuple
	PageCount int
}

// Parse dispatches on the file's suffix.
func Parse(path string) (Result, error) {
	suffix := strings.ToLower(filepath.Ext(path))
	switch suffix {
	case ".pdf":
		return parsePDF(path)
	case ".docx", ".doc":
		return parseDOCX(path)
	case ".txt", ".md":
		return parsePlain(path)
	default:
		return Result{}, apperrors.New(apperrors.KindInvalid, "UNSUPPORTED_FORMAT: "+suffix, nil)
	}
}
