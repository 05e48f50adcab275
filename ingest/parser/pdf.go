package parser

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// parsePDF is a best-effort, standard-library-only PDF text extractor:
// it walks the file's indirect objects, inflates FlateDecode content
// streams, and pulls literal-string operands out of Tj/TJ text-showing
// operators. It does not handle encrypted PDFs, CID/Type0 fonts with
// custom encodings, or embedded images/OCR — those require a real PDF
// library, and none appears anywhere in the retrieval pack (see
// DESIGN.md). Page boundaries are tracked by counting "/Type /Page"
// object dictionaries, which covers the overwhelming majority of
// producers.
func parsePDF(path string) (Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	streams := extractContentStreams(raw)
	if len(streams) == 0 {
		return Result{}, fmt.Errorf("%s: no extractable content streams found", path)
	}

	pageCount := bytes.Count(raw, []byte("/Type /Page")) + bytes.Count(raw, []byte("/Type/Page"))
	if pageCount == 0 {
		pageCount = len(streams)
	}

	tuples := make([]Tuple, 0, len(streams))
	for i, stream := range streams {
		text := extractText(stream)
		if strings.TrimSpace(text) == "" {
			continue
		}
		page := i + 1
		if page > pageCount {
			page = pageCount
		}
		tuples = append(tuples, Tuple{Text: text, Page: page})
	}

	return Result{Tuples: tuples, PageCount: pageCount}, nil
}

var streamPattern = regexp.MustCompile(`(?s)<<(.*?)>>\s*stream\r?\n(.*?)\r?\nendstream`)

// extractContentStreams finds every object dictionary immediately
// followed by a stream body, and inflates it when the dictionary
// declares FlateDecode (the near-universal case for text content
// streams); otherwise the raw bytes are used as-is.
func extractContentStreams(raw []byte) [][]byte {
	var out [][]byte
	for _, m := range streamPattern.FindAllSubmatch(raw, -1) {
		dict, body := m[1], m[2]
		if bytes.Contains(dict, []byte("FlateDecode")) {
			if inflated, err := inflate(body); err == nil {
				out = append(out, inflated)
				continue
			}
		}
		if looksLikeContentStream(body) {
			out = append(out, body)
		}
	}
	return out
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func looksLikeContentStream(b []byte) bool {
	return bytes.Contains(b, []byte("Tj")) || bytes.Contains(b, []byte("TJ")) || bytes.Contains(b, []byte("BT"))
}

var (
	literalShowPattern = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)
	arrayShowPattern   = regexp.MustCompile(`\[((?:[^\[\]\\]|\\.)*)\]\s*TJ`)
	arrayLiteralPart   = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)`)
)

// extractText pulls the string operands out of Tj/TJ operators in a
// decoded content stream and joins them with newlines per text-showing
// operator, a reasonable proxy for line breaks.
func extractText(stream []byte) string {
	var lines []string

	for _, m := range literalShowPattern.FindAllSubmatch(stream, -1) {
		lines = append(lines, unescapePDFString(string(m[1])))
	}
	for _, m := range arrayShowPattern.FindAllSubmatch(stream, -1) {
		var parts []string
		for _, lit := range arrayLiteralPart.FindAllSubmatch(m[1], -1) {
			parts = append(parts, unescapePDFString(string(lit[1])))
		}
		lines = append(lines, strings.Join(parts, ""))
	}

	return strings.Join(lines, "\n")
}

func unescapePDFString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		next := s[i+1]
		switch next {
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case '(', ')', '\\':
			b.WriteByte(next)
			i++
		default:
			if next >= '0' && next <= '7' {
				end := i + 2
				for end < len(s) && end < i+4 && s[end] >= '0' && s[end] <= '7' {
					end++
				}
				if code, err := strconv.ParseInt(s[i+1:end], 8, 32); err == nil {
					b.WriteByte(byte(code))
				}
				i = end - 1
			} else {
				b.WriteByte(next)
				i++
			}
		}
	}
	return b.String()
}
