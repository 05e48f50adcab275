package parser

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// parsePlain loads a .txt/.md file as one tuple per file, except that
// markdown headings (# .. ######) establish a heading path that
// subsequent lines inherit, mirroring the structure-aware parsers'
// heading-path contract closely enough for the chunker to treat both
// uniformly.
func parsePlain(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var (
		headingStack []string
		tuples       []Tuple
		bodyLines    []string
	)

	flush := func() {
		body := strings.TrimSpace(strings.Join(bodyLines, "\n"))
		if body == "" {
			return
		}
		tuples = append(tuples, Tuple{
			Text:        body,
			HeadingPath: strings.Join(headingStack, " > "),
			Page:        1,
		})
		bodyLines = nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if level, title, ok := markdownHeading(line); ok {
			flush()
			if level-1 < len(headingStack) {
				headingStack = headingStack[:level-1]
			}
			for len(headingStack) < level-1 {
				headingStack = append(headingStack, "")
			}
			headingStack = append(headingStack[:level-1], title)
			continue
		}
		bodyLines = append(bodyLines, line)
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	flush()

	return Result{Tuples: tuples, PageCount: 1}, nil
}

func markdownHeading(line string) (level int, title string, ok bool) {
	trimmed := strings.TrimLeft(line, " ")
	level = 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(trimmed) || trimmed[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(trimmed[level:]), true
}
