package chart

import (
	"errors"
	"fmt"
	"strings"
)

// Encode joins fields with commas and rows with newlines. Fields are written
// verbatim: titles and artists are already comma-free after normalization.
func Encode(rows [][]string) []byte {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(row, ","))
	}
	return []byte(b.String())
}

// Decode is the inverse of Encode. Blank lines are dropped and CRLF endings tolerated.
func Decode(data []byte) [][]string {
	lines := strings.Split(string(data), "\n")
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, strings.Split(line, ","))
	}
	return rows
}

// ValidateHeader checks that row matches Header column for column.
func ValidateHeader(row []string) error {
	if len(row) != Columns {
		return fmt.Errorf("header has %d columns, want %d", len(row), Columns)
	}
	for i, name := range Header {
		if strings.TrimSpace(strings.TrimPrefix(row[i], "\ufeff")) != name {
			return fmt.Errorf("header column %d is %q, want %q", i, row[i], name)
		}
	}
	return nil
}

// CheckRow reports a row that would not encode to exactly Columns fields on one line.
func CheckRow(row []string) error {
	if len(row) != Columns {
		return fmt.Errorf("has %d columns, want %d", len(row), Columns)
	}
	for i, field := range row {
		if strings.ContainsAny(field, ",\r\n") {
			return fmt.Errorf("column %q contains a delimiter: %q", Header[i], field)
		}
	}
	return nil
}

// ErrNoHeader is returned when a non-empty dataset lacks a header row.
var ErrNoHeader = errors.New("dataset has no header row")

// SplitHeader validates rows[0] and returns the data rows beneath it.
func SplitHeader(rows [][]string) ([][]string, error) {
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}
	if err := ValidateHeader(rows[0]); err != nil {
		return nil, err
	}
	return rows[1:], nil
}
