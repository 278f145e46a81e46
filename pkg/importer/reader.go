package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoNameColumn is returned for a file whose header names no name column.
var ErrNoNameColumn = errors.New("header has no name column")

var headerAliases = map[string][]string{
	"name":       {"name", "full_name", "nome"},
	"email":      {"email", "e-mail", "mail"},
	"phone":      {"phone", "telephone", "mobile", "celular"},
	"identifier": {"identifier", "id", "document", "cpf"},
	"amount":     {"amount", "value", "debt", "valor"},
}

// Columns holds the index of each known column, -1 when the file lacks it.
type Columns struct {
	Name       int
	Email      int
	Phone      int
	Identifier int
	Amount     int
}

// MapColumns resolves header aliases case-insensitively.
func MapColumns(header []string) (Columns, error) {
	columns := Columns{Name: -1, Email: -1, Phone: -1, Identifier: -1, Amount: -1}
	targets := map[string]*int{
		"name":       &columns.Name,
		"email":      &columns.Email,
		"phone":      &columns.Phone,
		"identifier": &columns.Identifier,
		"amount":     &columns.Amount,
	}

	for i, raw := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff")))

		for field, aliases := range headerAliases {
			for _, alias := range aliases {
				if key == alias && *targets[field] == -1 {
					*targets[field] = i
				}
			}
		}
	}

	if columns.Name == -1 {
		return columns, ErrNoNameColumn
	}

	return columns, nil
}

// DetectSeparator picks ';' when the header line has more semicolons than commas.
func DetectSeparator(headerLine string) rune {
	if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		return ';'
	}

	return ','
}

// Reader yields the data rows of a prospect file with their 1-based row numbers.
type Reader struct {
	csv     *csv.Reader
	columns Columns
	row     int
}

func NewReader(r io.Reader) (*Reader, error) {
	buffered := bufio.NewReader(r)

	headerLine, err := buffered.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	if strings.TrimSpace(headerLine) == "" {
		return nil, errors.New("file is empty")
	}

	reader := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), buffered))
	reader.Comma = DetectSeparator(headerLine)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	columns, err := MapColumns(header)
	if err != nil {
		return nil, err
	}

	return &Reader{csv: reader, columns: columns}, nil
}

func (r *Reader) Columns() Columns {
	return r.columns
}

// Next returns the next row. A malformed row is returned with a *csv.ParseError so
// the caller can count it and keep reading. io.EOF ends the file.
func (r *Reader) Next() (int, []string, error) {
	record, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return r.row, nil, io.EOF
	}

	r.row++

	return r.row, record, err
}
