package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/outflow/outflow/pkg/models"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidName   = errors.New("name must contain a letter")
	ErrNoContact     = errors.New("row has neither email nor phone")
	ErrNoIdentifier  = errors.New("row has no identifier, email or phone")
	ErrInvalidAmount = errors.New("invalid amount")
)

// SanitizeName collapses whitespace and normalizes to NFC.
func SanitizeName(raw string) (string, error) {
	name := norm.NFC.String(strings.Join(strings.Fields(raw), " "))

	if !strings.ContainsFunc(name, unicode.IsLetter) {
		return "", ErrInvalidName
	}

	return name, nil
}

// SanitizePhone keeps the digits of raw. It returns "" unless 8 to 15 digits remain.
func SanitizePhone(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}

		return -1
	}, raw)

	if len(digits) < 8 || len(digits) > 15 {
		return ""
	}

	return digits
}

// ParseAmount reads 1234.56, 1.234,56 and 1,234.56 with an optional currency symbol.
// The right-most separator is the decimal one, except a lone comma followed by exactly
// three digits, which groups thousands.
func ParseAmount(raw string) (*float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == '-' {
			return r
		}

		if unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) || unicode.IsLetter(r) {
			return -1
		}

		return r
	}, raw)

	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	if !strings.ContainsFunc(cleaned, unicode.IsDigit) {
		return nil, fmt.Errorf("%w %q", ErrInvalidAmount, raw)
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-lastComma-1 != 3 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil, fmt.Errorf("%w %q", ErrInvalidAmount, raw)
	}

	return &value, nil
}

// Sanitizer turns raw rows into prospects.
type Sanitizer struct {
	validate       *validator.Validate
	requireContact bool
}

func NewSanitizer(requireContact bool) *Sanitizer {
	return &Sanitizer{
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		requireContact: requireContact,
	}
}

// Row is a sanitized row and what it lacks.
type Row struct {
	Prospect     *models.Prospect
	MissingEmail bool
	MissingPhone bool
}

// Sanitize validates one row. Unusable email or phone values are dropped and the row
// counts as missing them.
func (s *Sanitizer) Sanitize(fields []string, columns Columns) (*Row, error) {
	name, err := SanitizeName(field(fields, columns.Name))
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(field(fields, columns.Email)))
	if email != "" && s.validate.Var(email, "email") != nil {
		email = ""
	}

	phone := SanitizePhone(field(fields, columns.Phone))

	row := &Row{MissingEmail: email == "", MissingPhone: phone == ""}

	if s.requireContact && row.MissingEmail && row.MissingPhone {
		return row, ErrNoContact
	}

	amount, err := ParseAmount(field(fields, columns.Amount))
	if err != nil {
		return row, err
	}

	identifier := strings.TrimSpace(field(fields, columns.Identifier))
	for _, fallback := range []string{email, phone} {
		if identifier == "" {
			identifier = fallback
		}
	}

	if identifier == "" {
		return row, ErrNoIdentifier
	}

	row.Prospect = &models.Prospect{
		ID:         models.ProspectID(identifier),
		Identifier: identifier,
		Name:       name,
		Email:      email,
		Phone:      phone,
		Amount:     amount,
	}

	if err := s.validate.Struct(row.Prospect); err != nil {
		return row, fmt.Errorf("invalid prospect: %w", err)
	}

	return row, nil
}

func field(fields []string, index int) string {
	if index < 0 || index >= len(fields) {
		return ""
	}

	return fields[index]
}
