package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"1234.56", 1234.56},
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"R$ 1.234,56", 1234.56},
		{"$1,234.56", 1234.56},
		{"€ 12,5", 12.5},
		{"1,234", 1234},
		{"1.234.567", 1234567},
		{"-10", -10},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 0.0001)
		})
	}

	empty, err := ParseAmount("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseAmount("lots")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSanitizeName(t *testing.T) {
	name, err := SanitizeName("  José   da  Silva ")
	require.NoError(t, err)
	assert.Equal(t, "José da Silva", name)

	_, err = SanitizeName("12345")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestSanitizePhone(t *testing.T) {
	assert.Equal(t, "5511987654321", SanitizePhone("+55 (11) 98765-4321"))
	assert.Empty(t, SanitizePhone("1234"))
	assert.Empty(t, SanitizePhone("1234567890123456"))
}

func TestSanitizeIdentifierFallback(t *testing.T) {
	columns := Columns{Name: 0, Email: 1, Phone: 2, Identifier: -1, Amount: -1}
	sanitizer := NewSanitizer(false)

	row, err := sanitizer.Sanitize([]string{"Ana", "ANA@Example.com ", ""}, columns)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", row.Prospect.Identifier)
	assert.Equal(t, "ana@example.com", row.Prospect.Email)
	assert.True(t, row.MissingPhone)

	row, err = sanitizer.Sanitize([]string{"Ana", "not-an-email", "11 99999-0000"}, columns)
	require.NoError(t, err)
	assert.Equal(t, "11999990000", row.Prospect.Identifier)
	assert.True(t, row.MissingEmail)

	_, err = sanitizer.Sanitize([]string{"Ana", "", ""}, columns)
	assert.ErrorIs(t, err, ErrNoIdentifier)
}

func TestNewReaderDetectsHeader(t *testing.T) {
	reader, err := NewReader(strings.NewReader("\ufeffNome;E-mail;Celular\nAna;ana@example.com;11999990000\n"))
	require.NoError(t, err)
	assert.Equal(t, Columns{Name: 0, Email: 1, Phone: 2, Identifier: -1, Amount: -1}, reader.Columns())

	row, fields, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, row)
	assert.Equal(t, []string{"Ana", "ana@example.com", "11999990000"}, fields)

	_, err = NewReader(strings.NewReader("email,phone\n"))
	assert.ErrorIs(t, err, ErrNoNameColumn)
}
