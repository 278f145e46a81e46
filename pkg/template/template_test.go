package template

import (
	"testing"

	"github.com/outflow/outflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_PersonalizesRecipient(t *testing.T) {
	amount := 1234.5
	recipient := NewRecipient(&models.Prospect{
		ID:     "p1",
		Name:   "Maria  Silva",
		Email:  "maria@example.com",
		Amount: &amount,
	}, map[string]any{"campaign": "spring"})

	tests := []struct {
		name    string
		content models.Content
		subject string
		body    string
	}{
		{
			name:    "plain text",
			content: models.Content{Subject: "Hi {{.FirstName}}", Body: "You owe {{money .Amount}}"},
			subject: "Hi Maria",
			body:    "You owe 1234.50",
		},
		{
			name:    "context and funcs",
			content: models.Content{Body: "{{upper .Context.campaign}} for {{.Email}}"},
			body:    "SPRING for maria@example.com",
		},
		{
			name:    "html is escaped",
			content: models.Content{Body: "<p>{{.Context.campaign}}</p>", IsHTML: true},
			body:    "<p>spring</p>",
		},
		{
			name:    "default",
			content: models.Content{Body: `{{default "friend" .Phone}}`},
			body:    "friend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered, err := Render(tt.content, recipient)
			require.NoError(t, err)
			assert.Equal(t, tt.subject, rendered.Subject)
			assert.Equal(t, tt.body, rendered.Body)
		})
	}
}

func TestRender_EscapesHTMLValues(t *testing.T) {
	recipient := NewRecipient(&models.Prospect{Name: "<b>Bob</b>"}, nil)

	rendered, err := Render(models.Content{Body: "<p>{{.Name}}</p>", IsHTML: true}, recipient)
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt;Bob&lt;/b&gt;</p>", rendered.Body)
}

func TestRender_Errors(t *testing.T) {
	recipient := NewRecipient(&models.Prospect{Name: "Ana"}, nil)

	_, err := Render(models.Content{Body: "{{.Name"}, recipient)
	assert.Error(t, err)

	_, err = Render(models.Content{Body: "{{.Unknown}}"}, recipient)
	assert.Error(t, err)
}

func TestNewRecipient(t *testing.T) {
	recipient := NewRecipient(&models.Prospect{Name: "  Ana   Clara "}, nil)

	assert.Equal(t, "Ana", recipient.FirstName)
	assert.False(t, recipient.HasAmount)
}
