// Package template personalizes resolved stage content for each recipient.
package template

import (
	"fmt"
	htmltemplate "html/template"
	"io"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/outflow/outflow/pkg/models"
)

// Recipient is the data a message template is executed against.
type Recipient struct {
	ID         string
	Identifier string
	Name       string
	FirstName  string
	Email      string
	Phone      string
	Amount     float64
	HasAmount  bool
	Context    map[string]any
}

// NewRecipient builds template data for prospect. context is exposed as .Context.
func NewRecipient(prospect *models.Prospect, context map[string]any) Recipient {
	recipient := Recipient{
		ID:         prospect.ID,
		Identifier: prospect.Identifier,
		Name:       prospect.Name,
		Email:      prospect.Email,
		Phone:      prospect.Phone,
		Context:    context,
	}

	if fields := strings.Fields(prospect.Name); len(fields) > 0 {
		recipient.FirstName = fields[0]
	}

	if prospect.Amount != nil {
		recipient.Amount = *prospect.Amount
		recipient.HasAmount = true
	}

	return recipient
}

var funcs = map[string]any{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"money": func(value float64) string {
		return strconv.FormatFloat(value, 'f', 2, 64)
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"default": func(fallback, value string) string {
		if strings.TrimSpace(value) == "" {
			return fallback
		}

		return value
	},
}

type executor interface {
	Execute(w io.Writer, data any) error
}

// Compiled is stage content parsed once and executed per recipient.
type Compiled struct {
	content models.Content
	subject executor
	body    executor
}

// Compile parses the subject and body of content. HTML bodies are escaped
// contextually.
func Compile(content models.Content) (*Compiled, error) {
	compiled := &Compiled{content: content}

	subject, err := texttemplate.New("subject").Funcs(funcs).Option("missingkey=error").Parse(content.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject template: %w", err)
	}

	compiled.subject = subject

	if content.IsHTML {
		body, err := htmltemplate.New("body").Funcs(funcs).Option("missingkey=error").Parse(content.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse body template: %w", err)
		}

		compiled.body = body
	} else {
		body, err := texttemplate.New("body").Funcs(funcs).Option("missingkey=error").Parse(content.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse body template: %w", err)
		}

		compiled.body = body
	}

	return compiled, nil
}

// Render personalizes the content for one recipient.
func (c *Compiled) Render(recipient Recipient) (models.Content, error) {
	rendered := c.content

	var buf strings.Builder
	if err := c.subject.Execute(&buf, recipient); err != nil {
		return models.Content{}, fmt.Errorf("failed to execute subject template: %w", err)
	}

	rendered.Subject = buf.String()

	buf.Reset()

	if err := c.body.Execute(&buf, recipient); err != nil {
		return models.Content{}, fmt.Errorf("failed to execute body template: %w", err)
	}

	rendered.Body = buf.String()

	return rendered, nil
}

// Render compiles content and personalizes it for a single recipient.
func Render(content models.Content, recipient Recipient) (models.Content, error) {
	compiled, err := Compile(content)
	if err != nil {
		return models.Content{}, err
	}

	return compiled.Render(recipient)
}
