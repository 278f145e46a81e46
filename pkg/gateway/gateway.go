// Package gateway declares the capabilities the engine consumes (sending, engagement
// statistics, template content) and the adapters that provide them.
package gateway

import (
	"context"
	"errors"

	"github.com/outflow/outflow/pkg/models"
)

var (
	// ErrStatsUnavailable means the statistics provider could not be reached.
	ErrStatsUnavailable = errors.New("engagement statistics unavailable")
	ErrTemplateNotFound = errors.New("template not found")
)

// SendRequest is one send call: the same content to many recipients of a channel.
type SendRequest struct {
	Channel    models.Channel
	Recipients []*models.Prospect
	Content    models.Content
	Context    map[string]any
	// IdempotencyKey is stable across redeliveries of the same unit of work.
	IdempotencyKey string
	// GroupID is the batch group the request belongs to, empty for direct sends.
	GroupID string
}

type SendResult struct {
	MessageID string
	Accepted  int
	Rejected  int
}

// Sender must be safe to call with any number of recipients.
type Sender interface {
	Send(ctx context.Context, request SendRequest) (*SendResult, error)
}

// StatsProvider reports an engagement metric aggregated over a message id.
type StatsProvider interface {
	EngagementStats(ctx context.Context, messageID, metric string) (float64, error)
}

// RecipientStatsProvider also reports the metric per prospect. Prospects absent
// from the result have a value of zero.
type RecipientStatsProvider interface {
	StatsProvider
	RecipientStats(ctx context.Context, messageID, metric string, prospectIDs []string) (map[string]float64, error)
}

// ContentResolver returns the subject, body and format of a template reference.
type ContentResolver interface {
	Resolve(ctx context.Context, templateRef string) (*models.Content, error)
}

// StageContent picks the content of a stage node. A template reference wins over
// inline content; the returned Source records which one was used.
func StageContent(ctx context.Context, resolver ContentResolver, node models.StageNode) (models.Content, error) {
	if node.TemplateRef == "" {
		return models.Content{
			Subject: node.Subject,
			Body:    node.Content,
			IsHTML:  node.IsHTML,
			Source:  models.ContentSourceInline,
		}, nil
	}

	if resolver == nil {
		return models.Content{}, ErrTemplateNotFound
	}

	resolved, err := resolver.Resolve(ctx, node.TemplateRef)
	if err != nil {
		return models.Content{}, err
	}

	content := *resolved
	content.Source = models.ContentSourceTemplate

	if content.Subject == "" {
		content.Subject = node.Subject
	}

	return content, nil
}

// Reachable reports whether prospect has an address for channel.
func Reachable(channel models.Channel, prospect *models.Prospect) bool {
	switch channel {
	case models.ChannelEmail:
		return prospect.Email != ""
	case models.ChannelSMS:
		return prospect.Phone != ""
	default:
		return false
	}
}

// Address returns the prospect address used on channel.
func Address(channel models.Channel, prospect *models.Prospect) string {
	if channel == models.ChannelSMS {
		return prospect.Phone
	}

	return prospect.Email
}
