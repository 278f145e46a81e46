package gateway_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/outflow/outflow/pkg/channels/gochannel"
	"github.com/outflow/outflow/pkg/eventbus"
	"github.com/outflow/outflow/pkg/events"
	"github.com/outflow/outflow/pkg/gateway"
	"github.com/outflow/outflow/pkg/mocks"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence/memory"
	"github.com/outflow/outflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStageContent(t *testing.T) {
	ctx := context.Background()

	t.Run("inline content", func(t *testing.T) {
		node := testutil.CreateTestStage("A")

		content, err := gateway.StageContent(ctx, nil, node)
		require.NoError(t, err)
		assert.Equal(t, models.ContentSourceInline, content.Source)
		assert.Equal(t, node.Content, content.Body)
	})

	t.Run("template wins over inline", func(t *testing.T) {
		resolver := &mocks.MockContentResolver{}
		resolver.On("Resolve", ctx, "welcome").Return(&models.Content{Body: "from template", IsHTML: true}, nil)

		node := testutil.CreateTestStage("A", testutil.WithTemplate("welcome"))

		content, err := gateway.StageContent(ctx, resolver, node)
		require.NoError(t, err)
		assert.Equal(t, models.ContentSourceTemplate, content.Source)
		assert.Equal(t, "from template", content.Body)
		assert.True(t, content.IsHTML)
		assert.Equal(t, node.Subject, content.Subject)
		resolver.AssertExpectations(t)
	})

	t.Run("missing template", func(t *testing.T) {
		resolver := &mocks.MockContentResolver{}
		resolver.On("Resolve", ctx, "nope").Return(nil, gateway.ErrTemplateNotFound)

		_, err := gateway.StageContent(ctx, resolver, testutil.CreateTestStage("A", testutil.WithTemplate("nope")))
		assert.ErrorIs(t, err, gateway.ErrTemplateNotFound)
	})
}

func TestCourierDeliver(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	ids, err := testutil.SeedProspects(ctx, store.ProspectRepository(), 3)
	require.NoError(t, err)

	noEmail := &models.Prospect{Identifier: "X1", Name: "No Email", Phone: "5511999999999"}
	require.NoError(t, store.ProspectRepository().UpsertProspects(ctx, []*models.Prospect{noEmail}))

	cohort := append(append([]string{}, ids...), models.ProspectID("X1"), "unknown")

	sender := &mocks.MockSender{}
	sender.On("Send", ctx, mock.MatchedBy(func(r gateway.SendRequest) bool {
		return len(r.Recipients) == 3 && r.Channel == models.ChannelEmail && r.IdempotencyKey == "k1"
	})).Return(&gateway.SendResult{MessageID: "m1", Accepted: 3}, nil)

	courier := gateway.NewCourier(sender, store.ProspectRepository(), nil, discardLogger())

	result, err := courier.Deliver(ctx, gateway.Delivery{
		Node:           testutil.CreateTestStage("A"),
		Content:        models.Content{Body: "hi"},
		ProspectIDs:    cohort,
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", result.MessageID)
	assert.Equal(t, 3, result.Accepted)
	assert.Equal(t, 2, result.Rejected)
	sender.AssertExpectations(t)
}

func TestCourierDeliverNobodyReachable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()
	sender := &mocks.MockSender{}

	courier := gateway.NewCourier(sender, store.ProspectRepository(), nil, discardLogger())

	result, err := courier.Deliver(ctx, gateway.Delivery{
		Node:        testutil.CreateTestStage("A"),
		ProspectIDs: []string{"a", "b"},
		GroupID:     "bg-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "bg-1", result.MessageID)
	assert.Equal(t, 2, result.Rejected)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCourierDeliverSendError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	ids, err := testutil.SeedProspects(ctx, store.ProspectRepository(), 1)
	require.NoError(t, err)

	sender := &mocks.MockSender{}
	sender.On("Send", ctx, mock.Anything).Return(nil, errors.New("provider down"))

	courier := gateway.NewCourier(sender, store.ProspectRepository(), nil, discardLogger())

	_, err = courier.Deliver(ctx, gateway.Delivery{Node: testutil.CreateTestStage("A"), ProspectIDs: ids})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestEventBusSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := discardLogger()

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	defer bus.Close()

	received := make(chan *events.SendRequested, 4)
	require.NoError(t, bus.Handle(events.SendRequestedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.SendRequested)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	prospects := testutil.CreateTestProspects(2)
	sender := gateway.NewEventBusSender(bus, logger)

	result, err := sender.Send(ctx, gateway.SendRequest{
		Channel:        models.ChannelEmail,
		Recipients:     prospects,
		Content:        models.Content{Subject: "Hi {{.FirstName}}", Body: "Dear {{.Name}}"},
		Context:        map[string]any{"execution_id": "exec-1"},
		IdempotencyKey: "exec-1:A",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, gateway.MessageID("exec-1:A"), result.MessageID)

	for range 2 {
		event := <-received
		assert.Equal(t, result.MessageID, event.MessageID)
		assert.Equal(t, "exec-1", event.ExecutionID)
		assert.Equal(t, "Hi Prospect", event.Subject)
		assert.Contains(t, event.Body, "Dear Prospect")
	}
}

func TestEventBusSenderRejectsUnrenderable(t *testing.T) {
	ctx := context.Background()

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("id")

	sender := gateway.NewEventBusSender(bus, discardLogger())

	result, err := sender.Send(ctx, gateway.SendRequest{
		Channel:        models.ChannelEmail,
		Recipients:     testutil.CreateTestProspects(1),
		Content:        models.Content{Body: "{{.Context.missing.value}}"},
		IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 1, result.Rejected)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageIDIsDeterministic(t *testing.T) {
	assert.Equal(t, gateway.MessageID("a"), gateway.MessageID("a"))
	assert.NotEqual(t, gateway.MessageID("a"), gateway.MessageID("b"))
}

func TestTemplateResolver(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "welcome.yaml"), []byte("subject: Welcome\nbody: Hello {{.Name}}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yml"), []byte("name: reminder\nbody: <p>Pay</p>\nis_html: true\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	resolver, err := gateway.NewTemplateResolver(dir)
	require.NoError(t, err)

	welcome, err := resolver.Resolve(context.Background(), "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Welcome", welcome.Subject)
	assert.False(t, welcome.IsHTML)

	reminder, err := resolver.Resolve(context.Background(), "reminder")
	require.NoError(t, err)
	assert.True(t, reminder.IsHTML)

	_, err = resolver.Resolve(context.Background(), "other")
	assert.ErrorIs(t, err, gateway.ErrTemplateNotFound)
}

func TestTemplateResolverRejectsEmptyBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.yaml"), []byte("subject: Nothing\n"), 0o600))

	_, err := gateway.NewTemplateResolver(dir)
	require.Error(t, err)
}

func TestRedisStats(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := context.Background()
	stats := gateway.NewRedisStats(client, "")

	value, err := stats.EngagementStats(ctx, "m1", "views")
	require.NoError(t, err)
	assert.Zero(t, value)

	require.NoError(t, stats.Record(ctx, "m1", "views", "p1", 3))
	require.NoError(t, stats.Record(ctx, "m1", "views", "p2", 2))

	value, err = stats.EngagementStats(ctx, "m1", "views")
	require.NoError(t, err)
	assert.InDelta(t, 5, value, 0.0001)

	perRecipient, err := stats.RecipientStats(ctx, "m1", "views", []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"p1": 3, "p2": 2}, perRecipient)
}
