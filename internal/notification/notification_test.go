package notification_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MrJamesThe3rd/reloop/internal/kafka"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
)

func TestLocalizer_Title(t *testing.T) {
	type testCase struct {
		name string
		lang string
		typ  notification.Type
		want string
	}

	tests := []testCase{
		{"English", "en", notification.TypeApplicationAccepted, "Your request for Bike was accepted"},
		{"Indonesian", "id-ID", notification.TypeApplicationAccepted, "Permintaan Anda untuk Bike diterima"},
		{"UnsupportedFallsBackToEnglish", "fr", notification.TypeBorrowOverdue, "Bike is overdue"},
		{"EmptyLanguage", "", notification.TypePostingCreated, "Your item Bike has been posted"},
		{"UnknownType", "en", notification.Type("mystery"), "Bike"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := notification.NewLocalizer(tt.lang)
			assert.Equal(t, tt.want, l.Title(tt.typ, "Bike"))
		})
	}
}

func TestSend_LogsAndContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := notification.NewMockNotifier(ctrl)

	first := notification.Event{UserID: uuid.New(), Type: notification.TypeApplicationDeclined}
	second := notification.Event{UserID: uuid.New(), Type: notification.TypeApplicationAccepted}

	gomock.InOrder(
		m.EXPECT().Notify(gomock.Any(), first).Return(errors.New("broker down")),
		m.EXPECT().Notify(gomock.Any(), second).Return(nil),
	)

	notification.Send(context.Background(), m, first, second)
}

func TestStoreNotifier_RendersTitle(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := notification.NewMockStore(ctrl)
	user := uuid.New()

	store.EXPECT().
		Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n *notification.Notification) error {
			assert.Equal(t, user, n.UserID)
			assert.Equal(t, "New request for Lamp", n.Title)
			assert.NotEqual(t, uuid.Nil, n.EventID)
			return nil
		})

	n := notification.NewStoreNotifier(store, notification.NewLocalizer("en"))
	err := n.Notify(context.Background(), notification.Event{
		UserID:   user,
		Type:     notification.TypeApplicationReceived,
		ItemName: "Lamp",
	})
	require.NoError(t, err)
}

type capturePublisher struct {
	key, value []byte
}

func (p *capturePublisher) Publish(_ context.Context, key, value []byte, _ ...segkafka.Header) error {
	p.key, p.value = key, value
	return nil
}

func TestKafkaNotifier_RoundTripThroughConsumer(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{}
	n := notification.NewKafkaNotifier(pub, notification.NewLocalizer("en"), "reloop-api")

	user := uuid.New()
	ev := notification.Event{
		UserID:      user,
		Type:        notification.TypeBorrowOverdue,
		EntityID:    uuid.New(),
		ItemName:    "Drill",
		MessageKey:  "borrow_application.request.overdue_detail",
		MessageData: map[string]any{"days": float64(2)},
	}
	require.NoError(t, n.Notify(ctx, ev))
	assert.Equal(t, user.String(), string(pub.key))

	store := notification.NewMemoryStore()
	handle := notification.ConsumerHandler(store)

	msg := segkafka.Message{Value: pub.value}
	require.NoError(t, handle(ctx, msg))
	require.NoError(t, handle(ctx, msg))

	got, err := store.ListByUser(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Drill is overdue", got[0].Title)
	assert.Equal(t, ev.EntityID, got[0].EntityID)
	assert.Equal(t, float64(2), got[0].MessageData["days"])
}

func TestConsumerHandler_IgnoresOtherEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := notification.NewMockStore(ctrl)

	env, err := kafka.NewEnvelope("SomethingElse", "test", map[string]string{})
	require.NoError(t, err)

	err = notification.ConsumerHandler(store)(context.Background(), segkafka.Message{Value: kafka.MustMarshal(env)})
	assert.NoError(t, err)
}

func TestService_MarkRead(t *testing.T) {
	ctx := context.Background()
	store := notification.NewMemoryStore()
	svc := notification.NewService(store)
	user := uuid.New()

	require.NoError(t, store.Save(ctx, &notification.Notification{EventID: uuid.New(), UserID: user, Title: "t"}))

	list, err := svc.List(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].ReadAt)

	require.NoError(t, svc.MarkRead(ctx, user, list[0].ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, uuid.New(), list[0].ID), notification.ErrNotFound)

	list, err = svc.List(ctx, user, 0)
	require.NoError(t, err)
	assert.NotNil(t, list[0].ReadAt)
}
