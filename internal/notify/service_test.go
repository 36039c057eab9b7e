package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/gravity-worker/internal/clients"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/internal/metadata/metadatatest"
	"github.com/rohmanhakim/gravity-worker/internal/notify"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Show(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func newService(n notify.Notifier, registry *clients.Registry) *notify.Service {
	return notify.NewService(n, registry, &metadata.NoopSink{}, notify.Params{
		Defaults:    notify.DefaultDefaults(),
		ClientMatch: "gravity",
		OpenURL:     "https://gravity.example.com/",
	})
}

func TestParsePush(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    notify.Payload
		present bool
		wantErr bool
	}{
		{"full payload", `{"title":"Leg day","body":"3 sets"}`, notify.Payload{Title: "Leg day", Body: "3 sets"}, true, false},
		{"empty object", `{}`, notify.Payload{}, true, false},
		{"no data", ``, notify.Payload{}, false, false},
		{"not json", `squats`, notify.Payload{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := notify.ParsePush([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.present, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaults_Build(t *testing.T) {
	n := notify.DefaultDefaults().Build(notify.Payload{})

	assert.Equal(t, "Gravity Glutes", n.Title)
	assert.Equal(t, "Time for your workout!", n.Body)
	assert.Equal(t, "./icon-192x192.png", n.Icon)
	assert.Equal(t, "./icon-96x96.png", n.Badge)
	assert.Equal(t, []int{200, 100, 200}, n.Vibrate)
	require.Len(t, n.Actions, 2)
	assert.Equal(t, notify.ActionOpen, n.Actions[0].Action)
	assert.Equal(t, notify.ActionDismiss, n.Actions[1].Action)
}

func TestService_PushShowsNotification(t *testing.T) {
	n := &mockNotifier{}
	n.On("Show", mock.Anything, mock.MatchedBy(func(got notify.Notification) bool {
		return got.Title == "Gravity Glutes" && got.Body == "Rest is over" && got.Data.Body == "Rest is over"
	})).Return(nil).Once()

	svc := newService(n, clients.NewRegistry(&metadata.NoopSink{}))
	shown, ok, err := svc.Push(context.Background(), []byte(`{"body":"Rest is over"}`))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Rest is over", shown.Body)
	n.AssertExpectations(t)
}

func TestService_PushWithoutDataShowsNothing(t *testing.T) {
	n := &mockNotifier{}
	svc := newService(n, clients.NewRegistry(&metadata.NoopSink{}))

	_, ok, err := svc.Push(context.Background(), nil)

	require.NoError(t, err)
	assert.False(t, ok)
	n.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
}

func TestService_PushNotifierFailure(t *testing.T) {
	n := &mockNotifier{}
	n.On("Show", mock.Anything, mock.Anything).Return(assert.AnError)
	svc := newService(n, clients.NewRegistry(&metadata.NoopSink{}))

	_, ok, err := svc.Push(context.Background(), []byte(`{}`))

	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, ok)
}

func TestService_ClickFocusesMatchingWindow(t *testing.T) {
	registry := clients.NewRegistry(&metadata.NoopSink{})
	_, _ = registry.Register("https://other.example.com/")
	app, _ := registry.Register("https://gravity.example.com/index.html")
	svc := newService(&mockNotifier{}, registry)

	for _, action := range []string{"", notify.ActionOpen} {
		outcome, c, err := svc.Click(context.Background(), action)
		require.NoError(t, err)
		assert.Equal(t, notify.ClickFocused, outcome)
		assert.Equal(t, app.ID, c.ID)
	}
	assert.Len(t, registry.MatchAll(), 2)
}

func TestService_ClickOpensWindowWhenNoneMatch(t *testing.T) {
	registry := clients.NewRegistry(&metadata.NoopSink{})
	_, _ = registry.Register("https://other.example.com/")
	svc := newService(&mockNotifier{}, registry)

	outcome, c, err := svc.Click(context.Background(), notify.ActionOpen)

	require.NoError(t, err)
	assert.Equal(t, notify.ClickOpened, outcome)
	assert.Equal(t, "https://gravity.example.com/", c.URL)
	assert.True(t, c.Focused)
	assert.Len(t, registry.MatchAll(), 2)
}

func TestService_DismissDoesNothing(t *testing.T) {
	registry := clients.NewRegistry(&metadata.NoopSink{})
	svc := newService(&mockNotifier{}, registry)

	outcome, _, err := svc.Click(context.Background(), notify.ActionDismiss)

	require.NoError(t, err)
	assert.Equal(t, notify.ClickIgnored, outcome)
	assert.Empty(t, registry.MatchAll())
}

func TestLogNotifier(t *testing.T) {
	sink := &metadatatest.Sink{}
	require.NoError(t, notify.NewLogNotifier(sink).Show(context.Background(), notify.DefaultDefaults().Build(notify.Payload{})))
	assert.Equal(t, []string{"notification shown"}, sink.Notices())
}
