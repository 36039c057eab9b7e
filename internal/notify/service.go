// Package notify shows push notifications and routes clicks on them to app
// windows. There is no push backend; notifications go to a Notifier.
package notify

import (
	"context"
	"strings"

	"github.com/rohmanhakim/gravity-worker/internal/clients"
	"github.com/rohmanhakim/gravity-worker/internal/metadata"
)

// Notifier displays a notification.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// LogNotifier "displays" notifications by recording them.
type LogNotifier struct {
	metadataSink metadata.MetadataSink
}

func NewLogNotifier(metadataSink metadata.MetadataSink) *LogNotifier {
	return &LogNotifier{metadataSink: metadataSink}
}

func (l *LogNotifier) Show(ctx context.Context, n Notification) error {
	l.metadataSink.RecordNotice("notification shown", []metadata.Attribute{
		metadata.NewAttr(metadata.AttrMessage, n.Title+": "+n.Body),
	})
	return nil
}

// ClickOutcome says what a notification click did.
type ClickOutcome string

const (
	ClickIgnored ClickOutcome = "ignored"
	ClickFocused ClickOutcome = "focused"
	ClickOpened  ClickOutcome = "opened"
)

type Service struct {
	notifier     Notifier
	clients      *clients.Registry
	defaults     Defaults
	clientMatch  string
	openURL      string
	metadataSink metadata.MetadataSink
}

// Params configures a Service.
type Params struct {
	Defaults Defaults
	// ClientMatch is the substring a window URL must contain to be focused.
	ClientMatch string
	// OpenURL is opened when no window matches.
	OpenURL string
}

func NewService(notifier Notifier, registry *clients.Registry, metadataSink metadata.MetadataSink, params Params) *Service {
	return &Service{
		notifier:     notifier,
		clients:      registry,
		defaults:     params.Defaults,
		clientMatch:  params.ClientMatch,
		openURL:      params.OpenURL,
		metadataSink: metadataSink,
	}
}

// Push shows the notification for a push message. Messages without data
// show nothing and report false.
func (s *Service) Push(ctx context.Context, data []byte) (Notification, bool, error) {
	payload, ok, err := ParsePush(data)
	if err != nil || !ok {
		return Notification{}, false, err
	}
	n := s.defaults.Build(payload)
	if err := s.notifier.Show(ctx, n); err != nil {
		return Notification{}, false, err
	}
	return n, true, nil
}

// Click handles a click on a shown notification. An empty action is a click
// on the notification body and behaves like ActionOpen.
func (s *Service) Click(ctx context.Context, action string) (ClickOutcome, clients.Client, error) {
	s.metadataSink.RecordNotice("notification click", []metadata.Attribute{
		metadata.NewAttr(metadata.AttrMessage, action),
	})
	if action != "" && action != ActionOpen {
		return ClickIgnored, clients.Client{}, nil
	}
	for _, c := range s.clients.MatchAll() {
		if strings.Contains(c.URL, s.clientMatch) {
			focused, ok := s.clients.Focus(c.ID)
			if ok {
				return ClickFocused, focused, nil
			}
		}
	}
	opened, err := s.clients.OpenWindow(s.openURL)
	if err != nil {
		return ClickIgnored, clients.Client{}, err
	}
	return ClickOpened, opened, nil
}
