package notify

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	DefaultTitle = "Gravity Glutes"
	DefaultBody  = "Time for your workout!"

	ActionOpen    = "open"
	ActionDismiss = "dismiss"
)

// Payload is the JSON a push message carries.
type Payload struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what the worker asks the platform to display.
type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Vibrate []int    `json:"vibrate"`
	Actions []Action `json:"actions"`
	Data    Payload  `json:"data"`
}

// Defaults fill in what a push payload leaves out.
type Defaults struct {
	Title string
	Body  string
	Icon  string
	Badge string
}

func DefaultDefaults() Defaults {
	return Defaults{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Icon:  "./icon-192x192.png",
		Badge: "./icon-96x96.png",
	}
}

// ParsePush decodes a push message. An empty message yields no payload.
func ParsePush(data []byte) (Payload, bool, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Payload{}, false, nil
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, false, fmt.Errorf("decode push payload: %w", err)
	}
	return p, true, nil
}

// Build turns a payload into the notification to show.
func (d Defaults) Build(p Payload) Notification {
	title := p.Title
	if title == "" {
		title = d.Title
	}
	body := p.Body
	if body == "" {
		body = d.Body
	}
	return Notification{
		Title:   title,
		Body:    body,
		Icon:    d.Icon,
		Badge:   d.Badge,
		Vibrate: []int{200, 100, 200},
		Actions: []Action{
			{Action: ActionOpen, Title: "Open App"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
		Data: p,
	}
}
