package chat

import "github.com/amumu-chat/amumu/internal/domain"

// Event types pushed to a device's open tabs.
const (
	EventState  = "state"
	EventTyping = "typing"
)

// Event is a change a device's open tabs should render.
type Event struct {
	Type   string        `json:"type"`
	State  *domain.State `json:"state,omitempty"`
	Typing bool          `json:"typing,omitempty"`
}

// Notifier fans events out to the tabs of one device.
type Notifier interface {
	Publish(deviceID string, ev Event)
}

type noopNotifier struct{}

func (noopNotifier) Publish(string, Event) {}
