// Package chat implements the conversation controller: it owns a device's
// message history and profiles, builds prompts and talks to the model.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amumu-chat/amumu/internal/convlog"
	"github.com/amumu-chat/amumu/internal/domain"
	"github.com/amumu-chat/amumu/internal/llm"
	"github.com/amumu-chat/amumu/internal/namedetect"
	"github.com/amumu-chat/amumu/internal/prompt"
	"github.com/amumu-chat/amumu/internal/store"
)

var (
	// ErrBusy is returned while a reply for the same device is still pending.
	ErrBusy = errors.New("a reply is already pending")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInvalidSettings wraps settings validation failures.
	ErrInvalidSettings = errors.New("invalid settings")
)

// DefaultHistoryLimit is how many previous turns go into each prompt.
const DefaultHistoryLimit = 50

// Options tune a Controller. Zero values select defaults.
type Options struct {
	HistoryLimit int
	Identity     domain.Identity
	Notifier     Notifier
	ConvLog      convlog.Logger
	Logger       *slog.Logger
	Now          func() time.Time
}

// Controller runs chat operations against persisted device state. Every
// mutation is written to the repository before the call returns.
type Controller struct {
	repo         store.Repository
	gen          llm.Generator
	historyLimit int
	identity     domain.Identity
	notifier     Notifier
	convlog      convlog.Logger
	log          *slog.Logger
	now          func() time.Time

	// deviceID -> *sync.Mutex held for the duration of a Send.
	inflight sync.Map
}

// SendResult is the outcome of one user turn.
type SendResult struct {
	UserMessage  domain.Message `json:"userMessage"`
	ReplyMessage domain.Message `json:"replyMessage"`
	State        domain.State   `json:"state"`
}

// NewController wires a controller.
func NewController(repo store.Repository, gen llm.Generator, opts Options) *Controller {
	c := &Controller{
		repo:         repo,
		gen:          gen,
		historyLimit: opts.HistoryLimit,
		identity:     opts.Identity,
		notifier:     opts.Notifier,
		convlog:      opts.ConvLog,
		log:          opts.Logger,
		now:          opts.Now,
	}
	if c.historyLimit <= 0 {
		c.historyLimit = DefaultHistoryLimit
	}
	if c.identity == (domain.Identity{}) {
		c.identity = domain.DefaultIdentity()
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.convlog == nil {
		c.convlog = convlog.Noop{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Pending reports whether a reply is being generated for the device.
func (c *Controller) Pending(deviceID string) bool {
	v, ok := c.inflight.Load(deviceID)
	if !ok {
		return false
	}
	mu := v.(*sync.Mutex)
	if mu.TryLock() {
		mu.Unlock()
		return false
	}
	return true
}

// State loads the device's state, filling in defaults for missing entries.
func (c *Controller) State(ctx context.Context, deviceID string) (*domain.State, error) {
	items, err := c.repo.GetItems(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return c.stateFromItems(deviceID, items), nil
}

func (c *Controller) stateFromItems(deviceID string, items map[string]string) *domain.State {
	user := domain.DefaultUser()
	agent := domain.DefaultAgent()
	setIfPresent(items, domain.KeyUserName, &user.Name)
	setIfPresent(items, domain.KeyUserAvatar, &user.Avatar)
	setIfPresent(items, domain.KeyBotName, &agent.Name)
	setIfPresent(items, domain.KeyBotAvatar, &agent.Avatar)
	setIfPresent(items, domain.KeyBotPersonality, &agent.Personality)

	var msgs []domain.Message
	if raw, ok := items[domain.KeyMessages]; ok {
		decoded, err := domain.DecodeMessages(raw)
		if err != nil {
			c.log.Warn("Stored history is unreadable, starting over", "device_id", deviceID, "error", err)
		} else {
			msgs = decoded
		}
	}
	if msgs == nil {
		msgs = domain.InitialGreeting(c.now())
	}

	return &domain.State{Messages: msgs, User: user, Agent: agent}
}

// setIfPresent keeps the default when the stored value is missing or blank.
func setIfPresent(items map[string]string, key string, dst *string) {
	if v := items[key]; v != "" {
		*dst = v
	}
}

// Send appends the user's message, asks the model for a reply and appends
// that (or a canned apology). Only one Send per device runs at a time;
// concurrent calls fail with ErrBusy. The model call is not cancelled when
// ctx is: a pending reply always runs to completion.
func (c *Controller) Send(ctx context.Context, deviceID, sessionID, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	v, _ := c.inflight.LoadOrStore(deviceID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, ErrBusy
	}
	defer mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	state, err := c.State(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	previous := state.Messages

	userMsg := domain.NewMessage(text, true, c.now())
	state.Messages = append(state.Messages, userMsg)
	encoded, err := domain.EncodeMessages(state.Messages)
	if err != nil {
		return nil, err
	}
	updates := map[string]string{domain.KeyMessages: encoded}

	// The prompt addresses the user by the name known before this message;
	// a new name only appears in the introduction directive.
	knownName := state.User.Name
	detected, introduced := namedetect.Detect(text)
	if introduced {
		state.User.Name = detected
		updates[domain.KeyUserName] = detected
		c.log.Info("User introduced themselves", "device_id", deviceID, "name", detected)
	}

	if err := c.repo.SetItems(ctx, deviceID, updates); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	exchangeID := uuid.NewString()
	c.logEvent(deviceID, sessionID, "outbound", "chat_user_message", text, map[string]any{"exchange_id": exchangeID})
	c.notifier.Publish(deviceID, Event{Type: EventState, State: state})
	c.notifier.Publish(deviceID, Event{Type: EventTyping, Typing: true})
	defer c.notifier.Publish(deviceID, Event{Type: EventTyping, Typing: false})

	in := prompt.Input{
		Agent:    state.Agent,
		Identity: c.identity,
		UserName: knownName,
		History:  prompt.History(previous, c.historyLimit, knownName, state.Agent.Name),
		Message:  text,
	}
	if introduced {
		in.DetectedName = detected
	}

	replyText, outcome := c.generate(ctx, deviceID, prompt.Build(in))

	replyMsg := domain.NewMessage(replyText, false, c.now())
	if replyMsg.ID <= userMsg.ID {
		replyMsg.ID = userMsg.ID + 1
	}

	// Re-read so a reset or settings save made while waiting is kept.
	latest, err := c.State(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	latest.Messages = append(latest.Messages, replyMsg)
	encoded, err = domain.EncodeMessages(latest.Messages)
	if err != nil {
		return nil, err
	}
	if err := c.repo.SetItems(ctx, deviceID, map[string]string{domain.KeyMessages: encoded}); err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}
	c.logEvent(deviceID, sessionID, "inbound", "chat_assistant_message", replyText, map[string]any{"exchange_id": exchangeID, "outcome": outcome})
	c.notifier.Publish(deviceID, Event{Type: EventState, State: latest})

	return &SendResult{UserMessage: userMsg, ReplyMessage: replyMsg, State: *latest}, nil
}

// generate returns the reply text and a short outcome label for logging.
func (c *Controller) generate(ctx context.Context, deviceID, p string) (string, string) {
	start := c.now()
	reply, err := c.gen.Generate(ctx, p)
	switch {
	case err == nil:
		c.log.Info("Reply generated", "device_id", deviceID, "prompt_length", len(p), "reply_length", len(reply), "duration", c.now().Sub(start))
		return reply, "ok"
	case errors.Is(err, llm.ErrEmptyResponse):
		c.log.Warn("Model returned an empty reply", "device_id", deviceID)
		return domain.ConfusedReply, "empty"
	default:
		c.log.Error("Error calling model", "device_id", deviceID, "error", err)
		return domain.ApologyReply, "error"
	}
}

// SaveSettings validates and stores both profiles.
func (c *Controller) SaveSettings(ctx context.Context, deviceID string, s Settings) (*domain.State, error) {
	s = s.normalized()
	if err := validate.Struct(s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	err := c.repo.SetItems(ctx, deviceID, map[string]string{
		domain.KeyUserName:       s.UserName,
		domain.KeyUserAvatar:     s.UserAvatar,
		domain.KeyBotName:        s.BotName,
		domain.KeyBotAvatar:      s.BotAvatar,
		domain.KeyBotPersonality: s.BotPersonality,
	})
	if err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	state, err := c.State(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	c.log.Info("Settings saved", "device_id", deviceID, "bot_name", s.BotName)
	c.notifier.Publish(deviceID, Event{Type: EventState, State: state})
	return state, nil
}

// Reset restores the default bot and replaces the history with a single
// greeting addressed to the current user. The user profile is kept.
func (c *Controller) Reset(ctx context.Context, deviceID string) (*domain.State, error) {
	current, err := c.State(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	agent := domain.DefaultAgent()
	msgs := domain.ResetGreeting(current.User.Name, c.now())
	encoded, err := domain.EncodeMessages(msgs)
	if err != nil {
		return nil, err
	}

	err = c.repo.SetItems(ctx, deviceID, map[string]string{
		domain.KeyBotName:        agent.Name,
		domain.KeyBotAvatar:      agent.Avatar,
		domain.KeyBotPersonality: agent.Personality,
		domain.KeyMessages:       encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("reset chat: %w", err)
	}

	state := &domain.State{Messages: msgs, User: current.User, Agent: agent}
	c.log.Info("Chat reset", "device_id", deviceID)
	c.notifier.Publish(deviceID, Event{Type: EventState, State: state})
	return state, nil
}

func (c *Controller) logEvent(deviceID, sessionID, direction, eventType, content string, meta map[string]any) {
	c.convlog.Log(convlog.Event{
		Timestamp:  c.now().UTC().Format(time.RFC3339Nano),
		DeviceID:   deviceID,
		SessionID:  sessionID,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
