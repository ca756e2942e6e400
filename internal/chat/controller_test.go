package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/amumu-chat/amumu/internal/convlog"
	"github.com/amumu-chat/amumu/internal/domain"
	"github.com/amumu-chat/amumu/internal/llm"
)

type fakeRepo struct {
	mu    sync.Mutex
	items map[string]map[string]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[string]map[string]string)}
}

func (f *fakeRepo) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	return &domain.Device{DeviceID: deviceID}, nil
}

func (f *fakeRepo) EnsureDevice(context.Context, string, time.Time) error { return nil }

func (f *fakeRepo) GetItems(_ context.Context, deviceID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.items[deviceID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeRepo) SetItems(_ context.Context, deviceID string, items map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items[deviceID] == nil {
		f.items[deviceID] = make(map[string]string)
	}
	for k, v := range items {
		f.items[deviceID][k] = v
	}
	return nil
}

func (f *fakeRepo) DeleteIdleDevices(context.Context, time.Duration) ([]string, error) {
	return nil, nil
}
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error { return nil }

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	ctxErrs []error
	block   chan struct{}
	started chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, p string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	block, started := g.block, g.started
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return g.reply, g.err
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(_ string, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

var fixedNow = time.Date(2025, 6, 1, 19, 30, 0, 0, time.UTC)

func newTestController(repo *fakeRepo, gen *fakeGenerator, n Notifier) *Controller {
	return NewController(repo, gen, Options{
		Notifier: n,
		Now:      func() time.Time { return fixedNow },
	})
}

// requirePersisted checks storage holds exactly the given state.
func requirePersisted(t *testing.T, c *Controller, deviceID string, want *domain.State) {
	t.Helper()
	got, err := c.State(context.Background(), deviceID)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStateDefaults(t *testing.T) {
	c := newTestController(newFakeRepo(), &fakeGenerator{}, nil)

	state, err := c.State(context.Background(), "dev")
	require.NoError(t, err)
	require.Len(t, state.Messages, 1)
	require.Equal(t, int64(1), state.Messages[0].ID)
	require.True(t, strings.HasPrefix(state.Messages[0].Text, "Hai! Aku Amumu~"))
	require.Equal(t, domain.DefaultUser(), state.User)
	require.Equal(t, domain.DefaultAgent(), state.Agent)
}

func TestStateRecoversFromCorruptHistory(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.SetItems(context.Background(), "dev", map[string]string{domain.KeyMessages: "{oops"}))
	c := newTestController(repo, &fakeGenerator{}, nil)

	state, err := c.State(context.Background(), "dev")
	require.NoError(t, err)
	require.Len(t, state.Messages, 1)
}

func TestSendAppendsReply(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{reply: "Halo juga! (˶˃ ᵕ ˂˶)"}
	notifier := &recordingNotifier{}
	c := newTestController(repo, gen, notifier)

	res, err := c.Send(context.Background(), "dev", "tab", "  apa kabar?  ")
	require.NoError(t, err)

	require.Equal(t, "apa kabar?", res.UserMessage.Text)
	require.True(t, res.UserMessage.IsUser)
	require.Equal(t, fixedNow.UnixMilli(), res.UserMessage.ID)
	require.Equal(t, "19.30", res.UserMessage.Timestamp)

	require.Equal(t, "Halo juga! (˶˃ ᵕ ˂˶)", res.ReplyMessage.Text)
	require.False(t, res.ReplyMessage.IsUser)
	require.Equal(t, res.UserMessage.ID+1, res.ReplyMessage.ID)

	require.Len(t, res.State.Messages, 3)
	require.Equal(t, res.UserMessage, res.State.Messages[1])
	require.Equal(t, res.ReplyMessage, res.State.Messages[2])
	requirePersisted(t, c, "dev", &res.State)

	require.Equal(t, []string{EventState, EventTyping, EventState, EventTyping}, notifier.types())
}

func TestSendEmptyResponseUsesConfusedReply(t *testing.T) {
	gen := &fakeGenerator{err: llm.ErrEmptyResponse}
	c := newTestController(newFakeRepo(), gen, nil)

	res, err := c.Send(context.Background(), "dev", "", "halo")
	require.NoError(t, err)
	require.Equal(t, domain.ConfusedReply, res.ReplyMessage.Text)
	requirePersisted(t, c, "dev", &res.State)
}

func TestSendErrorUsesApology(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}
	c := newTestController(newFakeRepo(), gen, nil)

	res, err := c.Send(context.Background(), "dev", "", "halo")
	require.NoError(t, err)
	require.Equal(t, domain.ApologyReply, res.ReplyMessage.Text)
	requirePersisted(t, c, "dev", &res.State)
}

func TestSendBlockedUsesApology(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("%w: prompt blocked (SAFETY)", llm.ErrBlocked)}
	c := newTestController(newFakeRepo(), gen, nil)

	res, err := c.Send(context.Background(), "dev", "", "halo")
	require.NoError(t, err)
	require.Equal(t, domain.ApologyReply, res.ReplyMessage.Text)
}

func TestSendRejectsBlank(t *testing.T) {
	c := newTestController(newFakeRepo(), &fakeGenerator{}, nil)
	_, err := c.Send(context.Background(), "dev", "", "   \n ")
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendDetectsName(t *testing.T) {
	gen := &fakeGenerator{reply: "Wah, halo Budi!"}
	c := newTestController(newFakeRepo(), gen, nil)

	res, err := c.Send(context.Background(), "dev", "", "halo, namaku budi")
	require.NoError(t, err)
	require.Equal(t, "Budi", res.State.User.Name)
	requirePersisted(t, c, "dev", &res.State)

	p := gen.lastPrompt()
	require.Contains(t, p, `memperkenalkan dirinya dengan nama "Budi"`)
	// Everything else still uses the name known before this message.
	require.Contains(t, p, "- Nama user adalah User")
	require.Contains(t, p, "PESAN TERBARU:\nUser: halo, namaku budi")
}

func TestSendDetectsNameKeepsPronoun(t *testing.T) {
	gen := &fakeGenerator{reply: "hai"}
	c := newTestController(newFakeRepo(), gen, nil)

	res, err := c.Send(context.Background(), "dev", "", "halo, nama aku budi")
	require.NoError(t, err)
	require.Equal(t, "Aku Budi", res.State.User.Name)
}

func TestSendHistoryUsesPreviousName(t *testing.T) {
	gen := &fakeGenerator{reply: "oke"}
	c := newTestController(newFakeRepo(), gen, nil)

	_, err := c.Send(context.Background(), "dev", "", "halo")
	require.NoError(t, err)
	_, err = c.Send(context.Background(), "dev", "", "namaku sari")
	require.NoError(t, err)

	p := gen.lastPrompt()
	require.Contains(t, p, "User: halo")
	require.NotContains(t, p, "Sari: halo")

	_, err = c.Send(context.Background(), "dev", "", "lagi apa?")
	require.NoError(t, err)
	p = gen.lastPrompt()
	require.Contains(t, p, "- Nama user adalah Sari")
	require.Contains(t, p, "Sari: halo")
	require.NotContains(t, p, "[PENTING]")
}

func TestSendPromptHistoryExcludesNewMessage(t *testing.T) {
	gen := &fakeGenerator{reply: "oke"}
	c := newTestController(newFakeRepo(), gen, nil)

	_, err := c.Send(context.Background(), "dev", "", "pesan pertama")
	require.NoError(t, err)
	p := gen.lastPrompt()
	require.Contains(t, p, "RIWAYAT PERCAKAPAN SEBELUMNYA:\nAmumu: Hai! Aku Amumu~")
	require.Equal(t, 1, strings.Count(p, "User: pesan pertama"))

	_, err = c.Send(context.Background(), "dev", "", "pesan kedua")
	require.NoError(t, err)
	p = gen.lastPrompt()
	require.Contains(t, p, "User: pesan pertama\nAmumu: oke\n\nPESAN TERBARU:\nUser: pesan kedua")
}

func TestSendHistoryLimit(t *testing.T) {
	repo := newFakeRepo()
	gen := &fakeGenerator{reply: "oke"}
	c := NewController(repo, gen, Options{HistoryLimit: 2, Now: func() time.Time { return fixedNow }})

	for _, msg := range []string{"satu", "dua", "tiga"} {
		_, err := c.Send(context.Background(), "dev", "", msg)
		require.NoError(t, err)
	}
	p := gen.lastPrompt()
	require.Contains(t, p, "RIWAYAT PERCAKAPAN SEBELUMNYA:\nUser: dua\nAmumu: oke\n\n")
	require.NotContains(t, p, "User: satu")
}

func TestSendIsNotCancelledWithRequest(t *testing.T) {
	gen := &fakeGenerator{reply: "tetap dijawab"}
	c := newTestController(newFakeRepo(), gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Send(ctx, "dev", "", "halo")
	require.NoError(t, err)
	require.Equal(t, "tetap dijawab", res.ReplyMessage.Text)
	require.NoError(t, gen.ctxErrs[0])
}

func TestSendRejectsConcurrentRequest(t *testing.T) {
	gen := &fakeGenerator{reply: "oke", block: make(chan struct{}), started: make(chan struct{})}
	c := newTestController(newFakeRepo(), gen, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "dev", "", "pertama")
		done <- err
	}()
	<-gen.started

	require.True(t, c.Pending("dev"))
	_, err := c.Send(context.Background(), "dev", "", "kedua")
	require.ErrorIs(t, err, ErrBusy)

	// Other devices are unaffected.
	require.False(t, c.Pending("other"))

	close(gen.block)
	require.NoError(t, <-done)
	require.False(t, c.Pending("dev"))

	state, err := c.State(context.Background(), "dev")
	require.NoError(t, err)
	require.Len(t, state.Messages, 3)
}

func TestResetWhilePendingKeepsReset(t *testing.T) {
	gen := &fakeGenerator{reply: "balasan", block: make(chan struct{}), started: make(chan struct{})}
	c := newTestController(newFakeRepo(), gen, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "dev", "", "halo")
		done <- err
	}()
	<-gen.started

	_, err := c.Reset(context.Background(), "dev")
	require.NoError(t, err)
	close(gen.block)
	require.NoError(t, <-done)

	state, err := c.State(context.Background(), "dev")
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	require.True(t, strings.HasPrefix(state.Messages[0].Text, "Hai User! Aku Amumu~"))
	require.Equal(t, "balasan", state.Messages[1].Text)
}

func validSettings() Settings {
	return Settings{
		UserName:       " Sari ",
		UserAvatar:     "data:image/png;base64,AAAA",
		BotName:        "Kiki",
		BotAvatar:      "/amumu-avatar.svg",
		BotPersonality: "Bicara seperti bajak laut.",
	}
}

func TestSaveSettings(t *testing.T) {
	notifier := &recordingNotifier{}
	c := newTestController(newFakeRepo(), &fakeGenerator{}, notifier)

	state, err := c.SaveSettings(context.Background(), "dev", validSettings())
	require.NoError(t, err)
	require.Equal(t, domain.UserProfile{Name: "Sari", Avatar: "data:image/png;base64,AAAA"}, state.User)
	require.Equal(t, domain.AgentProfile{Name: "Kiki", Avatar: "/amumu-avatar.svg", Personality: "Bicara seperti bajak laut."}, state.Agent)
	requirePersisted(t, c, "dev", state)
	require.Equal(t, []string{EventState}, notifier.types())
}

func TestSaveSettingsValidation(t *testing.T) {
	c := newTestController(newFakeRepo(), &fakeGenerator{}, nil)

	bad := validSettings()
	bad.BotName = strings.Repeat("a", 81)
	_, err := c.SaveSettings(context.Background(), "dev", bad)
	require.ErrorIs(t, err, ErrInvalidSettings)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	bad = validSettings()
	bad.UserAvatar = "javascript:alert(1)"
	_, err = c.SaveSettings(context.Background(), "dev", bad)
	require.ErrorIs(t, err, ErrInvalidSettings)

	// Nothing was written.
	state, err := c.State(context.Background(), "dev")
	require.NoError(t, err)
	require.Equal(t, domain.DefaultAgent(), state.Agent)
}

func TestSaveSettingsBlankFallsBackToDefaults(t *testing.T) {
	repo := newFakeRepo()
	c := newTestController(repo, &fakeGenerator{}, nil)

	blank := validSettings()
	blank.BotName = "   "
	blank.BotAvatar = ""
	blank.BotPersonality = ""
	blank.UserName = ""
	state, err := c.SaveSettings(context.Background(), "dev", blank)
	require.NoError(t, err)

	require.Equal(t, domain.DefaultAgent(), state.Agent)
	require.Equal(t, domain.DefaultUser().Name, state.User.Name)
	require.Equal(t, "data:image/png;base64,AAAA", state.User.Avatar)

	items, err := repo.GetItems(context.Background(), "dev")
	require.NoError(t, err)
	require.Equal(t, "", items[domain.KeyBotName])
}

func TestResetRestoresDefaults(t *testing.T) {
	gen := &fakeGenerator{reply: "oke"}
	c := newTestController(newFakeRepo(), gen, nil)
	ctx := context.Background()

	_, err := c.SaveSettings(ctx, "dev", validSettings())
	require.NoError(t, err)
	for _, msg := range []string{"satu", "dua"} {
		_, err := c.Send(ctx, "dev", "", msg)
		require.NoError(t, err)
	}

	state, err := c.Reset(ctx, "dev")
	require.NoError(t, err)
	require.Len(t, state.Messages, 1)
	require.Equal(t, "Hai Sari! Aku Amumu~ (˶˃ ᵕ ˂˶) Senang banget bisa ngobrol sama kamu! Ada yang bisa aku bantu hari ini?", state.Messages[0].Text)
	require.Equal(t, domain.DefaultAgent(), state.Agent)
	require.Equal(t, "Sari", state.User.Name)
	requirePersisted(t, c, "dev", state)
}

type recordingConvLog struct {
	mu     sync.Mutex
	events []convlog.Event
}

func (r *recordingConvLog) Log(ev convlog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingConvLog) Close() error { return nil }

func TestSendLogsExchange(t *testing.T) {
	cl := &recordingConvLog{}
	c := NewController(newFakeRepo(), &fakeGenerator{reply: "hehe"}, Options{
		ConvLog: cl,
		Now:     func() time.Time { return fixedNow },
	})

	_, err := c.Send(context.Background(), "dev", "tab-1", "halo")
	require.NoError(t, err)

	require.Len(t, cl.events, 2)
	user, reply := cl.events[0], cl.events[1]
	require.Equal(t, "chat_user_message", user.EventType)
	require.Equal(t, "halo", user.ContentRaw)
	require.Equal(t, "tab-1", user.SessionID)
	require.Equal(t, "chat_assistant_message", reply.EventType)
	require.Equal(t, "hehe", reply.ContentRaw)
	require.Equal(t, "ok", reply.Meta["outcome"])
	require.NotEmpty(t, user.Meta["exchange_id"])
	require.Equal(t, user.Meta["exchange_id"], reply.Meta["exchange_id"])
}
