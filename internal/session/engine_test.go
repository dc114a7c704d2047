package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeelPulse/claudechat/internal/agent"
	"github.com/FeelPulse/claudechat/internal/logger"
	"github.com/FeelPulse/claudechat/internal/store"
	"github.com/FeelPulse/claudechat/pkg/types"
)

type sentCall struct {
	model      string
	history    []types.Message
	credential string
}

type scriptedReply struct {
	completion *types.Completion
	err        error
}

// scriptedTransport replays canned replies in order
type scriptedTransport struct {
	mu          sync.Mutex
	replies     []scriptedReply
	calls       []sentCall
	requiresKey bool
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) RequiresCredential() bool { return s.requiresKey }

func (s *scriptedTransport) Send(ctx context.Context, model string, history []types.Message, credential string) (*types.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, sentCall{model: model, history: history, credential: credential})
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.completion, r.err
}

func (s *scriptedTransport) reply(content string, in, out int) *scriptedTransport {
	s.replies = append(s.replies, scriptedReply{completion: &types.Completion{Content: content, InputTokens: in, OutputTokens: out}})
	return s
}

func (s *scriptedTransport) fail(err error) *scriptedTransport {
	s.replies = append(s.replies, scriptedReply{err: err})
	return s
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeClock advances one second per reading
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	engine    *Engine
	gateway   *store.Gateway
	transport *scriptedTransport
}

func newGateway() *store.Gateway {
	return store.NewGateway(store.NewMemoryKV(),
		store.WithLogger(logger.Discard()),
		store.WithDarkProbe(func() bool { return false }))
}

func newEngine(t *testing.T, gw *store.Gateway, tr agent.Transport, tweak func(*Options)) *Engine {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 5, 14, 12, 0, 0, 0, time.UTC)}
	ids := 0
	opts := Options{
		Transport:         tr,
		Store:             gw,
		Clock:             clock.Now,
		NewConversationID: func() string { ids++; return fmt.Sprintf("conv-%d", ids) },
		NewMessageID:      func() string { ids++; return fmt.Sprintf("msg-%d", ids) },
		Logger:            logger.Discard(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	return New(opts)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gw := newGateway()
	tr := &scriptedTransport{}
	return &harness{engine: newEngine(t, gw, tr, nil), gateway: gw, transport: tr}
}

func TestNew_FreshConversation(t *testing.T) {
	h := newHarness(t)
	conv := h.engine.Snapshot()

	assert.Equal(t, "conv-1", conv.ID)
	assert.Empty(t, conv.Messages)
	assert.NotNil(t, conv.Messages)
	assert.Equal(t, "claude-sonnet-4-20250514", conv.Model)
	assert.False(t, h.engine.Loading())
	assert.Empty(t, h.engine.Err())

	_, saved := h.gateway.LoadConversation()
	assert.False(t, saved, "an empty conversation is never persisted")
}

func TestSend_HelloScenario(t *testing.T) {
	h := newHarness(t)
	h.transport.reply("Hi there!", 5, 3)

	require.NoError(t, h.engine.Send(context.Background(), "  Hello  "))

	msgs := h.engine.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Nil(t, msgs[0].InputTokens)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there!", msgs[1].Content)
	in, out := msgs[1].Tokens()
	assert.Equal(t, 5, in)
	assert.Equal(t, 3, out)
	assert.True(t, msgs[1].Timestamp.After(msgs[0].Timestamp))

	stats := h.engine.Usage()
	assert.Equal(t, 5, stats.InputTokens)
	assert.Equal(t, 3, stats.OutputTokens)
	assert.InDelta(t, 5.0/1000*0.003+3.0/1000*0.015, stats.TotalCost, 1e-12)

	require.Len(t, h.transport.calls, 1)
	call := h.transport.calls[0]
	assert.Equal(t, "claude-sonnet-4-20250514", call.model)
	require.Len(t, call.history, 1)
	assert.Equal(t, "Hello", call.history[0].Content)

	saved, ok := h.gateway.LoadConversation()
	require.True(t, ok)
	assert.Len(t, saved.Messages, 2)
	assert.False(t, h.engine.Loading())
	assert.Empty(t, h.engine.Err())
}

func TestSend_NetworkFailureKeepsUserMessage(t *testing.T) {
	h := newHarness(t)
	h.transport.fail(&agent.APIError{Kind: agent.KindUnreachable, Message: agent.MsgProxyUnreachable, Proxied: true})

	err := h.engine.Send(context.Background(), "Ping")
	require.Error(t, err)
	assert.True(t, agent.IsKind(err, agent.KindUnreachable))

	msgs := h.engine.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Ping", msgs[0].Content)
	assert.Equal(t, "Cannot connect to backend. Please ensure the server is running.", h.engine.Err())
	assert.False(t, h.engine.Loading())
	assert.Zero(t, h.engine.Usage().TotalCost)

	saved, ok := h.gateway.LoadConversation()
	require.True(t, ok)
	assert.Len(t, saved.Messages, 1, "the orphan user message is persisted")

	h.engine.DismissError()
	assert.Empty(t, h.engine.Err())
}

func TestSubmit_IgnoredWhileAwaiting(t *testing.T) {
	h := newHarness(t)

	req, err := h.engine.Submit("first")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.True(t, h.engine.Loading())
	before := h.engine.Snapshot()

	second, err := h.engine.Submit("second")
	assert.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, before, h.engine.Snapshot(), "no state change while awaiting")
	assert.Zero(t, h.transport.callCount())
}

func TestSubmit_EmptyMessage(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		req, err := h.engine.Submit(text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
		assert.Nil(t, req)
	}
	assert.Empty(t, h.engine.Messages())
	assert.False(t, h.engine.Loading())
	assert.Empty(t, h.engine.Err())
}

func TestSubmit_MissingCredential(t *testing.T) {
	gw := newGateway()
	tr := &scriptedTransport{requiresKey: true}
	e := newEngine(t, gw, tr, nil)

	err := e.Send(context.Background(), "Hello")
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, "Please enter your API key to send messages.", e.Err())
	assert.Empty(t, e.Messages())
	assert.Zero(t, tr.callCount())

	require.NoError(t, e.SetCredential("  sk-ant-api03-abc  "))
	assert.Empty(t, e.Err(), "setting a key clears the missing-key error")
	assert.Equal(t, "sk-ant-api03-abc", e.Credential())
	assert.Equal(t, "sk-ant-api03-abc", gw.LoadCredential())

	tr.reply("Hi", 1, 1)
	require.NoError(t, e.Send(context.Background(), "Hello"))
	assert.Equal(t, "sk-ant-api03-abc", tr.calls[0].credential)
}

func TestNew_CredentialFallback(t *testing.T) {
	gw := newGateway()
	e := newEngine(t, gw, &scriptedTransport{}, func(o *Options) { o.Credential = "from-env" })
	assert.Equal(t, "from-env", e.Credential())

	require.NoError(t, gw.SaveCredential("saved"))
	e = newEngine(t, gw, &scriptedTransport{}, func(o *Options) { o.Credential = "from-env" })
	assert.Equal(t, "saved", e.Credential())
}

func TestClear_DropsStaleCompletion(t *testing.T) {
	h := newHarness(t)

	req, err := h.engine.Submit("Hello")
	require.NoError(t, err)
	oldID := h.engine.Snapshot().ID

	h.engine.Clear()
	assert.False(t, h.engine.Loading())
	assert.Empty(t, h.engine.Messages())
	assert.NotEqual(t, oldID, h.engine.Snapshot().ID)
	_, saved := h.gateway.LoadConversation()
	assert.False(t, saved)

	applied := h.engine.Resolve(Result{
		Generation: req.Generation,
		Completion: &types.Completion{Content: "late reply", InputTokens: 9, OutputTokens: 9},
	})
	assert.False(t, applied)
	assert.Empty(t, h.engine.Messages())
	assert.Zero(t, h.engine.Usage().InputTokens)
	_, saved = h.gateway.LoadConversation()
	assert.False(t, saved)

	// the engine accepts new turns right away
	h.transport.reply("fresh", 1, 1)
	require.NoError(t, h.engine.Send(context.Background(), "again"))
	assert.Len(t, h.engine.Messages(), 2)
}

func TestClear_DropsStaleFailure(t *testing.T) {
	h := newHarness(t)

	req, err := h.engine.Submit("Ping")
	require.NoError(t, err)
	h.engine.Clear()

	applied := h.engine.Resolve(Result{
		Generation: req.Generation,
		Err:        &agent.APIError{Kind: agent.KindUnreachable, Message: agent.MsgDirectUnreachable},
	})
	assert.False(t, applied)
	assert.Empty(t, h.engine.Err())
	assert.Empty(t, h.engine.Messages())
	assert.False(t, h.engine.Loading())
}

func TestClear_StaleResultDuringNewRequest(t *testing.T) {
	h := newHarness(t)

	oldReq, err := h.engine.Submit("first")
	require.NoError(t, err)
	h.engine.Clear()

	newReq, err := h.engine.Submit("second")
	require.NoError(t, err)
	require.NotNil(t, newReq)
	assert.NotEqual(t, oldReq.Generation, newReq.Generation)

	assert.False(t, h.engine.Resolve(Result{
		Generation: oldReq.Generation,
		Completion: &types.Completion{Content: "late", InputTokens: 4, OutputTokens: 4},
	}))
	assert.False(t, h.engine.Resolve(Result{
		Generation: oldReq.Generation,
		Err:        fmt.Errorf("late failure"),
	}))

	assert.True(t, h.engine.Loading(), "the new request is still pending")
	assert.Empty(t, h.engine.Err())
	msgs := h.engine.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "second", msgs[0].Content)

	assert.True(t, h.engine.Resolve(Result{
		Generation: newReq.Generation,
		Completion: &types.Completion{Content: "answer", InputTokens: 2, OutputTokens: 1},
	}))
	assert.False(t, h.engine.Loading())
	msgs = h.engine.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer", msgs[1].Content)
	assert.Equal(t, 2, h.engine.Usage().InputTokens)
}

func TestClear_KeepsModelAndClearsError(t *testing.T) {
	h := newHarness(t)
	h.engine.SetModel("claude-opus-4-20250514")
	h.transport.fail(fmt.Errorf("boom"))
	_ = h.engine.Send(context.Background(), "x")
	assert.Equal(t, "boom", h.engine.Err())

	h.engine.Clear()
	assert.Empty(t, h.engine.Err())
	assert.Equal(t, "claude-opus-4-20250514", h.engine.Model().ID)
}

func TestNew_RestoresAndCoercesUnknownModel(t *testing.T) {
	gw := newGateway()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, gw.SaveConversation(types.Conversation{
		ID:        "legacy",
		Messages:  []types.Message{{ID: "1", Role: types.RoleUser, Content: "old", Timestamp: ts}},
		Model:     "claude-legacy-unknown",
		CreatedAt: ts,
		UpdatedAt: ts,
	}))

	e := newEngine(t, gw, &scriptedTransport{}, nil)
	conv := e.Snapshot()
	assert.Equal(t, "legacy", conv.ID)
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, "claude-sonnet-4-20250514", conv.Model)

	e = newEngine(t, gw, &scriptedTransport{}, func(o *Options) { o.InitialModel = "claude-3-5-haiku-20241022" })
	assert.Equal(t, "claude-3-5-haiku-20241022", e.Model().ID, "a valid initial model is the fallback")
}

func TestNew_UsesSavedModelSetting(t *testing.T) {
	gw := newGateway()
	model := "claude-opus-4-20250514"
	require.NoError(t, gw.SaveSettings(store.SettingsPatch{SelectedModel: &model}))

	e := newEngine(t, gw, &scriptedTransport{}, nil)
	assert.Equal(t, model, e.Model().ID)

	legacy := "claude-sonnet-4-5-20250514"
	require.NoError(t, gw.SaveSettings(store.SettingsPatch{SelectedModel: &legacy}))
	e = newEngine(t, gw, &scriptedTransport{}, nil)
	assert.Equal(t, "claude-sonnet-4-20250514", e.Model().ID)
	assert.Equal(t, "claude-sonnet-4-20250514", e.Settings().SelectedModel)
}

func TestNew_RestoresAfterRestart(t *testing.T) {
	gw := newGateway()
	tr := &scriptedTransport{}
	tr.reply("Hi there!", 5, 3)

	first := newEngine(t, gw, tr, nil)
	require.NoError(t, first.Send(context.Background(), "Hello"))

	second := newEngine(t, gw, tr, nil)
	assert.Equal(t, first.Snapshot().ID, second.Snapshot().ID)
	assert.Equal(t, first.Usage(), second.Usage())
}

func TestSetModel(t *testing.T) {
	h := newHarness(t)

	got := h.engine.SetModel("claude-3-5-haiku-20241022")
	assert.Equal(t, "claude-3-5-haiku-20241022", got)
	assert.Equal(t, "claude-3-5-haiku-20241022", h.gateway.LoadSettings().SelectedModel)
	_, saved := h.gateway.LoadConversation()
	assert.False(t, saved, "empty conversation still not saved")

	got = h.engine.SetModel("claude-legacy-unknown")
	assert.Equal(t, "claude-sonnet-4-20250514", got)
	assert.Equal(t, "claude-sonnet-4-20250514", h.engine.Settings().SelectedModel)
}

func TestSetModel_InFlightKeepsCapturedModel(t *testing.T) {
	h := newHarness(t)
	h.transport.reply("answer", 1000, 1000)

	req, err := h.engine.Submit("question")
	require.NoError(t, err)
	h.engine.SetModel("claude-opus-4-20250514")

	saved, ok := h.gateway.LoadConversation()
	require.True(t, ok)
	assert.Equal(t, "claude-opus-4-20250514", saved.Model, "non-empty conversation is persisted on model change")

	res := h.engine.Execute(context.Background(), req)
	require.True(t, h.engine.Resolve(res))
	assert.Equal(t, "claude-sonnet-4-20250514", h.transport.calls[0].model)

	// usage is repriced at the current model
	assert.InDelta(t, 0.015+0.075, h.engine.Usage().TotalCost, 1e-12)
}

func TestSubmit_PersistsBeforeReply(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Submit("Hello")
	require.NoError(t, err)

	saved, ok := h.gateway.LoadConversation()
	require.True(t, ok)
	require.Len(t, saved.Messages, 1)
	assert.Equal(t, "Hello", saved.Messages[0].Content)
}

func TestExecute_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	gw := newGateway()
	require.NoError(t, gw.SaveCredential("sk-ant-test"))
	client := agent.NewAnthropicClient(agent.AnthropicOptions{APIURL: server.URL})
	e := newEngine(t, gw, client, func(o *Options) { o.Timeout = 50 * time.Millisecond })

	err := e.Send(context.Background(), "slow")
	assert.True(t, agent.IsKind(err, agent.KindTimeout), "got %v", err)
	assert.Equal(t, agent.MsgTimeout, e.Err())
	assert.False(t, e.Loading())
	assert.Len(t, e.Messages(), 1)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	h := newHarness(t)
	h.transport.reply("Hi", 5, 3)
	require.NoError(t, h.engine.Send(context.Background(), "Hello"))

	snap := h.engine.Snapshot()
	snap.Messages[0].Content = "mutated"
	*snap.Messages[1].InputTokens = 999

	msgs := h.engine.Messages()
	assert.Equal(t, "Hello", msgs[0].Content)
	in, _ := msgs[1].Tokens()
	assert.Equal(t, 5, in)
}

func TestDarkMode(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.engine.Settings().DarkMode)

	dark, err := h.engine.ToggleDarkMode()
	require.NoError(t, err)
	assert.True(t, dark)
	assert.True(t, h.gateway.LoadSettings().DarkMode)

	require.NoError(t, h.engine.SetDarkMode(false))
	assert.False(t, h.gateway.LoadSettings().DarkMode)
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	h.transport.reply("Hi there!", 5, 3)
	require.NoError(t, h.engine.Send(context.Background(), "Hello"))

	md, err := h.engine.Export(store.FormatMarkdown, time.Now())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(md, "# Claude Chat Export\n\nModel: Claude Sonnet 4\n"))
	assert.Equal(t, 1, strings.Count(md, "## User"))
	assert.Equal(t, 1, strings.Count(md, "## Assistant"))
	assert.Contains(t, md, "Hi there!")

	js, err := h.engine.Export(store.FormatJSON, time.Now())
	require.NoError(t, err)
	assert.Contains(t, js, `"exportedAt"`)
}
