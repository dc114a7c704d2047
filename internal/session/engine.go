package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/FeelPulse/claudechat/internal/agent"
	"github.com/FeelPulse/claudechat/internal/logger"
	"github.com/FeelPulse/claudechat/internal/models"
	"github.com/FeelPulse/claudechat/internal/store"
	"github.com/FeelPulse/claudechat/internal/usage"
	"github.com/FeelPulse/claudechat/pkg/types"
)

// DefaultTimeout bounds a single transport call
const DefaultTimeout = 120 * time.Second

var (
	ErrEmptyMessage      = errors.New("message is empty")
	ErrMissingCredential = errors.New(agent.MsgMissingCredential)
)

// Persister is the durable side of the engine; *store.Gateway implements it
type Persister interface {
	LoadCredential() string
	SaveCredential(key string) error
	LoadConversation() (*types.Conversation, bool)
	SaveConversation(conv types.Conversation) error
	ClearConversation() error
	LoadSettings() types.Settings
	SaveSettings(patch store.SettingsPatch) error
}

// Options configures an Engine. Transport and Store are required.
type Options struct {
	Transport agent.Transport
	Store     Persister
	// InitialModel is used for fresh conversations and when a restored
	// conversation names an unknown model. Empty means the saved setting.
	InitialModel string
	// Credential is used when nothing has been saved
	Credential        string
	Timeout           time.Duration
	Clock             func() time.Time
	NewConversationID func() string
	NewMessageID      func() string
	Logger            *logger.Logger
}

// Request is one submitted turn waiting for the transport
type Request struct {
	Generation uint64
	Model      string
	History    []types.Message
	Credential string
}

// Result is the outcome of executing a Request
type Result struct {
	Generation uint64
	Completion *types.Completion
	Err        error
}

// Engine owns the live conversation. At most one request is in flight;
// every request is tagged with the generation it was issued against so a
// completion arriving after Clear is dropped.
type Engine struct {
	transport agent.Transport
	store     Persister
	timeout   time.Duration
	clock     func() time.Time
	newConvID func() string
	newMsgID  func() string
	log       *logger.Logger

	mu         sync.Mutex
	conv       types.Conversation
	settings   types.Settings
	credential string
	loading    bool
	errMsg     string
	generation uint64
}

// New restores the saved conversation or starts a fresh one
func New(opts Options) *Engine {
	e := &Engine{
		transport: opts.Transport,
		store:     opts.Store,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		newConvID: opts.NewConversationID,
		newMsgID:  opts.NewMessageID,
		log:       opts.Logger,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.newConvID == nil {
		e.newConvID = uuid.NewString
	}
	if e.newMsgID == nil {
		e.newMsgID = func() string { return xid.New().String() }
	}
	if e.log == nil {
		e.log = logger.GetDefaultLogger().WithComponent("session")
	}

	e.settings = e.store.LoadSettings()
	e.credential = e.store.LoadCredential()
	if e.credential == "" {
		e.credential = opts.Credential
	}

	fallback := opts.InitialModel
	if !models.Valid(fallback) {
		fallback = models.Coerce(e.settings.SelectedModel)
	}

	if saved, ok := e.store.LoadConversation(); ok {
		e.conv = saved.Clone()
		if e.conv.Messages == nil {
			e.conv.Messages = []types.Message{}
		}
		if !models.Valid(e.conv.Model) {
			e.log.Warn("⚠️ Saved conversation uses unknown model %q, switching to %s", e.conv.Model, fallback)
			e.conv.Model = fallback
		}
		e.log.Info("📂 Restored conversation %s (%d messages)", e.conv.ID, len(e.conv.Messages))
	} else {
		e.conv = e.freshConversation(fallback)
	}

	return e
}

func (e *Engine) freshConversation(model string) types.Conversation {
	now := e.clock()
	return types.Conversation{
		ID:        e.newConvID(),
		Messages:  []types.Message{},
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// persistLocked saves the conversation unless it is empty. Failures are logged.
func (e *Engine) persistLocked() {
	if len(e.conv.Messages) == 0 {
		return
	}
	if err := e.store.SaveConversation(e.conv.Clone()); err != nil {
		e.log.Warn("⚠️ Failed to persist conversation: %v", err)
	}
}

// Submit appends a user message and returns the request to execute.
// While a request is in flight it returns (nil, nil) and changes nothing.
func (e *Engine) Submit(text string) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loading {
		return nil, nil
	}

	content := strings.TrimSpace(text)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	if agent.RequiresCredential(e.transport) && e.credential == "" {
		e.errMsg = agent.MsgMissingCredential
		return nil, ErrMissingCredential
	}

	now := e.clock()
	e.conv.Messages = append(e.conv.Messages, types.Message{
		ID:        e.newMsgID(),
		Role:      types.RoleUser,
		Content:   content,
		Timestamp: now,
	})
	e.conv.UpdatedAt = now
	e.loading = true
	e.errMsg = ""
	e.persistLocked()

	return &Request{
		Generation: e.generation,
		Model:      e.conv.Model,
		History:    types.CloneMessages(e.conv.Messages),
		Credential: e.credential,
	}, nil
}

// Execute runs req against the transport under the engine timeout.
// It does not touch engine state and may run on any goroutine.
func (e *Engine) Execute(ctx context.Context, req *Request) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	completion, err := e.transport.Send(ctx, req.Model, req.History, req.Credential)
	if err != nil {
		e.log.Warn("❌ %s request failed after %s: %v", e.transport.Name(), time.Since(start).Round(time.Millisecond), err)
	} else {
		e.log.Info("📥 %s reply in %s (%d in / %d out)", e.transport.Name(),
			time.Since(start).Round(time.Millisecond), completion.InputTokens, completion.OutputTokens)
	}

	return Result{Generation: req.Generation, Completion: completion, Err: err}
}

// Resolve applies a result. Results from before the last Clear are dropped
// and Resolve returns false.
func (e *Engine) Resolve(res Result) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if res.Generation != e.generation {
		e.log.Debug("Dropping stale completion (generation %d, current %d)", res.Generation, e.generation)
		return false
	}

	e.loading = false
	if res.Err != nil || res.Completion == nil {
		e.errMsg = agent.ErrorMessage(res.Err)
		e.persistLocked()
		return true
	}

	now := e.clock()
	in, out := res.Completion.InputTokens, res.Completion.OutputTokens
	e.conv.Messages = append(e.conv.Messages, types.Message{
		ID:           e.newMsgID(),
		Role:         types.RoleAssistant,
		Content:      res.Completion.Content,
		Timestamp:    now,
		InputTokens:  &in,
		OutputTokens: &out,
	})
	e.conv.UpdatedAt = now
	e.persistLocked()
	return true
}

// Send runs one full turn. Transport failures are recorded on the engine
// (see Err) and also returned.
func (e *Engine) Send(ctx context.Context, text string) error {
	req, err := e.Submit(text)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}
	res := e.Execute(ctx, req)
	e.Resolve(res)
	return res.Err
}

// Clear discards the conversation and starts a new one on the same model
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.ClearConversation(); err != nil {
		e.log.Warn("⚠️ Failed to clear saved conversation: %v", err)
	}
	e.conv = e.freshConversation(e.conv.Model)
	e.errMsg = ""
	e.loading = false
	e.generation++
}

// SetModel switches the model, falling back to the default for unknown ids.
// A request already in flight keeps the model it was issued with.
func (e *Engine) SetModel(id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	model := models.Coerce(id)
	if model != id {
		e.log.Warn("⚠️ Unknown model %q, using %s", id, model)
	}
	e.conv.Model = model
	e.conv.UpdatedAt = e.clock()
	e.settings.SelectedModel = model

	if err := e.store.SaveSettings(store.SettingsPatch{SelectedModel: &model}); err != nil {
		e.log.Warn("⚠️ Failed to save settings: %v", err)
	}
	e.persistLocked()
	return model
}

// SetCredential stores a new API key; empty clears it
func (e *Engine) SetCredential(key string) error {
	key = strings.TrimSpace(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SaveCredential(key); err != nil {
		return err
	}
	e.credential = key
	if key != "" && e.errMsg == agent.MsgMissingCredential {
		e.errMsg = ""
	}
	return nil
}

// SetDarkMode persists the dark mode preference
func (e *Engine) SetDarkMode(dark bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SaveSettings(store.SettingsPatch{DarkMode: &dark}); err != nil {
		return err
	}
	e.settings.DarkMode = dark
	return nil
}

// ToggleDarkMode flips and persists the dark mode preference
func (e *Engine) ToggleDarkMode() (bool, error) {
	dark := !e.Settings().DarkMode
	return dark, e.SetDarkMode(dark)
}

// Snapshot returns a deep copy of the live conversation
func (e *Engine) Snapshot() types.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conv.Clone()
}

// Messages returns a copy of the transcript
func (e *Engine) Messages() []types.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.CloneMessages(e.conv.Messages)
}

// Model returns the current model
func (e *Engine) Model() types.Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, _ := models.Resolve(e.conv.Model)
	return m
}

// Usage folds token counts over the transcript at the current model's rates
func (e *Engine) Usage() usage.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, _ := models.Resolve(e.conv.Model)
	return usage.Compute(e.conv.Messages, m)
}

// Loading reports whether a request is in flight
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Err returns the message of the last failure, empty when none
func (e *Engine) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMsg
}

// DismissError clears the displayed error
func (e *Engine) DismissError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errMsg = ""
}

// Settings returns the current settings
func (e *Engine) Settings() types.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Credential returns the API key in use
func (e *Engine) Credential() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credential
}

// Transport returns the transport the engine sends through
func (e *Engine) Transport() agent.Transport {
	return e.transport
}

// Export renders the live conversation
func (e *Engine) Export(format store.Format, now time.Time) (string, error) {
	conv := e.Snapshot()
	return store.Export(conv, format, models.DisplayName(conv.Model), now)
}
