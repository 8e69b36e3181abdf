// Package orchestrator implements the per-chat state machine described in
// SPEC_FULL.md §4.G: IDLE → WAIT → DRAIN → PROCESS → (RETRY|DROP|IDLE). One
// task runs per active chat, supervised by an errgroup.Group so shutdown can
// wait for every in-flight PROCESS phase to finish before the store closes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keeper/pkg/buffer"
	"keeper/pkg/event"
	"keeper/pkg/indicator"
	"keeper/pkg/llm"
	"keeper/pkg/prompt"
	"keeper/pkg/store"
	"keeper/pkg/tool"

	"golang.org/x/sync/errgroup"
)

// consecutiveFailureLimit is how many recoverable failures in a row trigger
// the fixed user-visible apology and drop the chat's in-flight batch.
const consecutiveFailureLimit = 3

// retryBackoff is the fixed sleep between a recoverable PROCESS failure and
// the next DRAIN attempt for the same chat. A var, not a const, so tests can
// shrink it instead of waiting out the real backoff window.
var retryBackoff = 30 * time.Second

// apologyText is sent verbatim on the third consecutive failure; it must
// contain the substring "trouble" per the orchestrator's failure contract.
const apologyText = "I'm having some trouble processing that right now. Please try again in a little while."

// Transport is what a channel (such as Telegram) provides to the orchestrator: a way to speak back into the same chat.
type Transport interface {
	// Send delivers text to chatID, splitting into ≤4096-char chunks itself
	// is the orchestrator's job; the transport sends one chunk at a time.
	Send(chatID string, text string) error

	// SendTyping issues one "typing" heartbeat tick for chatID. Called
	// periodically by indicator.Heartbeat; failures are swallowed by the
	// caller, not by the transport.
	SendTyping(ctx context.Context, chatID string) error
}

// chatState is the in-memory, per-chat_id record described in §3: a buffer,
// a lock, and a consecutive-failure counter. Created lazily, retained for
// the process lifetime, never shared across chats.
type chatState struct {
	buf           *buffer.Buffer
	mu            sync.Mutex
	running       bool
	failureStreak int
}

// Orchestrator wires the durable store, prompt assembler, LLM driver, tool
// registry, and a transport together and drives one task per active chat.
type Orchestrator struct {
	store        *store.Store
	registry     *tool.Registry
	client       llm.Client
	transport    Transport
	historyTurns int
	timeZone     string
	debounce     time.Duration

	mu    sync.Mutex
	chats map[string]*chatState

	group   *errgroup.Group
	groupCtx context.Context
}

// New builds an Orchestrator. ctx is the process lifetime context: canceling
// it stops accepting new PROCESS phases but does not interrupt one already
// running; call Wait afterward to let in-flight chats finish.
func New(ctx context.Context, st *store.Store, registry *tool.Registry, client llm.Client, transport Transport, historyTurns int, timeZone string, debounce time.Duration) *Orchestrator {
	group, groupCtx := errgroup.WithContext(ctx)
	return &Orchestrator{
		store:        st,
		registry:     registry,
		client:       client,
		transport:    transport,
		historyTurns: historyTurns,
		timeZone:     timeZone,
		debounce:     debounce,
		chats:        make(map[string]*chatState),
		group:        group,
		groupCtx:     groupCtx,
	}
}

// Wait blocks until every chat task this orchestrator started has returned.
func (o *Orchestrator) Wait() error {
	return o.group.Wait()
}

// HandleEvent enqueues e into its chat's buffer and starts a task for that
// chat if one isn't already running. Safe to call concurrently.
func (o *Orchestrator) HandleEvent(e event.Event) {
	cs := o.chatStateFor(e.ChatID)
	cs.buf.Add(e)

	cs.mu.Lock()
	alreadyRunning := cs.running
	if !alreadyRunning {
		cs.running = true
	}
	cs.mu.Unlock()

	if alreadyRunning {
		return
	}

	o.group.Go(func() error {
		o.runChat(e.ChatID, cs)
		return nil
	})
}

func (o *Orchestrator) chatStateFor(chatID string) *chatState {
	o.mu.Lock()
	defer o.mu.Unlock()

	cs, ok := o.chats[chatID]
	if !ok {
		cs = &chatState{buf: buffer.New(o.debounce)}
		o.chats[chatID] = cs
	}
	return cs
}

// runChat drives one chat's task loop until its buffer runs dry. It always
// clears cs.running before returning so the next HandleEvent can restart it.
func (o *Orchestrator) runChat(chatID string, cs *chatState) {
	defer func() {
		cs.mu.Lock()
		cs.running = false
		cs.mu.Unlock()
	}()

	for {
		events, err := cs.buf.WaitAndDrain(o.groupCtx)
		if err != nil {
			return // orchestrator shutting down
		}

		o.processBatch(chatID, cs, events)

		if cs.buf.IsEmpty() {
			return
		}
	}
}

// processBatch runs one PROCESS phase: assemble a prompt, drive the LLM
// tool loop, and either persist success or re-queue on failure.
func (o *Orchestrator) processBatch(chatID string, cs *chatState, events []event.Event) {
	// Detached from groupCtx's cancellation so a shutdown lets an in-flight
	// PROCESS phase finish instead of aborting its LLM and store calls.
	ctx := tool.WithChatID(context.WithoutCancel(o.groupCtx), chatID)

	hb := indicator.Start(ctx, func(ctx context.Context) error {
		return o.transport.SendTyping(ctx, chatID)
	})
	defer hb.Stop()

	history, err := o.store.RecentTurns(ctx, chatID, o.historyTurns, 4000)
	if err != nil {
		hb.Stop()
		o.onFailure(ctx, chatID, cs, events, err)
		return
	}

	fallback, err := o.store.GetFallback(ctx, chatID)
	if err != nil {
		hb.Stop()
		o.onFailure(ctx, chatID, cs, events, err)
		return
	}

	promptText := prompt.Build(prompt.Options{
		ChatID:   chatID,
		History:  history,
		Events:   events,
		Fallback: fallback,
		TimeZone: o.timeZone,
		Now:      time.Now(),
	})

	messages := []llm.Message{llm.NewUserMessage(promptText)}

	start := time.Now()
	response, _, err := RunToolLoop(ctx, o.client, o.registry, messages)
	elapsed := time.Since(start)

	hb.Stop()

	if err != nil {
		o.onFailure(ctx, chatID, cs, events, err)
		return
	}

	userText := joinEventTexts(events)
	if saveErr := o.store.SaveTurn(ctx, chatID, userText, response, elapsed.Milliseconds()); saveErr != nil {
		o.onFailure(ctx, chatID, cs, events, saveErr)
		return
	}
	if clearErr := o.store.ClearFallback(ctx, chatID); clearErr != nil {
		slog.ErrorContext(ctx, "failed to clear fallback", "chat_id", chatID, "error", clearErr)
	}

	cs.mu.Lock()
	cs.failureStreak = 0
	cs.mu.Unlock()

	o.sendResponse(chatID, response)
}

func (o *Orchestrator) onFailure(ctx context.Context, chatID string, cs *chatState, events []event.Event, procErr error) {
	slog.ErrorContext(ctx, "process phase failed", "chat_id", chatID, "error", procErr)

	blob := fmt.Sprintf("Last attempt failed (%v). Pending messages:\n%s", procErr, joinEventTexts(events))
	if err := o.store.SaveFallback(ctx, chatID, blob); err != nil {
		slog.ErrorContext(ctx, "failed to save fallback context", "chat_id", chatID, "error", err)
	}

	cs.mu.Lock()
	cs.failureStreak++
	streak := cs.failureStreak
	cs.mu.Unlock()

	if streak >= consecutiveFailureLimit {
		o.sendResponse(chatID, apologyText)
		cs.mu.Lock()
		cs.failureStreak = 0
		cs.mu.Unlock()
		return
	}

	cs.buf.Append(events)

	select {
	case <-time.After(retryBackoff):
	case <-o.groupCtx.Done():
	}
}

func (o *Orchestrator) sendResponse(chatID, text string) {
	for _, chunk := range indicator.SplitMessage(text, indicator.MaxChunkLength) {
		if err := o.transport.Send(chatID, chunk); err != nil {
			slog.Error("failed to send chunk", "chat_id", chatID, "error", err)
		}
	}
}

func joinEventTexts(events []event.Event) string {
	var out string
	for i, e := range events {
		if i > 0 {
			out += "\n"
		}
		out += e.Text
	}
	return out
}
