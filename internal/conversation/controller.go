// Package conversation owns the in-flight conversation: the live message
// stream for the turn being composed, before it has been promoted to a
// durable session.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"chatkeep/internal/llm"
	"chatkeep/internal/logger"
	"chatkeep/internal/session"
)

// FSM states
type State stateless.State

var (
	StateIdle      State = "Idle"
	StateStreaming State = "Streaming"
)

// FSM triggers
type Trigger stateless.Trigger

var (
	TriggerSend     Trigger = "Send"     // user message appended, stream starting
	TriggerReload   Trigger = "Reload"   // last assistant turn discarded, stream restarting
	TriggerComplete Trigger = "Complete" // stream finished an assistant turn
	TriggerStop     Trigger = "Stop"     // stream canceled by the user
	TriggerFail     Trigger = "Fail"     // stream ended with an error
)

// ErrBusy is returned when Append is called while a stream is in flight.
var ErrBusy = errors.New("conversation: stream already in progress")

// ErrNothingToReload is returned by Reload on an empty conversation.
var ErrNothingToReload = errors.New("conversation: no turn to reload")

// DefaultThrottle bounds how often the notify callback fires while tokens
// arrive.
const DefaultThrottle = 100 * time.Millisecond

// Controller wraps the streaming completion service. Append and Reload block
// until the assistant turn completes, fails, or is stopped. A completed turn
// fires the OnComplete callback exactly once with the seed user message and
// the finished assistant message; stopped and failed turns never fire it.
type Controller struct {
	client   llm.StreamClient
	throttle time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	fsm        *stateless.StateMachine
	model      string
	messages   []session.Message
	cancel     context.CancelFunc
	stopped    bool
	gen        int // stream generation; stale streams must not fire triggers
	notify     func([]session.Message)
	onComplete func(seedUser, reply session.Message)
}

// NewController creates an idle controller for the given model id.
func NewController(client llm.StreamClient, model string) *Controller {
	c := &Controller{
		client:   client,
		model:    model,
		throttle: DefaultThrottle,
		log:      logger.With("conversation"),
	}

	fsm := stateless.NewStateMachine(StateIdle)
	fsm.Configure(StateIdle).
		Permit(TriggerSend, StateStreaming).
		Permit(TriggerReload, StateStreaming)
	fsm.Configure(StateStreaming).
		Permit(TriggerComplete, StateIdle).
		Permit(TriggerStop, StateIdle).
		Permit(TriggerFail, StateIdle).
		PermitReentry(TriggerReload)
	c.fsm = fsm
	return c
}

// SetNotify installs the UI update callback and its throttle interval. The
// callback receives a copy of the message list, at most once per interval
// while streaming and always once when the turn settles.
func (c *Controller) SetNotify(fn func([]session.Message), throttle time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = fn
	if throttle > 0 {
		c.throttle = throttle
	}
}

// SetOnComplete installs the completed-turn signal consumed by the promotion
// workflow.
func (c *Controller) SetOnComplete(fn func(seedUser, reply session.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// SetModel switches the model id used for subsequent turns.
func (c *Controller) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

// Streaming reports whether an assistant turn is in flight.
func (c *Controller) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fsm.MustState() == stateless.State(StateStreaming)
}

// Messages returns a copy of the live message list.
func (c *Controller) Messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Reset discards the conversation, e.g. after promotion or abandonment.
// It has no effect while a stream is in flight.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fsm.MustState() == stateless.State(StateStreaming) {
		return ErrBusy
	}
	c.messages = nil
	return nil
}

// Append adds a user message and blocks until the assistant reply stream
// completes, fails, or is stopped. Partial content received before a stop or
// failure stays in the message list.
func (c *Controller) Append(ctx context.Context, content string) error {
	c.mu.Lock()
	if err := c.fsm.Fire(stateless.Trigger(TriggerSend)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	c.messages = append(c.messages, session.Message{
		ID:        uuid.NewString(),
		Role:      session.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	})
	c.mu.Unlock()

	return c.stream(ctx)
}

// Reload discards the trailing assistant message and re-requests a reply for
// the same prior context. Called mid-stream it cancels the in-flight turn
// first; the canceled turn never signals completion.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	if c.fsm.MustState() == stateless.State(StateStreaming) && c.cancel != nil {
		c.cancel()
		c.gen++ // orphan the in-flight stream
	}
	if err := c.fsm.Fire(stateless.Trigger(TriggerReload)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("reload: %w", err)
	}
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == session.RoleAssistant {
		c.messages = c.messages[:n-1]
	}
	if len(c.messages) == 0 {
		// Nothing left to re-ask; settle back to idle.
		c.mustFire(TriggerFail)
		c.mu.Unlock()
		return ErrNothingToReload
	}
	c.mu.Unlock()

	return c.stream(ctx)
}

// Stop cancels the in-flight stream. Tokens already received remain in the
// message list as the final content for that turn. Calling Stop while idle
// is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fsm.MustState() != stateless.State(StateStreaming) || c.cancel == nil {
		return
	}
	c.stopped = true
	c.cancel()
}

// stream runs one assistant turn. The caller must have fired the FSM into
// StateStreaming and must not hold the lock.
func (c *Controller) stream(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.stopped = false
	c.gen++
	myGen := c.gen
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAI(c.messages),
		Stream:   true,
	}
	c.mu.Unlock()

	s, err := c.client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		c.settle(myGen, TriggerFail)
		return fmt.Errorf("start stream: %w", err)
	}
	defer s.Close()

	c.mu.Lock()
	c.messages = append(c.messages, session.Message{
		ID:        uuid.NewString(),
		Role:      session.RoleAssistant,
		CreatedAt: time.Now(),
	})
	idx := len(c.messages) - 1
	c.mu.Unlock()

	var lastNotify time.Time
	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			c.settleComplete(myGen, idx)
			return nil
		}
		if err != nil {
			if c.wasStopped(myGen) || errors.Is(err, context.Canceled) {
				c.settle(myGen, TriggerStop)
				c.log.Debug("stream stopped", "received", c.contentAt(idx))
				return nil
			}
			c.settle(myGen, TriggerFail)
			return fmt.Errorf("stream receive: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		c.mu.Lock()
		if c.gen != myGen {
			// Reload orphaned this stream; its slot is no longer ours.
			c.mu.Unlock()
			return nil
		}
		c.messages[idx].Content += resp.Choices[0].Delta.Content
		var snapshot []session.Message
		if c.notify != nil && time.Since(lastNotify) >= c.throttle {
			lastNotify = time.Now()
			snapshot = append(snapshot, c.messages...)
		}
		notify := c.notify
		c.mu.Unlock()
		if snapshot != nil {
			notify(snapshot)
		}
	}
}

// settleComplete transitions a finished turn to idle and fires OnComplete
// with the seed user message and the completed assistant message.
func (c *Controller) settleComplete(gen, idx int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.mustFire(TriggerComplete)
	c.cancel = nil
	reply := c.messages[idx]
	var seedUser session.Message
	for _, m := range c.messages {
		if m.Role == session.RoleUser {
			seedUser = m
			break
		}
	}
	onComplete := c.onComplete
	c.notifyLocked()
	c.mu.Unlock()

	if onComplete != nil {
		onComplete(seedUser, reply)
	}
}

// settle transitions a stopped or failed turn to idle, keeping partial
// content and never signaling completion.
func (c *Controller) settle(gen int, trigger Trigger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.mustFire(trigger)
	c.cancel = nil
	c.notifyLocked()
}

func (c *Controller) mustFire(trigger Trigger) {
	if err := c.fsm.Fire(stateless.Trigger(trigger)); err != nil {
		c.log.Warn("unexpected FSM transition failure", "trigger", trigger, "error", err)
	}
}

func (c *Controller) notifyLocked() {
	if c.notify == nil {
		return
	}
	snapshot := make([]session.Message, len(c.messages))
	copy(snapshot, c.messages)
	notify := c.notify
	go notify(snapshot)
}

func (c *Controller) wasStopped(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.stopped
}

func (c *Controller) contentAt(idx int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.messages) {
		return ""
	}
	return c.messages[idx].Content
}

func toOpenAI(messages []session.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
