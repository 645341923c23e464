package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/zhouzirui/bot-lounge/backend/internal/model/chat"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
	"github.com/zhouzirui/bot-lounge/backend/internal/service/ai"
)

// ErrorMarker prefixes assistant turns that carry a completion failure.
const ErrorMarker = "⚠️ "

// Completer produces an assistant reply for a system prompt, prior history and a new user message.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []chat.Turn, newUserContent string) ai.Result
}

// SwitchPolicy decides what happens to the transcript when the personality changes.
type SwitchPolicy string

const (
	SwitchRetain SwitchPolicy = "retain"
	SwitchClear  SwitchPolicy = "clear"
)

// State is the controller's position in the per-turn state machine.
type State int32

const (
	StateIdle State = iota
	StateAwaitingCompletion
)

func (s State) String() string {
	if s == StateAwaitingCompletion {
		return "awaiting_completion"
	}
	return "idle"
}

type ControllerOption func(*Controller)

// WithSwitchPolicy overrides the default retain policy.
func WithSwitchPolicy(p SwitchPolicy) ControllerOption {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Pending is the handle for a queued request.
type Pending struct {
	done chan struct{}
	turn chat.Turn
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(turn chat.Turn, err error) {
	p.turn, p.err = turn, err
	close(p.done)
}

// Wait blocks until the request is processed and returns the assistant turn it produced.
func (p *Pending) Wait(ctx context.Context) (chat.Turn, error) {
	select {
	case <-p.done:
		return p.turn, p.err
	case <-ctx.Done():
		return chat.Turn{}, ctx.Err()
	}
}

type jobKind int

const (
	jobSubmit jobKind = iota
	jobSwitch
)

type job struct {
	kind jobKind
	text string
	// userCommitted is set when Submit appended the user turn itself.
	userCommitted bool
	target  persona.Personality
	pending *Pending
}

// Controller orchestrates one session. A single worker goroutine applies submissions and
// personality switches in FIFO order, so at most one completion is in flight.
type Controller struct {
	session  *Session
	personas persona.Store
	gateway  Completer
	policy   SwitchPolicy
	logger   *zap.Logger

	state atomic.Int32

	mu     sync.Mutex
	queue  []job
	busy   bool
	closed bool
	wake   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController starts the worker for session.
func NewController(session *Session, personas persona.Store, gateway Completer, opts ...ControllerOption) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		session:  session,
		personas: personas,
		gateway:  gateway,
		policy:   SwitchRetain,
		logger:   zap.NewNop(),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("session", session.ID()))

	go c.run()
	return c
}

// Submit queues a user message. Blank input is rejected without touching the session.
// When nothing is pending the user turn is committed before Submit returns; otherwise it is
// committed when the request reaches the head of the queue.
func (c *Controller) Submit(text string) (*Pending, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ValidationError{Field: "content", Reason: "message must not be empty"}
	}

	j := job{kind: jobSubmit, text: text, pending: newPending()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if !c.busy && len(c.queue) == 0 {
		if err := c.session.Append(chat.UserTurn(text)); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		j.userCommitted = true
	}
	c.queue = append(c.queue, j)
	c.mu.Unlock()

	c.signal()
	return j.pending, nil
}

// SetActivePersonality switches the personality once earlier submissions have completed.
// Unknown names are rejected without touching the session.
func (c *Controller) SetActivePersonality(ctx context.Context, name string) (persona.Personality, error) {
	target, pending, err := c.QueueSwitch(name)
	if err != nil {
		return persona.Personality{}, err
	}
	if _, err := pending.Wait(ctx); err != nil {
		return persona.Personality{}, err
	}
	return target, nil
}

// QueueSwitch places a personality switch in the queue and returns without waiting. Any
// Submit issued after it returns is framed by the new personality.
func (c *Controller) QueueSwitch(name string) (persona.Personality, *Pending, error) {
	target, ok := c.personas.Lookup(name)
	if !ok {
		return persona.Personality{}, nil, &ValidationError{Field: "name", Reason: fmt.Sprintf("unknown personality %q", name)}
	}

	pending, err := c.enqueue(job{kind: jobSwitch, target: target})
	if err != nil {
		return persona.Personality{}, nil, err
	}
	return target, pending, nil
}

// Transcript returns the committed turns.
func (c *Controller) Transcript() []chat.Turn {
	return c.session.Transcript()
}

// PersonalityNames lists the selectable personalities in catalog order.
func (c *Controller) PersonalityNames() []string {
	return c.personas.Names()
}

// ActivePersonality resolves the session's active name, falling back to the default.
func (c *Controller) ActivePersonality() persona.Personality {
	return c.personas.Resolve(c.session.ActiveBotName())
}

// Snapshot returns a consistent view of the session.
func (c *Controller) Snapshot() chat.SessionSnapshot {
	return c.session.Snapshot()
}

// State reports whether a completion is currently in flight.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Close tears the session down. The in-flight completion is cancelled and its result, whenever
// it arrives, is discarded. Queued requests fail with ErrSessionClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.session.Close()
	c.cancel()
	c.signal()
}

// Done is closed when the worker has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) enqueue(j job) (*Pending, error) {
	j.pending = newPending()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionClosed
	}
	c.queue = append(c.queue, j)
	c.mu.Unlock()

	c.signal()
	return j.pending, nil
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		j, ok := c.next()
		if !ok {
			return
		}
		switch j.kind {
		case jobSubmit:
			c.processSubmit(j)
		case jobSwitch:
			c.processSwitch(j)
		}
	}
}

func (c *Controller) next() (job, bool) {
	for {
		c.mu.Lock()
		if c.closed {
			abandoned := c.queue
			c.queue = nil
			c.mu.Unlock()
			for _, j := range abandoned {
				j.pending.resolve(chat.Turn{}, ErrSessionClosed)
			}
			return job{}, false
		}
		if len(c.queue) > 0 {
			j := c.queue[0]
			c.queue[0] = job{}
			c.queue = c.queue[1:]
			c.busy = true
			c.mu.Unlock()
			return j, true
		}
		c.busy = false
		c.mu.Unlock()

		<-c.wake
	}
}

func (c *Controller) processSubmit(j job) {
	active := c.personas.Resolve(c.session.ActiveBotName())
	history := c.session.Transcript()

	if j.userCommitted && len(history) > 0 {
		history = history[:len(history)-1]
	} else if err := c.session.Append(chat.UserTurn(j.text)); err != nil {
		j.pending.resolve(chat.Turn{}, err)
		return
	}

	c.state.Store(int32(StateAwaitingCompletion))
	result := c.complete(active.SystemPrompt, history, j.text)
	c.state.Store(int32(StateIdle))

	reply := result.Content()
	if !result.OK() {
		reply = ErrorMarker + result.Failure().Message
	}
	turn := chat.AssistantTurn(reply)

	if err := c.session.Append(turn); err != nil {
		c.logger.Info("discarded completion for closed session")
		j.pending.resolve(chat.Turn{}, err)
		return
	}

	c.logger.Debug("turn committed",
		zap.String("persona", active.Name),
		zap.Bool("ok", result.OK()))
	j.pending.resolve(turn, nil)
}

// complete shields the worker from a Completer that panics despite its contract.
func (c *Controller) complete(systemPrompt string, history []chat.Turn, text string) (result ai.Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("completer panicked", zap.Any("panic", r))
			result = ai.Err(ai.FailureProvider, fmt.Sprintf("completion failed unexpectedly: %v", r))
		}
	}()
	return c.gateway.Complete(c.ctx, systemPrompt, history, text)
}

func (c *Controller) processSwitch(j job) {
	err := c.session.SetActiveBotName(j.target.Name, c.policy == SwitchClear)
	if err == nil {
		c.logger.Info("personality switched", zap.String("persona", j.target.Name), zap.String("policy", string(c.policy)))
	}
	j.pending.resolve(chat.Turn{}, err)
}
