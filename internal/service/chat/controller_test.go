package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/bot-lounge/backend/internal/model/chat"
	"github.com/zhouzirui/bot-lounge/backend/internal/model/persona"
	"github.com/zhouzirui/bot-lounge/backend/internal/service/ai"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type gatewayCall struct {
	systemPrompt string
	history      []chat.Turn
	content      string
}

type stubGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	results   []ai.Result
	started   chan string
	release   chan struct{}
	ignoreCtx bool
	panicWith any
}

func (g *stubGateway) Complete(ctx context.Context, systemPrompt string, history []chat.Turn, content string) ai.Result {
	g.mu.Lock()
	idx := len(g.calls)
	g.calls = append(g.calls, gatewayCall{systemPrompt: systemPrompt, history: history, content: content})
	g.mu.Unlock()

	if g.started != nil {
		g.started <- content
	}
	if g.release != nil {
		if g.ignoreCtx {
			<-g.release
		} else {
			select {
			case <-g.release:
			case <-ctx.Done():
				return ai.Err(ai.FailureTransport, "completion was cancelled")
			}
		}
	}
	if g.panicWith != nil {
		panic(g.panicWith)
	}

	if len(g.results) == 0 {
		return ai.Ok("reply to " + content)
	}
	if idx >= len(g.results) {
		idx = len(g.results) - 1
	}
	return g.results[idx]
}

func (g *stubGateway) snapshot() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

const helperPrompt = "You are a helpful assistant."

func helperOnlyRegistry(t *testing.T) *persona.Registry {
	t.Helper()
	r, err := persona.NewRegistry([]persona.Personality{
		{Name: "Helper Bot", SystemPrompt: helperPrompt},
	}, "Helper Bot")
	require.NoError(t, err)
	return r
}

func twoBotRegistry(t *testing.T) *persona.Registry {
	t.Helper()
	r, err := persona.NewRegistry([]persona.Personality{
		{Name: "Helper Bot", SystemPrompt: helperPrompt},
		{Name: "Pirate", SystemPrompt: "You talk like a pirate."},
	}, "Helper Bot")
	require.NoError(t, err)
	return r
}

func newTestController(t *testing.T, registry persona.Store, gateway Completer, opts ...ControllerOption) *Controller {
	t.Helper()
	c := NewController(NewSession("session-1", "Helper Bot"), registry, gateway, opts...)
	t.Cleanup(func() {
		c.Close()
		<-c.Done()
	})
	return c
}

func submitAndWait(t *testing.T, c *Controller, text string) chat.Turn {
	t.Helper()
	pending, err := c.Submit(text)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	turn, err := pending.Wait(ctx)
	require.NoError(t, err)
	return turn
}

func roleContent(turns []chat.Turn) [][2]string {
	out := make([][2]string, 0, len(turns))
	for _, turn := range turns {
		out = append(out, [2]string{string(turn.Role), turn.Content})
	}
	return out
}

func TestSubmitSuccessAppendsUserAndAssistant(t *testing.T) {
	gw := &stubGateway{results: []ai.Result{ai.Ok("hi there")}}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	reply := submitAndWait(t, c, "hello")
	require.Equal(t, chat.RoleAssistant, reply.Role)
	require.Equal(t, "hi there", reply.Content)

	require.Equal(t, [][2]string{
		{"user", "hello"},
		{"assistant", "hi there"},
	}, roleContent(c.Transcript()))

	calls := gw.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, helperPrompt, calls[0].systemPrompt)
	require.Empty(t, calls[0].history)
	require.Equal(t, "hello", calls[0].content)
}

func TestSubmitFailureAppendsWarningTurn(t *testing.T) {
	gw := &stubGateway{results: []ai.Result{ai.Err(ai.FailureTransport, "timeout")}}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	submitAndWait(t, c, "hello")

	require.Equal(t, [][2]string{
		{"user", "hello"},
		{"assistant", "⚠️ timeout"},
	}, roleContent(c.Transcript()))
}

func TestSubmitRejectsBlankInput(t *testing.T) {
	gw := &stubGateway{}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := c.Submit(text)
		require.ErrorIs(t, err, ErrValidation)
	}
	require.Empty(t, c.Transcript())
	require.Empty(t, gw.snapshot())
}

func TestTranscriptGrowsByTwoPerSubmit(t *testing.T) {
	gw := &stubGateway{}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	for i := 1; i <= 5; i++ {
		submitAndWait(t, c, "message")
		turns := c.Transcript()
		require.Len(t, turns, 2*i)
		require.Equal(t, chat.RoleUser, turns[2*(i-1)].Role)
		require.Equal(t, chat.RoleAssistant, turns[2*i-1].Role)
	}

	for i, call := range gw.snapshot() {
		require.Len(t, call.history, 2*i, "call %d should carry the full prior transcript", i)
	}
}

func TestRapidDoubleSubmitIsSerialized(t *testing.T) {
	gw := &stubGateway{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	first, err := c.Submit("first")
	require.NoError(t, err)
	second, err := c.Submit("second")
	require.NoError(t, err)

	require.Equal(t, "first", <-gw.started)
	select {
	case got := <-gw.started:
		t.Fatalf("second completion %q started while the first was in flight", got)
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, StateAwaitingCompletion, c.State())
	require.Equal(t, [][2]string{{"user", "first"}}, roleContent(c.Transcript()))

	gw.release <- struct{}{}
	require.Equal(t, "second", <-gw.started)
	gw.release <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = first.Wait(ctx)
	require.NoError(t, err)
	_, err = second.Wait(ctx)
	require.NoError(t, err)

	require.Equal(t, [][2]string{
		{"user", "first"},
		{"assistant", "reply to first"},
		{"user", "second"},
		{"assistant", "reply to second"},
	}, roleContent(c.Transcript()))

	calls := gw.snapshot()
	require.Len(t, calls, 2)
	require.Len(t, calls[1].history, 2)
	require.Equal(t, StateIdle, c.State())
}

func TestSubmitCommitsUserTurnBeforeReturning(t *testing.T) {
	gw := &stubGateway{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	pending, err := c.Submit("visible right away")
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"user", "visible right away"}}, roleContent(c.Transcript()))

	<-gw.started
	require.Empty(t, gw.snapshot()[0].history)
	gw.release <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pending.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, c.Transcript(), 2)
}

func TestUnknownPersonalityRejectedAndDefaultStillAnswers(t *testing.T) {
	gw := &stubGateway{}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	_, err := c.SetActivePersonality(context.Background(), "Nonexistent")
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, "Helper Bot", c.Snapshot().ActiveBotName)

	submitAndWait(t, c, "x")
	calls := gw.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, helperPrompt, calls[0].systemPrompt)
}

func TestStaleActiveNameFallsBackToDefault(t *testing.T) {
	gw := &stubGateway{}
	c := NewController(NewSession("stale", "Renamed Bot"), helperOnlyRegistry(t), gw)
	t.Cleanup(func() {
		c.Close()
		<-c.Done()
	})

	require.Equal(t, "Helper Bot", c.ActivePersonality().Name)
	submitAndWait(t, c, "still there?")
	require.Equal(t, helperPrompt, gw.snapshot()[0].systemPrompt)
}

func TestSwitchKeepsHistoryAndFramesNextRequestOnly(t *testing.T) {
	gw := &stubGateway{}
	c := newTestController(t, twoBotRegistry(t), gw)

	submitAndWait(t, c, "ahoy?")
	before := c.Transcript()

	switched, err := c.SetActivePersonality(context.Background(), "Pirate")
	require.NoError(t, err)
	require.Equal(t, "Pirate", switched.Name)
	require.Equal(t, before, c.Transcript())
	require.Equal(t, "Pirate", c.Snapshot().ActiveBotName)

	submitAndWait(t, c, "ahoy!")

	calls := gw.snapshot()
	require.Len(t, calls, 2)
	require.Equal(t, helperPrompt, calls[0].systemPrompt)
	require.Equal(t, "You talk like a pirate.", calls[1].systemPrompt)
	require.Len(t, calls[1].history, 2)
	require.Equal(t, before, c.Transcript()[:2])
}

func TestQueuedSwitchFramesImmediateSubmit(t *testing.T) {
	gw := &stubGateway{}
	c := newTestController(t, twoBotRegistry(t), gw)

	target, switched, err := c.QueueSwitch("Pirate")
	require.NoError(t, err)
	require.Equal(t, "Pirate", target.Name)
	pending, err := c.Submit("ahoy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = switched.Wait(ctx)
	require.NoError(t, err)
	_, err = pending.Wait(ctx)
	require.NoError(t, err)

	calls := gw.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, "You talk like a pirate.", calls[0].systemPrompt)
}

func TestQueueSwitchRejectsUnknownName(t *testing.T) {
	c := newTestController(t, twoBotRegistry(t), &stubGateway{})

	_, pending, err := c.QueueSwitch("Nobody")
	require.ErrorIs(t, err, ErrValidation)
	require.Nil(t, pending)
	require.Equal(t, "Helper Bot", c.Snapshot().ActiveBotName)
}

func TestSwitchClearPolicyResetsTranscript(t *testing.T) {
	gw := &stubGateway{}
	c := newTestController(t, twoBotRegistry(t), gw, WithSwitchPolicy(SwitchClear))

	submitAndWait(t, c, "hello")
	require.Len(t, c.Transcript(), 2)

	_, err := c.SetActivePersonality(context.Background(), "Pirate")
	require.NoError(t, err)
	require.Empty(t, c.Transcript())

	submitAndWait(t, c, "hello again")
	require.Empty(t, gw.snapshot()[1].history)
}

func TestCloseDiscardsLateResult(t *testing.T) {
	gw := &stubGateway{
		started:   make(chan string, 1),
		release:   make(chan struct{}),
		ignoreCtx: true,
	}
	c := NewController(NewSession("late", "Helper Bot"), helperOnlyRegistry(t), gw)

	pending, err := c.Submit("hello")
	require.NoError(t, err)
	<-gw.started

	c.Close()
	close(gw.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)
	<-c.Done()

	require.Equal(t, [][2]string{{"user", "hello"}}, roleContent(c.Transcript()))
}

func TestCloseFailsQueuedAndLaterRequests(t *testing.T) {
	gw := &stubGateway{
		started: make(chan string, 2),
		release: make(chan struct{}),
	}
	c := NewController(NewSession("queued", "Helper Bot"), helperOnlyRegistry(t), gw)

	first, err := c.Submit("first")
	require.NoError(t, err)
	second, err := c.Submit("second")
	require.NoError(t, err)
	<-gw.started

	c.Close()
	<-c.Done()

	ctx := context.Background()
	_, err = first.Wait(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = second.Wait(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)

	_, err = c.Submit("third")
	require.ErrorIs(t, err, ErrSessionClosed)
	_, err = c.SetActivePersonality(ctx, "Helper Bot")
	require.ErrorIs(t, err, ErrSessionClosed)
	require.Len(t, gw.snapshot(), 1)
}

func TestPanickingCompleterBecomesWarningTurn(t *testing.T) {
	gw := &stubGateway{panicWith: "provider exploded"}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	reply := submitAndWait(t, c, "hello")
	require.Contains(t, reply.Content, ErrorMarker)
	require.Contains(t, reply.Content, "provider exploded")
	require.Len(t, c.Transcript(), 2)

	submitAndWait(t, c, "still usable")
	require.Len(t, c.Transcript(), 4)
}

func TestPendingWaitHonoursContext(t *testing.T) {
	gw := &stubGateway{
		started: make(chan string, 1),
		release: make(chan struct{}),
	}
	c := newTestController(t, helperOnlyRegistry(t), gw)

	pending, err := c.Submit("slow")
	require.NoError(t, err)
	<-gw.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pending.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(gw.release)
	_, err = pending.Wait(context.Background())
	require.NoError(t, err)
}
