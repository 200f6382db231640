package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/nomadai/rag-gateway/internal/qa"
	"github.com/nomadai/rag-gateway/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeQA struct {
	calls  atomic.Int64
	answer string
	err    error
	block  chan struct{}
}

func (f *fakeQA) Answer(ctx context.Context, question string) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer + question, nil
}

type panickyQA struct{}

func (panickyQA) Answer(context.Context, string) (string, error) { panic("nil map") }

func newTestGateway(qaSvc Answerer) (*Gateway, *usage.Tracker, *testingclock.FakeClock) {
	clk := testingclock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := usage.NewTracker(usage.Config{Limit: 5, Window: time.Minute}, clk)
	gw := New(Options{
		APIKeys:  []string{"key-alpha-0001", "key-bravo-0002"},
		AdminKey: "admin-secret",
		Timeout:  time.Second,
	}, tracker, qaSvc, zap.NewNop())
	return gw, tracker, clk
}

func TestAsk_ForwardsAndReturnsAnswer(t *testing.T) {
	f := &fakeQA{answer: "answer to: "}
	gw, tracker, _ := newTestGateway(f)

	res, err := gw.Ask(context.Background(), "what is xApp?", "key-alpha-0001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Equal(t, "answer to: what is xApp?", res.Text)
	assert.Equal(t, int64(1), f.calls.Load())
	assert.Equal(t, map[string]int64{"key-alpha-0001": 1}, tracker.Snapshot())
}

func TestAsk_SixthRequestIsRateLimited(t *testing.T) {
	f := &fakeQA{answer: "ok"}
	gw, tracker, _ := newTestGateway(f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := gw.Ask(ctx, "q", "key-alpha-0001")
		require.NoError(t, err)
		require.Equal(t, OutcomeAnswered, res.Outcome)
	}

	res, err := gw.Ask(ctx, "q", "key-alpha-0001")
	require.NoError(t, err, "rate limiting is a normal response")
	assert.Equal(t, OutcomeRateLimited, res.Outcome)
	assert.Equal(t, "Rate limit exceeded (5 requests/min). Try again later", res.Text)
	assert.Equal(t, int64(5), f.calls.Load(), "rejected request never reaches the network")
	assert.Equal(t, int64(5), tracker.Snapshot()["key-alpha-0001"])
}

func TestAsk_PermittedAgainAfterWindow(t *testing.T) {
	f := &fakeQA{answer: "ok"}
	gw, _, clk := newTestGateway(f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := gw.Ask(ctx, "q", "key-alpha-0001")
		require.NoError(t, err)
	}
	res, _ := gw.Ask(ctx, "q", "key-alpha-0001")
	require.Equal(t, OutcomeRateLimited, res.Outcome)

	clk.Step(time.Minute)

	res, err := gw.Ask(ctx, "q", "key-alpha-0001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Equal(t, 4, gw.Quota("key-alpha-0001").Remaining)
}

func TestAsk_KeysAreIndependent(t *testing.T) {
	gw, _, _ := newTestGateway(&fakeQA{answer: "ok"})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		gw.Ask(ctx, "q", "key-alpha-0001")
	}

	res, err := gw.Ask(ctx, "q", "key-bravo-0002")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
}

func TestAsk_UnauthorizedHasNoSideEffects(t *testing.T) {
	f := &fakeQA{answer: "ok"}
	gw, tracker, _ := newTestGateway(f)

	for _, key := range []string{"", "nope", "key-alpha-000", "KEY-ALPHA-0001"} {
		_, err := gw.Ask(context.Background(), "q", key)
		assert.ErrorIs(t, err, ErrUnauthorized, "key %q", key)
	}

	assert.Zero(t, f.calls.Load())
	assert.Empty(t, tracker.Snapshot())
	assert.Zero(t, tracker.Len())
}

func TestAsk_EmptyQuery(t *testing.T) {
	f := &fakeQA{answer: "ok"}
	gw, tracker, _ := newTestGateway(f)

	_, err := gw.Ask(context.Background(), "   ", "key-alpha-0001")
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Zero(t, f.calls.Load())
	assert.Empty(t, tracker.Snapshot())
}

func TestAsk_UpstreamErrorBecomesMessage(t *testing.T) {
	gw, tracker, _ := newTestGateway(&fakeQA{err: errors.New("connection refused")})

	res, err := gw.Ask(context.Background(), "q", "key-alpha-0001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpstreamFailure, res.Outcome)
	assert.Equal(t, "Server error: connection refused", res.Text)
	assert.Equal(t, int64(1), tracker.Snapshot()["key-alpha-0001"], "the admitted request still counts")
}

func TestAsk_UpstreamPanicIsContained(t *testing.T) {
	gw, _, _ := newTestGateway(panickyQA{})

	res, err := gw.Ask(context.Background(), "q", "key-alpha-0001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpstreamFailure, res.Outcome)
	assert.Contains(t, res.Text, "panicked")
}

func TestAsk_SlowUpstreamTimesOut(t *testing.T) {
	f := &fakeQA{block: make(chan struct{})}
	defer close(f.block)
	gw, _, _ := newTestGateway(f)
	gw.timeout = 50 * time.Millisecond

	start := time.Now()
	res, err := gw.Ask(context.Background(), "q", "key-alpha-0001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpstreamFailure, res.Outcome)
	assert.Contains(t, res.Text, "deadline exceeded")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAsk_UnreachableQAService(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := qa.NewClient(config.UpstreamConfig{BaseURL: url, Path: "/rag", Timeout: 2 * time.Second}, zap.NewNop())
	gw, _, _ := newTestGateway(client)

	start := time.Now()
	res, err := gw.Ask(context.Background(), "q", "key-alpha-0001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpstreamFailure, res.Outcome)
	assert.Contains(t, res.Text, "Server error: qa service unreachable")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestAsk_StalledTokenEndpointBoundedByTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		w.Write([]byte(`{"access_token":"late","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	client := qa.NewClient(config.UpstreamConfig{
		BaseURL: srv.URL,
		Path:    "/rag",
		Timeout: 5 * time.Second,
		OAuth:   config.OAuthConfig{TokenURL: srv.URL + "/token", ClientID: "gateway", ClientSecret: "secret"},
	}, zap.NewNop())
	gw, _, _ := newTestGateway(client)
	gw.timeout = 300 * time.Millisecond

	start := time.Now()
	res, err := gw.Ask(context.Background(), "q", "key-alpha-0001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpstreamFailure, res.Outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAsk_LockNotHeldDuringForward(t *testing.T) {
	f := &fakeQA{block: make(chan struct{}), answer: "ok"}
	gw, _, _ := newTestGateway(f)
	gw.timeout = 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		gw.Ask(context.Background(), "slow", "key-alpha-0001")
	}()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	// The first call is parked inside the QA service; the limiter must still answer.
	quota := gw.Quota("key-bravo-0002")
	assert.Equal(t, 5, quota.Remaining)
	report, err := gw.Usage("admin-secret")
	require.NoError(t, err)
	assert.Equal(t, `{"key-alpha-0001":1}`, report)

	close(f.block)
	<-done
}

func TestAsk_ConcurrentBurstAdmitsExactlyLimit(t *testing.T) {
	f := &fakeQA{answer: "ok"}
	gw, tracker, _ := newTestGateway(f)

	const callers = 40
	var answered, limited atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := gw.Ask(context.Background(), "q", "key-alpha-0001")
			if err != nil {
				return
			}
			switch res.Outcome {
			case OutcomeAnswered:
				answered.Add(1)
			case OutcomeRateLimited:
				limited.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(5), answered.Load())
	assert.Equal(t, int64(callers-5), limited.Load())
	assert.Equal(t, int64(5), f.calls.Load())
	assert.Equal(t, int64(5), tracker.Snapshot()["key-alpha-0001"])
}

func TestUsage_RequiresAdminKey(t *testing.T) {
	gw, _, _ := newTestGateway(&fakeQA{answer: "ok"})
	gw.Ask(context.Background(), "q", "key-alpha-0001")

	for _, key := range []string{"", "wrong", "admin-secre"} {
		out, err := gw.Usage(key)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Empty(t, out)

		snap, err := gw.UsageSnapshot(key)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Nil(t, snap)
	}
}

func TestUsage_RendersSnapshot(t *testing.T) {
	gw, _, _ := newTestGateway(&fakeQA{answer: "ok"})
	ctx := context.Background()

	out, err := gw.Usage("admin-secret")
	require.NoError(t, err)
	assert.Equal(t, "{}", out)

	gw.Ask(ctx, "q", "key-bravo-0002")
	gw.Ask(ctx, "q", "key-alpha-0001")
	gw.Ask(ctx, "q", "key-alpha-0001")

	out, err = gw.Usage("admin-secret")
	require.NoError(t, err)
	assert.Equal(t, `{"key-alpha-0001":2,"key-bravo-0002":1}`, out)
}

func TestUsage_DisabledWithoutAdminKey(t *testing.T) {
	tracker := usage.NewTracker(usage.Config{}, nil)
	gw := New(Options{APIKeys: []string{"k"}}, tracker, &fakeQA{}, zap.NewNop())

	_, err := gw.Usage("")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestNew_EmptyKeysNeverValid(t *testing.T) {
	gw := New(Options{APIKeys: []string{""}}, usage.NewTracker(usage.Config{}, nil), &fakeQA{}, zap.NewNop())
	assert.False(t, gw.ValidKey(""))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "***", MaskKey("short"))
	assert.Equal(t, "key-...0001", MaskKey("key-alpha-0001"))
}
