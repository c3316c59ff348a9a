package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, msg)
	return nil
}

func newTestDispatcher(t *testing.T, n Notifier) *Dispatcher {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return NewDispatcher(v, n, 0, zaptest.NewLogger(t))
}

func TestDispatcherPublishesValidPayloads(t *testing.T) {
	n := &recordingNotifier{}
	d := newTestDispatcher(t, n)
	customerID, taskID := uuid.New(), uuid.New()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	envs := []Envelope{
		Welcome(customerID, taskID, now, WelcomePayload{CustomerName: "Acme", Email: "ops@acme.io", Plan: "enterprise", QueuePosition: 1, EstimatedWaitHours: 0}),
		AdminAlert(customerID, taskID, now, AdminAlertPayload{CustomerName: "Acme", Email: "ops@acme.io", Plan: "enterprise", Priority: 2, QueuePosition: 1, Features: []string{"crm"}}),
		Ready(customerID, taskID, now, ReadyPayload{CustomerName: "Acme", Email: "ops@acme.io", Plan: "enterprise", Features: []string{"crm"}, ProjectURL: "https://abcdefghijklmnopqrst.supabase.co", CompletedAt: now}),
		Failed(customerID, taskID, now, FailedPayload{CustomerName: "Acme", Email: "ops@acme.io", Features: []string{"crm"}, FailedStep: "feature:crm", Reason: "permission denied"}),
	}
	for _, env := range envs {
		require.NoError(t, d.Publish(context.Background(), env))
	}

	require.Len(t, n.msgs, 4)
	first := n.msgs[0]
	require.Equal(t, KindWelcome, first.Kind)
	require.Equal(t, customerID.String(), first.Attributes["customerId"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(first.Data, &decoded))
	payload := decoded["payload"].(map[string]any)
	require.Equal(t, "Acme", payload["customerName"])
	require.Equal(t, []any{}, payload["features"])
}

func TestDispatcherRejectsPayloadViolatingContract(t *testing.T) {
	n := &recordingNotifier{}
	d := newTestDispatcher(t, n)

	env := Welcome(uuid.New(), uuid.New(), time.Now(), WelcomePayload{Email: "ops@acme.io", Plan: "gold"})
	require.Error(t, d.Publish(context.Background(), env))
	require.Empty(t, n.msgs)
}

func TestDispatcherReturnsNotifierErrors(t *testing.T) {
	boom := errors.New("smtp relay down")
	d := newTestDispatcher(t, &recordingNotifier{err: boom})

	env := Failed(uuid.New(), uuid.New(), time.Now(), FailedPayload{CustomerName: "Acme", Email: "ops@acme.io", FailedStep: "base_schema", Reason: "timeout"})
	require.ErrorIs(t, d.Publish(context.Background(), env), boom)
}

func TestDispatcherRateLimitHonoursContext(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	d := NewDispatcher(v, &recordingNotifier{}, 1, zaptest.NewLogger(t))

	env := func() Envelope {
		return Welcome(uuid.New(), uuid.New(), time.Now(), WelcomePayload{CustomerName: "A", Email: "a@b.c", Plan: "starter"})
	}
	require.NoError(t, d.Publish(context.Background(), env()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, d.Publish(ctx, env()))
}

func TestUnknownKindIsRejected(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	_, err = v.Encode(Envelope{Kind: "digest", Payload: map[string]string{}})
	require.Error(t, err)
}
