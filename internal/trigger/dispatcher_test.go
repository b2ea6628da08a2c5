package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/store"
)

type stubStarter struct {
	err   error
	calls int
}

func (s *stubStarter) StartWorkflow(ctx context.Context, workflowID, createdBy string, inputs map[string]any, swarmID string) (*store.WorkflowExecution, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &store.WorkflowExecution{ID: "exec-1", WorkflowID: workflowID}, nil
}

func newTestDispatcher(t *testing.T, starter Starter) (*Dispatcher, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.New(16, nil, nil)
	return New(st, bus, starter, nil), st
}

func TestScheduleTriggerFiresAfterInterval(t *testing.T) {
	starter := &stubStarter{}
	d, st := newTestDispatcher(t, starter)

	tr := &store.Trigger{
		ID:          "t1",
		WorkflowID:  "wf1",
		TriggerType: store.TriggerSchedule,
		IsEnabled:   true,
		Config:      map[string]any{"intervalSeconds": 1.0},
	}
	_ = st.SaveTrigger(context.Background(), tr)

	d.ProcessTriggers(context.Background())
	if starter.calls != 1 {
		t.Fatalf("expected 1 call on first tick (no lastFiredAt), got %d", starter.calls)
	}

	d.ProcessTriggers(context.Background())
	if starter.calls != 1 {
		t.Fatalf("expected no re-fire before interval elapses, got %d calls", starter.calls)
	}
}

func TestTriggerDisabledAfterConsecutiveFailureCap(t *testing.T) {
	starter := &stubStarter{err: errors.New("boom")}
	d, st := newTestDispatcher(t, starter)

	tr := &store.Trigger{
		ID:          "t2",
		WorkflowID:  "wf1",
		TriggerType: store.TriggerSchedule,
		IsEnabled:   true,
		Config:      map[string]any{"intervalSeconds": 0.001},
	}
	_ = st.SaveTrigger(context.Background(), tr)

	for i := 0; i < maxConsecutiveFailures; i++ {
		d.ProcessTriggers(context.Background())
		time.Sleep(time.Millisecond)
	}

	got, err := st.GetTrigger(context.Background(), "t2")
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	if got.IsEnabled {
		t.Fatalf("expected trigger disabled after %d consecutive failures, got enabled with %d failures", maxConsecutiveFailures, got.ConsecutiveFailures)
	}
}

func TestWebhookTriggerFiresOnceThenClearsPending(t *testing.T) {
	starter := &stubStarter{}
	d, st := newTestDispatcher(t, starter)

	tr := &store.Trigger{
		ID:          "t3",
		WorkflowID:  "wf1",
		TriggerType: store.TriggerWebhook,
		IsEnabled:   true,
		Config:      map[string]any{"webhookPending": true},
	}
	_ = st.SaveTrigger(context.Background(), tr)

	d.ProcessTriggers(context.Background())
	if starter.calls != 1 {
		t.Fatalf("expected webhook trigger to fire once, got %d calls", starter.calls)
	}

	d.ProcessTriggers(context.Background())
	if starter.calls != 1 {
		t.Fatalf("expected no re-fire once webhookPending cleared, got %d calls", starter.calls)
	}
}

func TestCreateTriggerRejectsUnknownType(t *testing.T) {
	d, _ := newTestDispatcher(t, &stubStarter{})
	err := d.CreateTrigger(context.Background(), &store.Trigger{ID: "x", WorkflowID: "wf1", TriggerType: "bogus"})
	if err == nil {
		t.Fatal("expected validation error for unknown trigger type")
	}
}

func TestSetEnabledResetsFailureCount(t *testing.T) {
	d, st := newTestDispatcher(t, &stubStarter{})
	tr := &store.Trigger{ID: "t4", WorkflowID: "wf1", TriggerType: store.TriggerSchedule, ConsecutiveFailures: 3}
	_ = st.SaveTrigger(context.Background(), tr)

	if err := d.SetEnabled(context.Background(), "t4", true); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	got, _ := st.GetTrigger(context.Background(), "t4")
	if !got.IsEnabled || got.ConsecutiveFailures != 0 {
		t.Fatalf("expected re-enabled trigger with reset failure count, got enabled=%v failures=%d", got.IsEnabled, got.ConsecutiveFailures)
	}
}
