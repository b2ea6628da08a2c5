package worker

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sethdford/fleetctl/internal/eventbus"
	"github.com/sethdford/fleetctl/internal/store"
)

// fakeChildProcess is an in-memory childProcess for tests; no subprocess
// is ever started.
type fakeChildProcess struct {
	stdoutR, stdoutW *io.PipeReader
	w                *io.PipeWriter
	exited           chan struct{}
	signalled        chan bool
}

func newFakeChildProcess() *fakeChildProcess {
	r, w := io.Pipe()
	return &fakeChildProcess{
		stdoutR:   r,
		w:         w,
		exited:    make(chan struct{}),
		signalled: make(chan bool, 1),
	}
}

func (f *fakeChildProcess) Stdout() io.ReadCloser { return f.stdoutR }
func (f *fakeChildProcess) Stderr() io.ReadCloser { return nil }
func (f *fakeChildProcess) Stdin() io.WriteCloser { return f.w }
func (f *fakeChildProcess) Wait() error {
	<-f.exited
	return nil
}
func (f *fakeChildProcess) Signal(graceful bool) error {
	select {
	case f.signalled <- graceful:
	default:
	}
	close(f.exited)
	return nil
}

func newTestSupervisor(t *testing.T, spawn spawnFunc) *Supervisor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.GracefulDeadline = 50 * time.Millisecond
	sup := New(cfg, store.NewMemoryStore(), eventbus.New(16, nil, nil), nil, nil)
	if spawn != nil {
		sup.spawn = spawn
	}
	return sup
}

func TestSpawnWorkerRejectsInvalidHandle(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	_, err := sup.SpawnWorker(context.Background(), SpawnRequest{Handle: "bad handle!"})
	if err == nil {
		t.Fatal("expected validation error for invalid handle")
	}
}

func TestSpawnWorkerRejectsDuplicateHandle(t *testing.T) {
	fake := newFakeChildProcess()
	sup := newTestSupervisor(t, func(ctx context.Context, req SpawnRequest) (childProcess, error) {
		return fake, nil
	})
	ctx := context.Background()
	if _, err := sup.SpawnWorker(ctx, SpawnRequest{Handle: "w1"}); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if _, err := sup.SpawnWorker(ctx, SpawnRequest{Handle: "w1"}); err == nil {
		t.Fatal("expected conflict on duplicate handle")
	}
	fake.w.Close()
}

func TestSpawnWorkerEnforcesConcurrencyLimit(t *testing.T) {
	fake := newFakeChildProcess()
	sup := newTestSupervisor(t, func(ctx context.Context, req SpawnRequest) (childProcess, error) {
		return fake, nil
	})
	sup.cfg.MaxWorkers = 1
	ctx := context.Background()
	if _, err := sup.SpawnWorker(ctx, SpawnRequest{Handle: "w1"}); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	if _, err := sup.SpawnWorker(ctx, SpawnRequest{Handle: "w2"}); err == nil {
		t.Fatal("expected limit reached error")
	}
}

func TestDismissWorkerTransitionsToStoppedAndFreesHandle(t *testing.T) {
	fake := newFakeChildProcess()
	sup := newTestSupervisor(t, func(ctx context.Context, req SpawnRequest) (childProcess, error) {
		return fake, nil
	})
	ctx := context.Background()
	if _, err := sup.SpawnWorker(ctx, SpawnRequest{Handle: "w1"}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := sup.DismissWorkerByHandle(ctx, "w1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, ok := sup.GetWorkerByHandle("w1"); ok {
		t.Fatal("expected handle to be freed after dismissal")
	}
	if _, err := sup.SpawnWorker(ctx, SpawnRequest{Handle: "w1"}); err != nil {
		t.Fatalf("respawn after dismiss should succeed: %v", err)
	}
}

func TestCheckHealthMarksExpiredHeartbeatUnhealthy(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	w, err := sup.RegisterExternalWorker(context.Background(), "ext1", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sup.mu.Lock()
	sup.workers[w.ID].entity.LastHeartbeat = time.Now().Add(-time.Hour)
	sup.mu.Unlock()

	sup.CheckHealth(context.Background(), time.Minute)

	got, _ := sup.GetWorkerByHandle("ext1")
	if got.Health != store.HealthUnhealthy {
		t.Fatalf("expected unhealthy, got %s", got.Health)
	}
}

func TestRecordHeartbeatRecoversHealth(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	_, _ = sup.RegisterExternalWorker(context.Background(), "ext1", "")
	sup.mu.Lock()
	sup.workers[sup.byHandle["ext1"]].entity.Health = store.HealthUnhealthy
	sup.mu.Unlock()

	sup.RecordHeartbeat("ext1")

	got, _ := sup.GetWorkerByHandle("ext1")
	if got.Health != store.HealthHealthy {
		t.Fatalf("expected healthy after heartbeat, got %s", got.Health)
	}
}

func TestInjectWorkerOutputAppendsToBuffer(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	_, _ = sup.RegisterExternalWorker(context.Background(), "ext1", "")
	if ok := sup.InjectWorkerOutput("ext1", []string{"line one", "line two"}); !ok {
		t.Fatal("expected injection to succeed")
	}
	out, ok := sup.GetOutput("ext1")
	if !ok || len(out) != 2 || out[0] != "line one" {
		t.Fatalf("unexpected output snapshot: %v", out)
	}
}

func TestGetRoutingRecommendationNilWithoutClassifier(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	if rec := sup.GetRoutingRecommendation("do the thing"); rec != nil {
		t.Fatalf("expected nil recommendation without classifier, got %+v", rec)
	}
}

type stubClassifier struct{ rec *RoutingRecommendation }

func (s stubClassifier) Classify(string) (*RoutingRecommendation, error) { return s.rec, nil }

func TestGetRoutingRecommendationDelegatesToClassifier(t *testing.T) {
	sup := newTestSupervisor(t, nil)
	sup.classifier = stubClassifier{rec: &RoutingRecommendation{Complexity: "high", Strategy: "decompose", Model: "opus", Confidence: 0.9}}
	rec := sup.GetRoutingRecommendation("refactor the scheduler")
	if rec == nil || rec.Complexity != "high" {
		t.Fatalf("expected delegated recommendation, got %+v", rec)
	}
}
