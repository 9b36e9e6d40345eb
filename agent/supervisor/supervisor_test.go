package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/registry"
	"github.com/BaSui01/agentrelay/testutil"
	"github.com/BaSui01/agentrelay/types"
)

// =============================================================================
// 🧪 Fakes
// =============================================================================

type fakeProcess struct {
	pid    int
	exit   chan struct{}
	once   sync.Once
	reaped atomic.Bool
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() error {
	<-p.exit
	p.reaped.Store(true)
	return errors.New("signal: killed")
}

func (p *fakeProcess) terminate() { p.once.Do(func() { close(p.exit) }) }

type fakeLauncher struct {
	mu       sync.Mutex
	nextPID  int
	started  []CommandSpec
	procs    map[int]*fakeProcess
	killed   []int
	alive    map[int]bool
	startErr error

	runGate chan struct{}
	runErr  error
	runs    atomic.Int32
	runSpec []CommandSpec
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		nextPID: 1000,
		procs:   make(map[int]*fakeProcess),
		alive:   make(map[int]bool),
	}
}

func (f *fakeLauncher) Start(spec CommandSpec) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.nextPID++
	p := &fakeProcess{pid: f.nextPID, exit: make(chan struct{})}
	f.procs[p.pid] = p
	f.alive[p.pid] = true
	f.started = append(f.started, spec)
	return p, nil
}

func (f *fakeLauncher) Run(ctx context.Context, spec CommandSpec) error {
	f.runs.Add(1)
	f.mu.Lock()
	f.runSpec = append(f.runSpec, spec)
	gate := f.runGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.runErr
}

func (f *fakeLauncher) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[pid] {
		return errors.New("no such process")
	}
	f.alive[pid] = false
	f.killed = append(f.killed, pid)
	if p, ok := f.procs[pid]; ok {
		p.terminate()
	}
	return nil
}

func (f *fakeLauncher) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// exit simulates a child dying on its own.
func (f *fakeLauncher) exit(pid int) {
	f.mu.Lock()
	p := f.procs[pid]
	f.alive[pid] = false
	f.mu.Unlock()
	p.terminate()
}

func (f *fakeLauncher) process(pid int) *fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[pid]
}

func (f *fakeLauncher) startedSpecs() []CommandSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CommandSpec(nil), f.started...)
}

// updateFailingStore fails every Update once failUpdates is set.
type updateFailingStore struct {
	registry.Store
	failUpdates atomic.Bool
}

func (s *updateFailingStore) Update(ctx context.Context, name string, fn registry.Mutator) (*types.AgentRecord, error) {
	if s.failUpdates.Load() {
		return nil, errors.New("registry file: no space left on device")
	}
	return s.Store.Update(ctx, name, fn)
}

type fakeProber struct {
	mu    sync.Mutex
	ports []int
	err   error
}

func (p *fakeProber) Ready(ctx context.Context, port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports = append(p.ports, port)
	return p.err
}

type recordingObserver struct {
	mu        sync.Mutex
	lifecycle []string
	training  []string
}

func (o *recordingObserver) ObserveLifecycle(operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lifecycle = append(o.lifecycle, operation+":"+outcome)
}

func (o *recordingObserver) ObserveTraining(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.training = append(o.training, outcome)
}

func testOptions() Options {
	return Options{
		AgentsDir:        "agents",
		DialoguePortBase: 5005,
		LogicPortBase:    5055,
		Commands: config.CommandsConfig{
			Train:    []string{"rasa", "train", "--quiet"},
			Dialogue: []string{"rasa", "run", "--enable-api", "-p", "{port}", "--cors", "*"},
			Logic:    []string{"rasa", "run", "actions", "-p", "{port}"},
		},
		TrainTimeout: 5 * time.Second,
	}
}

func newTestSupervisor(t *testing.T) (*Supervisor, registry.Store, *fakeLauncher, *fakeProber) {
	t.Helper()
	store := registry.NewMemoryStore()
	launcher := newFakeLauncher()
	prober := &fakeProber{}
	sup := New(store, launcher, prober, testOptions(), zap.NewNop())
	t.Cleanup(func() { _ = sup.Wait(context.Background()) })
	return sup, store, launcher, prober
}

// =============================================================================
// 🧪 Create
// =============================================================================

func TestSupervisor_CreateDefaults(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)

	first, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)
	assert.Equal(t, 5005, first.DialoguePort)
	assert.Equal(t, 5055, first.LogicPort)
	assert.Equal(t, "agents/sales", first.Path)
	assert.Equal(t, types.StatusCreated, first.Status)
	assert.Nil(t, first.DialoguePID)
	assert.Nil(t, first.LogicPID)

	second, err := sup.Create(ctx, CreateRequest{Name: "billing"})
	require.NoError(t, err)
	assert.Equal(t, 5007, second.DialoguePort)
	assert.Equal(t, 5057, second.LogicPort)
}

func TestSupervisor_CreateAdvancesPastCollisions(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)

	_, err := sup.Create(ctx, CreateRequest{Name: "a", DialoguePort: 5007, LogicPort: 5057})
	require.NoError(t, err)

	b, err := sup.Create(ctx, CreateRequest{Name: "b"})
	require.NoError(t, err)
	assert.Equal(t, 5009, b.DialoguePort)
	assert.Equal(t, 5059, b.LogicPort)
}

func TestSupervisor_CreateDuplicateLeavesRecord(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)

	_, err := sup.Create(ctx, CreateRequest{Name: "sales", Path: "/srv/sales"})
	require.NoError(t, err)

	_, err = sup.Create(ctx, CreateRequest{Name: "sales", Path: "/elsewhere", DialoguePort: 6000})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAlreadyExists))

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, "/srv/sales", rec.Path)
	assert.Equal(t, 5005, rec.DialoguePort)
}

func TestSupervisor_CreateRejects(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  CreateRequest
		code types.ErrorCode
	}{
		{"explicit port taken", CreateRequest{Name: "x", DialoguePort: 5055, LogicPort: 7000}, types.ErrPortConflict},
		{"same port for both roles", CreateRequest{Name: "y", DialoguePort: 7002, LogicPort: 7002}, types.ErrPortConflict},
		{"bad name", CreateRequest{Name: "../etc"}, types.ErrInvalidRequest},
		{"empty name", CreateRequest{Name: ""}, types.ErrInvalidRequest},
		{"port out of range", CreateRequest{Name: "z", DialoguePort: 70000}, types.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sup.Create(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}
}

// =============================================================================
// 🧪 Train
// =============================================================================

func TestSupervisor_TrainSuccess(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	obs := &recordingObserver{}
	sup.WithObserver(obs)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	h, err := sup.Train(ctx, "sales")
	require.NoError(t, err)
	assert.False(t, h.Coalesced)

	_, ok := testutil.WaitForChannel(h.Done(), 5*time.Second)
	require.True(t, ok)
	assert.NoError(t, h.Err())

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTrained, rec.Status)

	require.Len(t, launcher.runSpec, 1)
	assert.Equal(t, []string{"rasa", "train", "--quiet"}, launcher.runSpec[0].Args)
	assert.Equal(t, "agents/sales", launcher.runSpec[0].Dir)
	assert.Equal(t, []string{"success"}, obs.training)
}

func TestSupervisor_TrainFailurePersistsDetail(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	launcher.runErr = errors.New("exit status 1: model config\ninvalid")
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	h, err := sup.Train(ctx, "sales")
	require.NoError(t, err, "training failures are never returned to the caller")
	<-h.Done()
	assert.Error(t, h.Err())

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTrainError, rec.Status.Base())
	assert.Equal(t, "exit status 1: model config invalid", rec.Status.Detail())
}

func TestSupervisor_TrainSetsTrainingSynchronously(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	launcher.runGate = make(chan struct{})
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	h, err := sup.Train(ctx, "sales")
	require.NoError(t, err)

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTraining, rec.Status)

	close(launcher.runGate)
	<-h.Done()
}

func TestSupervisor_TrainCoalescesOverlappingCalls(t *testing.T) {
	sup, _, launcher, _ := newTestSupervisor(t)
	launcher.runGate = make(chan struct{})
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	first, err := sup.Train(ctx, "sales")
	require.NoError(t, err)
	second, err := sup.Train(ctx, "sales")
	require.NoError(t, err)
	assert.True(t, second.Coalesced)

	close(launcher.runGate)
	<-first.Done()
	<-second.Done()
	assert.EqualValues(t, 1, launcher.runs.Load())

	// A new call after completion starts a fresh run.
	third, err := sup.Train(ctx, "sales")
	require.NoError(t, err)
	assert.False(t, third.Coalesced)
	<-third.Done()
	assert.EqualValues(t, 2, launcher.runs.Load())
}

func TestSupervisor_TrainOutlivesRequestContext(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	launcher.runGate = make(chan struct{})
	_, err := sup.Create(context.Background(), CreateRequest{Name: "sales"})
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(context.Background())
	h, err := sup.Train(reqCtx, "sales")
	require.NoError(t, err)
	cancel()

	close(launcher.runGate)
	<-h.Done()
	assert.NoError(t, h.Err())

	rec, err := store.Get(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTrained, rec.Status)
}

func TestSupervisor_WaitAbortsTrainingWhenContextEnds(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	obs := &recordingObserver{}
	sup.WithObserver(obs)
	launcher.runGate = make(chan struct{})
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	h, err := sup.Train(ctx, "sales")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	waitErr := make(chan error, 1)
	go func() { waitErr <- sup.Wait(waitCtx) }()

	select {
	case err := <-waitErr:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait ignored its context while training was blocked")
	}

	_, ok := testutil.WaitForChannel(h.Done(), 2*time.Second)
	require.True(t, ok, "in-flight run is cancelled")
	assert.ErrorIs(t, h.Err(), context.Canceled)

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTrainError, rec.Status.Base())
	assert.Equal(t, []string{"aborted"}, obs.training)
}

func TestSupervisor_TrainUnknownAgent(t *testing.T) {
	sup, _, launcher, _ := newTestSupervisor(t)
	_, err := sup.Train(testutil.TestContext(t), "ghost")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
	assert.EqualValues(t, 0, launcher.runs.Load())
}

// =============================================================================
// 🧪 Start / Stop
// =============================================================================

func TestSupervisor_StartSpawnsLogicThenDialogue(t *testing.T) {
	sup, store, launcher, prober := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	res, err := sup.Start(ctx, "sales")
	require.NoError(t, err)
	require.NotNil(t, res.LogicPID)
	require.NotNil(t, res.DialoguePID)
	assert.Equal(t, types.StatusRunning, res.Status)
	assert.True(t, res.Ready)

	specs := launcher.startedSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, []string{"rasa", "run", "actions", "-p", "5055"}, specs[0].Args)
	assert.Equal(t, []string{"rasa", "run", "--enable-api", "-p", "5005", "--cors", "*"}, specs[1].Args)
	assert.Equal(t, "agents/sales", specs[0].Dir)
	assert.Equal(t, []int{5055}, prober.ports)

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, *res.DialoguePID, *rec.DialoguePID)
	assert.Equal(t, *res.LogicPID, *rec.LogicPID)
}

func TestSupervisor_StartIsIdempotent(t *testing.T) {
	sup, _, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	first, err := sup.Start(ctx, "sales")
	require.NoError(t, err)
	second, err := sup.Start(ctx, "sales")
	require.NoError(t, err)

	assert.Len(t, launcher.startedSpecs(), 2)
	assert.Equal(t, *first.DialoguePID, *second.DialoguePID)
	assert.Equal(t, *first.LogicPID, *second.LogicPID)
}

func TestSupervisor_StartConcurrentCallsSpawnOnce(t *testing.T) {
	sup, _, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sup.Start(ctx, "sales")
		}()
	}
	wg.Wait()
	assert.Len(t, launcher.startedSpecs(), 2)
}

func TestSupervisor_StartOnlyLogicKeepsStatus(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "sales", func(rec *types.AgentRecord) error {
		rec.DialoguePID = types.PID(4242)
		rec.Status = types.StatusTrained
		return nil
	})
	require.NoError(t, err)

	res, err := sup.Start(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusTrained, res.Status, "status changes only when the dialogue server is spawned")
	assert.Equal(t, 4242, *res.DialoguePID)
	require.Len(t, launcher.startedSpecs(), 1)
	assert.Contains(t, launcher.startedSpecs()[0].Args, "actions")
}

func TestSupervisor_StartProceedsWhenProbeTimesOut(t *testing.T) {
	sup, _, launcher, prober := newTestSupervisor(t)
	prober.err = context.DeadlineExceeded
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	res, err := sup.Start(ctx, "sales")
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Equal(t, types.StatusRunning, res.Status)
	assert.Len(t, launcher.startedSpecs(), 2)
}

func TestSupervisor_StartSpawnFailure(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	launcher.startErr = errors.New("exec: \"rasa\": executable file not found in $PATH")
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	_, err = sup.Start(ctx, "sales")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrSpawnFailed))

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Nil(t, rec.LogicPID)
	assert.Equal(t, types.StatusCreated, rec.Status)
}

func TestSupervisor_ReaperClearsExitedPID(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	res, err := sup.Start(ctx, "sales")
	require.NoError(t, err)
	launcher.exit(*res.DialoguePID)

	testutil.AssertEventuallyTrue(t, func() bool {
		rec, err := store.Get(ctx, "sales")
		return err == nil && rec.DialoguePID == nil
	}, 2*time.Second)

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.NotNil(t, rec.LogicPID)
}

func TestSupervisor_ReaperStopsAgentWhenBothProcessesExit(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	res, err := sup.Start(ctx, "sales")
	require.NoError(t, err)
	launcher.exit(*res.LogicPID)
	launcher.exit(*res.DialoguePID)

	testutil.AssertEventuallyTrue(t, func() bool {
		rec, err := store.Get(ctx, "sales")
		return err == nil && rec.DialoguePID == nil && rec.LogicPID == nil
	}, 2*time.Second)

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, rec.Status)

	report, err := sup.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked, "nothing left to reconcile")
}

func TestSupervisor_SpawnPersistFailureReapsChild(t *testing.T) {
	store := &updateFailingStore{Store: registry.NewMemoryStore()}
	launcher := newFakeLauncher()
	sup := New(store, launcher, &fakeProber{}, testOptions(), zap.NewNop())
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)

	store.failUpdates.Store(true)
	_, err = sup.Start(ctx, "sales")
	require.Error(t, err)

	require.Len(t, launcher.killed, 1)
	proc := launcher.process(launcher.killed[0])
	require.NotNil(t, proc)
	testutil.AssertEventuallyTrue(t, proc.reaped.Load, 2*time.Second)
}

func TestSupervisor_Stop(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)
	res, err := sup.Start(ctx, "sales")
	require.NoError(t, err)

	stop, err := sup.Stop(ctx, "sales")
	require.NoError(t, err)
	assert.True(t, stop.OK)
	assert.ElementsMatch(t, []int{*res.DialoguePID, *res.LogicPID}, stop.Killed)

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Nil(t, rec.DialoguePID)
	assert.Nil(t, rec.LogicPID)
	assert.Equal(t, types.StatusStopped, rec.Status)

	// Second stop is a no-op that still succeeds.
	again, err := sup.Stop(ctx, "sales")
	require.NoError(t, err)
	assert.Empty(t, again.Killed)
	assert.Len(t, launcher.killed, 2)
}

func TestSupervisor_StopSwallowsKillFailures(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "sales"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "sales", func(rec *types.AgentRecord) error {
		rec.DialoguePID = types.PID(99991)
		rec.LogicPID = types.PID(99992)
		rec.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)

	res, err := sup.Stop(ctx, "sales")
	require.NoError(t, err)
	assert.Empty(t, res.Killed)

	rec, err := store.Get(ctx, "sales")
	require.NoError(t, err)
	assert.Nil(t, rec.DialoguePID)
	assert.Equal(t, types.StatusStopped, rec.Status)
}

func TestSupervisor_UnknownAgent(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)

	for i := 0; i < 3; i++ {
		_, err := sup.Start(ctx, fmt.Sprintf("ghost-%d", i))
		assert.True(t, types.IsCode(err, types.ErrNotFound))
		_, err = sup.Stop(ctx, fmt.Sprintf("ghost-%d", i))
		assert.True(t, types.IsCode(err, types.ErrNotFound))
	}

	sup.locksMu.Lock()
	defer sup.locksMu.Unlock()
	assert.Empty(t, sup.locks, "unknown names never get a lock")
}

// =============================================================================
// 🧪 Reconcile / StopAll
// =============================================================================

func TestSupervisor_Reconcile(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)

	for _, name := range []string{"dead", "half", "alive", "idle"} {
		_, err := sup.Create(ctx, CreateRequest{Name: name})
		require.NoError(t, err)
	}
	set := func(name string, dialogue, logic int, status types.AgentStatus) {
		_, err := store.Update(ctx, name, func(rec *types.AgentRecord) error {
			rec.DialoguePID = types.PID(dialogue)
			rec.LogicPID = types.PID(logic)
			rec.Status = status
			return nil
		})
		require.NoError(t, err)
	}
	set("dead", 1, 2, types.StatusRunning)
	set("half", 3, 4, types.StatusRunning)
	set("alive", 5, 6, types.StatusRunning)
	launcher.alive[4] = true
	launcher.alive[5] = true
	launcher.alive[6] = true

	report, err := sup.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Cleared)
	assert.Equal(t, []string{"dead"}, report.Stopped)

	dead, _ := store.Get(ctx, "dead")
	assert.Nil(t, dead.DialoguePID)
	assert.Nil(t, dead.LogicPID)
	assert.Equal(t, types.StatusStopped, dead.Status)

	half, _ := store.Get(ctx, "half")
	assert.Nil(t, half.DialoguePID)
	assert.Equal(t, 4, *half.LogicPID)
	assert.Equal(t, types.StatusRunning, half.Status)

	alive, _ := store.Get(ctx, "alive")
	assert.Equal(t, 5, *alive.DialoguePID)
}

func TestSupervisor_ReconcileStopsRunningAgentWithoutPIDs(t *testing.T) {
	sup, store, _, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)
	_, err := sup.Create(ctx, CreateRequest{Name: "orphan"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "orphan", func(rec *types.AgentRecord) error {
		rec.Status = types.StatusRunning
		return nil
	})
	require.NoError(t, err)

	report, err := sup.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Cleared)
	assert.Equal(t, []string{"orphan"}, report.Stopped)

	rec, err := store.Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, rec.Status)
}

func TestSupervisor_StopAll(t *testing.T) {
	sup, store, launcher, _ := newTestSupervisor(t)
	ctx := testutil.TestContext(t)

	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := sup.Create(ctx, CreateRequest{Name: name})
		require.NoError(t, err)
	}
	for _, name := range []string{"a", "b", "c"} {
		_, err := sup.Start(ctx, name)
		require.NoError(t, err)
	}

	require.NoError(t, sup.StopAll(ctx))
	assert.Len(t, launcher.killed, 6)

	all, err := store.List(ctx)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		assert.False(t, all[name].Running(), name)
		assert.Equal(t, types.StatusStopped, all[name].Status, name)
	}
	assert.Equal(t, types.StatusCreated, all["d"].Status, "agents without processes are left alone")
}

func TestExpandArgs(t *testing.T) {
	got := ExpandArgs([]string{"rasa", "run", "-p", "{port}", "--url=http://x:{port}/"}, 5005)
	assert.Equal(t, []string{"rasa", "run", "-p", "5005", "--url=http://x:5005/"}, got)
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := OptionsFrom(cfg.Supervisor)
	assert.Equal(t, cfg.Supervisor.DialoguePortBase, opts.DialoguePortBase)
	assert.Equal(t, cfg.Supervisor.Training.Timeout, opts.TrainTimeout)
	assert.Equal(t, cfg.Supervisor.Readiness.Timeout, opts.ReadinessTimeout)
}
