// Package supervisor manages the lifecycle of agent processes: creation,
// background training, start with readiness probing, stop by process-group
// kill, and startup reconciliation of stale PIDs.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/registry"
	"github.com/BaSui01/agentrelay/types"
)

// errUnchanged aborts a registry update that has nothing to write.
var errUnchanged = errors.New("unchanged")

// Observer receives lifecycle outcomes, e.g. a metrics collector.
type Observer interface {
	ObserveLifecycle(operation, outcome string)
	ObserveTraining(outcome string, duration time.Duration)
}

// Options configures a Supervisor.
type Options struct {
	AgentsDir         string
	DialoguePortBase  int
	LogicPortBase     int
	Commands          config.CommandsConfig
	TrainTimeout      time.Duration
	StopConcurrency   int
	ReadinessTimeout  time.Duration
	ReadinessInterval time.Duration
}

// OptionsFrom converts the supervisor section of the configuration.
func OptionsFrom(cfg config.SupervisorConfig) Options {
	return Options{
		AgentsDir:         cfg.AgentsDir,
		DialoguePortBase:  cfg.DialoguePortBase,
		LogicPortBase:     cfg.LogicPortBase,
		Commands:          cfg.Commands,
		TrainTimeout:      cfg.Training.Timeout,
		StopConcurrency:   cfg.StopConcurrency,
		ReadinessTimeout:  cfg.Readiness.Timeout,
		ReadinessInterval: cfg.Readiness.Interval,
	}
}

// CreateRequest describes a new agent. Zero ports and an empty path are
// filled with defaults.
type CreateRequest struct {
	Name         string `json:"name"`
	Path         string `json:"path,omitempty"`
	DialoguePort int    `json:"dialoguePort,omitempty"`
	LogicPort    int    `json:"logicPort,omitempty"`
}

// StartResult reports the PIDs after Start.
type StartResult struct {
	DialoguePID *int              `json:"dialoguePID"`
	LogicPID    *int              `json:"logicPID"`
	Status      types.AgentStatus `json:"status"`
	// Ready is false when the logic server did not accept connections in time.
	Ready bool `json:"ready"`
}

// StopResult reports what Stop signalled.
type StopResult struct {
	OK     bool  `json:"ok"`
	Killed []int `json:"killed,omitempty"`
}

// ReconcileReport summarizes a Reconcile pass.
type ReconcileReport struct {
	Checked int      `json:"checked"`
	Cleared int      `json:"cleared"`
	Stopped []string `json:"stopped,omitempty"`
}

// trainRun is one in-flight training command shared by coalesced callers.
type trainRun struct {
	done chan struct{}
	err  error
}

// TrainHandle tracks a background training run.
type TrainHandle struct {
	Agent string
	// Coalesced is true when the call joined a run already in flight.
	Coalesced bool
	run       *trainRun
}

// Done is closed when the training run finishes.
func (h *TrainHandle) Done() <-chan struct{} { return h.run.done }

// Err returns the outcome of the run. Only valid after Done is closed.
func (h *TrainHandle) Err() error {
	select {
	case <-h.run.done:
		return h.run.err
	default:
		return nil
	}
}

// Supervisor owns agent processes and their registry state.
type Supervisor struct {
	store    registry.Store
	launcher Launcher
	prober   Prober
	opts     Options
	observer Observer
	logger   *zap.Logger

	createMu sync.Mutex

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	trainMu  sync.Mutex
	training map[string]*trainRun
	trainWG  sync.WaitGroup

	// abortCtx 在 Wait 超时后取消，中止仍在进行的训练
	abortCtx context.Context
	abort    context.CancelFunc
}

// New creates a Supervisor.
func New(store registry.Store, launcher Launcher, prober Prober, opts Options, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StopConcurrency <= 0 {
		opts.StopConcurrency = 4
	}
	abortCtx, abort := context.WithCancel(context.Background())
	return &Supervisor{
		abortCtx: abortCtx,
		abort:    abort,
		store:    store,
		launcher: launcher,
		prober:   prober,
		opts:     opts,
		logger:   logger.With(zap.String("component", "supervisor")),
		locks:    make(map[string]*sync.Mutex),
		training: make(map[string]*trainRun),
	}
}

// WithObserver attaches an observer.
func (s *Supervisor) WithObserver(o Observer) *Supervisor {
	s.observer = o
	return s
}

// =============================================================================
// 📝 Create
// =============================================================================

// Create registers a new agent in status created.
func (s *Supervisor) Create(ctx context.Context, req CreateRequest) (*types.AgentRecord, error) {
	if err := types.ValidateAgentName(req.Name); err != nil {
		return nil, err
	}
	for _, p := range []int{req.DialoguePort, req.LogicPort} {
		if p != 0 {
			if err := types.ValidatePort(p); err != nil {
				return nil, err
			}
		}
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	existing, err := s.store.List(ctx)
	if err != nil {
		return nil, registry.ToError(req.Name, err)
	}
	if _, ok := existing[req.Name]; ok {
		s.observe("create", "exists")
		return nil, registry.ToError(req.Name, registry.ErrAlreadyExists)
	}

	dialogue, logic := allocatePorts(existing, s.opts.DialoguePortBase, s.opts.LogicPortBase, req.DialoguePort, req.LogicPort)
	for _, p := range []int{dialogue, logic} {
		if err := types.ValidatePort(p); err != nil {
			return nil, err
		}
	}

	path := req.Path
	if path == "" {
		path = filepath.Join(s.opts.AgentsDir, req.Name)
	}
	rec := &types.AgentRecord{
		Name:         req.Name,
		Path:         path,
		DialoguePort: dialogue,
		LogicPort:    logic,
		Status:       types.StatusCreated,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.observe("create", "error")
		return nil, registry.ToError(req.Name, err)
	}

	s.observe("create", "success")
	s.logger.Info("agent created",
		zap.String("agent", rec.Name),
		zap.Int("dialogue_port", dialogue),
		zap.Int("logic_port", logic),
	)
	return rec.Clone(), nil
}

// =============================================================================
// 🎓 Train
// =============================================================================

// Train sets the agent to training and runs the training command in the
// background. A call while a run is in flight joins that run.
func (s *Supervisor) Train(ctx context.Context, name string) (*TrainHandle, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	if run, ok := s.training[name]; ok {
		s.observe("train", "coalesced")
		return &TrainHandle{Agent: name, Coalesced: true, run: run}, nil
	}

	rec, err := s.store.Update(ctx, name, func(rec *types.AgentRecord) error {
		rec.Status = types.StatusTraining
		return nil
	})
	if err != nil {
		s.observe("train", "error")
		return nil, registry.ToError(name, err)
	}

	run := &trainRun{done: make(chan struct{})}
	s.training[name] = run
	s.trainWG.Add(1)
	go s.runTraining(context.WithoutCancel(ctx), name, rec.Path, run)

	s.observe("train", "started")
	return &TrainHandle{Agent: name, run: run}, nil
}

func (s *Supervisor) runTraining(ctx context.Context, name, dir string, run *trainRun) {
	defer s.trainWG.Done()

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAbort := context.AfterFunc(s.abortCtx, cancel)
	defer stopAbort()
	if s.opts.TrainTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, s.opts.TrainTimeout)
		defer cancelTimeout()
	}

	trainErr := s.launcher.Run(runCtx, CommandSpec{Args: s.opts.Commands.Train, Dir: dir})

	status := types.StatusTrained
	outcome := "success"
	if trainErr != nil {
		status = types.TrainErrorStatus(oneLine(trainErr.Error()))
		outcome = "error"
		switch {
		case errors.Is(trainErr, context.DeadlineExceeded):
			outcome = "timeout"
		case errors.Is(trainErr, context.Canceled):
			outcome = "aborted"
		}
	}

	if _, err := s.store.Update(ctx, name, func(rec *types.AgentRecord) error {
		rec.Status = status
		return nil
	}); err != nil {
		s.logger.Error("failed to persist training result", zap.String("agent", name), zap.Error(err))
	}

	elapsed := time.Since(start)
	if s.observer != nil {
		s.observer.ObserveTraining(outcome, elapsed)
	}
	if trainErr != nil {
		s.logger.Warn("training failed", zap.String("agent", name), zap.Duration("duration", elapsed), zap.Error(trainErr))
	} else {
		s.logger.Info("training finished", zap.String("agent", name), zap.Duration("duration", elapsed))
	}

	s.trainMu.Lock()
	run.err = trainErr
	delete(s.training, name)
	s.trainMu.Unlock()
	close(run.done)
}

// Wait blocks until all in-flight training runs finish. If ctx ends first,
// the remaining runs are cancelled and ctx.Err() is returned; their agents
// end up in train_error.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.trainWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.abort()
		s.logger.Warn("training still in flight at shutdown, aborting", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// =============================================================================
// ▶️ Start / Stop
// =============================================================================

// Start spawns whichever of the logic and dialogue servers has no PID.
func (s *Supervisor) Start(ctx context.Context, name string) (*StartResult, error) {
	rec, unlock, err := s.lockAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ready := true
	if rec.LogicPID == nil {
		pid, err := s.spawn(ctx, rec, roleLogic)
		if err != nil {
			s.observe("start", "error")
			return nil, err
		}
		s.logger.Info("logic server spawned", zap.String("agent", name), zap.Int("pid", pid))

		if s.prober != nil {
			if err := s.prober.Ready(ctx, rec.LogicPort); err != nil {
				ready = false
				s.logger.Warn("logic server not ready, starting dialogue anyway",
					zap.String("agent", name),
					zap.Int("port", rec.LogicPort),
					zap.Error(err),
				)
			}
		}
	}

	if rec.DialoguePID == nil {
		pid, err := s.spawn(ctx, rec, roleDialogue)
		if err != nil {
			s.observe("start", "error")
			return nil, err
		}
		s.logger.Info("dialogue server spawned", zap.String("agent", name), zap.Int("pid", pid))
	}

	final, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, registry.ToError(name, err)
	}
	s.observe("start", "success")
	return &StartResult{
		DialoguePID: final.DialoguePID,
		LogicPID:    final.LogicPID,
		Status:      final.Status,
		Ready:       ready,
	}, nil
}

type role int

const (
	roleLogic role = iota
	roleDialogue
)

func (r role) String() string {
	if r == roleLogic {
		return "logic"
	}
	return "dialogue"
}

// spawn starts one server, records its PID, and attaches a reaper.
func (s *Supervisor) spawn(ctx context.Context, rec *types.AgentRecord, r role) (int, error) {
	template, port := s.opts.Commands.Logic, rec.LogicPort
	if r == roleDialogue {
		template, port = s.opts.Commands.Dialogue, rec.DialoguePort
	}

	proc, err := s.launcher.Start(CommandSpec{Args: ExpandArgs(template, port), Dir: rec.Path})
	if err != nil {
		return 0, types.NewError(types.ErrSpawnFailed, fmt.Sprintf("failed to start %s server", r)).
			WithAgent(rec.Name).
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	pid := proc.Pid()

	_, err = s.store.Update(ctx, rec.Name, func(cur *types.AgentRecord) error {
		if r == roleLogic {
			cur.LogicPID = types.PID(pid)
		} else {
			cur.DialoguePID = types.PID(pid)
			cur.Status = types.StatusRunning
		}
		return nil
	})
	if err != nil {
		_ = s.launcher.Kill(pid)
		go func() { _ = proc.Wait() }()
		return 0, registry.ToError(rec.Name, err)
	}

	go s.reap(rec.Name, r, proc)
	return pid, nil
}

// reap waits for a child and clears its PID if the record still holds it.
// A running agent left with no process becomes stopped.
func (s *Supervisor) reap(name string, r role, proc Process) {
	pid := proc.Pid()
	waitErr := proc.Wait()

	_, err := s.store.Update(context.Background(), name, func(rec *types.AgentRecord) error {
		field := &rec.LogicPID
		if r == roleDialogue {
			field = &rec.DialoguePID
		}
		if *field == nil || **field != pid {
			return errUnchanged
		}
		*field = nil
		if !rec.Running() && rec.Status.Base() == types.StatusRunning {
			rec.Status = types.StatusStopped
		}
		return nil
	})
	switch {
	case err == nil:
		s.logger.Info("agent process exited",
			zap.String("agent", name),
			zap.Stringer("role", r),
			zap.Int("pid", pid),
			zap.NamedError("exit", waitErr),
		)
	case !errors.Is(err, errUnchanged):
		s.logger.Warn("failed to clear exited pid", zap.String("agent", name), zap.Int("pid", pid), zap.Error(err))
	}
}

// Stop kills both process groups and marks the agent stopped.
func (s *Supervisor) Stop(ctx context.Context, name string) (*StopResult, error) {
	rec, unlock, err := s.lockAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &StopResult{OK: true}
	for _, pid := range []*int{rec.DialoguePID, rec.LogicPID} {
		if pid == nil {
			continue
		}
		if err := s.launcher.Kill(*pid); err != nil {
			s.logger.Debug("kill failed, treating process as gone", zap.String("agent", name), zap.Int("pid", *pid), zap.Error(err))
			continue
		}
		result.Killed = append(result.Killed, *pid)
	}

	if _, err := s.store.Update(ctx, name, func(rec *types.AgentRecord) error {
		rec.DialoguePID = nil
		rec.LogicPID = nil
		rec.Status = types.StatusStopped
		return nil
	}); err != nil {
		s.observe("stop", "error")
		return nil, registry.ToError(name, err)
	}

	s.observe("stop", "success")
	s.logger.Info("agent stopped", zap.String("agent", name), zap.Ints("killed", result.Killed))
	return result, nil
}

// =============================================================================
// 🔄 Reconcile / StopAll
// =============================================================================

// Reconcile clears PIDs whose process is gone. A running agent with no
// surviving process becomes stopped.
func (s *Supervisor) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	report := &ReconcileReport{}
	dead := func(p *int) bool { return p != nil && !s.launcher.Alive(*p) }
	for name, rec := range all {
		orphaned := !rec.Running() && rec.Status.Base() == types.StatusRunning
		if !rec.Running() && !orphaned {
			continue
		}
		report.Checked++

		if !orphaned && !dead(rec.DialoguePID) && !dead(rec.LogicPID) {
			continue
		}

		var cleared int
		updated, err := s.store.Update(ctx, name, func(cur *types.AgentRecord) error {
			cleared = 0
			if dead(cur.DialoguePID) {
				cur.DialoguePID = nil
				cleared++
			}
			if dead(cur.LogicPID) {
				cur.LogicPID = nil
				cleared++
			}
			if !cur.Running() && cur.Status.Base() == types.StatusRunning {
				cur.Status = types.StatusStopped
				return nil
			}
			if cleared == 0 {
				return errUnchanged
			}
			return nil
		})
		if errors.Is(err, errUnchanged) {
			continue
		}
		if err != nil {
			return report, fmt.Errorf("reconcile %s: %w", name, err)
		}
		report.Cleared += cleared
		if updated.Status == types.StatusStopped && rec.Status.Base() == types.StatusRunning {
			report.Stopped = append(report.Stopped, name)
		}
	}

	s.logger.Info("registry reconciled",
		zap.Int("checked", report.Checked),
		zap.Int("cleared", report.Cleared),
		zap.Strings("stopped", report.Stopped),
	)
	return report, nil
}

// StopAll stops every agent with a recorded PID, a bounded number at a time.
func (s *Supervisor) StopAll(ctx context.Context) error {
	all, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.StopConcurrency)
	for name, rec := range all {
		if !rec.Running() {
			continue
		}
		g.Go(func() error {
			_, err := s.Stop(gctx, name)
			return err
		})
	}
	return g.Wait()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// lockAgent 仅为已注册的 agent 分配互斥锁，返回加锁后重新读取的记录
func (s *Supervisor) lockAgent(ctx context.Context, name string) (*types.AgentRecord, func(), error) {
	if _, err := s.store.Get(ctx, name); err != nil {
		return nil, nil, registry.ToError(name, err)
	}

	s.locksMu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	rec, err := s.store.Get(ctx, name)
	if err != nil {
		l.Unlock()
		return nil, nil, registry.ToError(name, err)
	}
	return rec, l.Unlock, nil
}

func (s *Supervisor) observe(operation, outcome string) {
	if s.observer != nil {
		s.observer.ObserveLifecycle(operation, outcome)
	}
}
