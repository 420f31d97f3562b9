// Package executor drives one build's pipeline: planning, the work
// iteration loop over plan subtasks, and the QA review/fix cycle. It is a
// library; the agent runtime that executes each unit of work and the
// prompt phrasing are collaborators supplied by the caller.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/foreman/internal/config"
	"github.com/harrison/foreman/internal/filelock"
	"github.com/harrison/foreman/internal/insights"
	"github.com/harrison/foreman/internal/logger"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/pause"
	"github.com/harrison/foreman/internal/planstore"
	"github.com/harrison/foreman/internal/recovery"
)

// MaxPlanningValidationRetries bounds re-planning after a generated plan
// fails shape validation.
const MaxPlanningValidationRetries = 3

// AgentRunner executes one unit of work and returns its discriminated
// outcome. The engine never interprets why beyond the discriminant and
// the attached error.
type AgentRunner interface {
	Run(ctx context.Context, req models.WorkRequest) (*models.WorkResult, error)
}

// PromptFunc renders the prompt for an agent role. The engine supplies
// retry and error context; the callback owns phrasing.
type PromptFunc func(role string, pc models.PhaseContext) string

// Options are the optional collaborators of an Orchestrator.
type Options struct {
	Logger   logger.Logger
	Observer Observer
	Insights *insights.Store

	// WorkDir is the directory the agent executor runs in when it is an
	// isolated working copy. The pause mailbox polls both it and the
	// build directory. Empty means the build directory.
	WorkDir string
}

// Orchestrator drives one spec's build pipeline to a terminal phase.
// Single-threaded cooperative execution: one instance, one build, no
// internal subtask parallelism.
type Orchestrator struct {
	buildDir string
	cfg      *config.Config
	runner   AgentRunner
	prompts  PromptFunc

	store    *planstore.Store
	rec      *recovery.Manager
	sig      *pause.Signaler
	machine  *Machine
	guard    *filelock.Guard
	log      logger.Logger
	obs      Observer
	insights *insights.Store

	buildID     string
	iterations  int
	attempts    map[string]int
	stuck       map[string]bool
	lastError   map[string]string
	lastSubtask string
}

var errCancelled = errors.New("build cancelled")

// New creates an orchestrator for the given build directory.
func New(buildDir string, cfg *config.Config, runner AgentRunner, prompts PromptFunc, opts *Options) (*Orchestrator, error) {
	if runner == nil {
		panic("agent runner cannot be nil")
	}
	if prompts == nil {
		panic("prompt callback cannot be nil")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop{}
	}
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	rec, err := recovery.NewManager(buildDir)
	if err != nil {
		return nil, err
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = buildDir
	}
	sig := pause.NewSignaler(workDir, buildDir)
	sig.PollInterval = cfg.PollInterval
	sig.RateLimitCeiling = cfg.RateLimitCeiling
	sig.AuthCeiling = cfg.AuthCeiling

	o := &Orchestrator{
		buildDir:  buildDir,
		cfg:       cfg,
		runner:    runner,
		prompts:   prompts,
		store:     planstore.NewStore(buildDir),
		rec:       rec,
		sig:       sig,
		guard:     filelock.NewGuard(buildDir),
		log:       log,
		obs:       obs,
		insights:  opts.Insights,
		attempts:  make(map[string]int),
		stuck:     make(map[string]bool),
		lastError: make(map[string]string),
	}
	o.machine = NewMachine(log, obs)

	// A subtask already stuck in a previous run of this build stays stuck.
	for _, id := range rec.StuckSubtasks() {
		o.stuck[id] = true
	}
	return o, nil
}

// Phase returns the current pipeline phase.
func (o *Orchestrator) Phase() Phase { return o.machine.Current() }

// RunBuild drives the pipeline to a terminal outcome. It never returns a
// raw error: every failure mode is folded into the result.
func (o *Orchestrator) RunBuild(ctx context.Context) *models.BuildResult {
	start := time.Now()
	result := &models.BuildResult{FinalPhase: string(PhaseIdle)}
	defer func() {
		if r := recover(); r != nil {
			o.log.Errorf("build panicked: %v", r)
			o.machine.Transition(PhaseFailed)
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.FinalPhase = string(o.machine.Current())
		result.TotalIterations = o.iterations
		result.Duration = time.Since(start)
	}()

	if err := o.guard.Acquire(); err != nil {
		o.machine.Transition(PhaseFailed)
		result.Error = err.Error()
		return result
	}
	defer o.guard.Release()

	// The checkpoint is read exactly once, here, to decide resume vs
	// fresh start.
	cp, err := recovery.LoadCheckpoint(o.buildDir)
	if err != nil {
		o.log.Warnf("ignoring unreadable checkpoint: %v", err)
	}
	if cp != nil {
		o.buildID = cp.BuildID
		if cp.Complete {
			o.log.Infof("build %s already complete, nothing to do", o.buildID)
			o.machine.Transition(PhasePlanning)
			o.machine.Transition(PhaseCoding)
			o.machine.Transition(PhaseQAReview)
			o.machine.Transition(PhaseComplete)
			result.Success = true
			return result
		}
		o.log.Infof("resuming build %s from phase %s (%d/%d subtasks)",
			o.buildID, cp.Phase, cp.CompletedSubtasks, cp.TotalSubtasks)
	}
	if o.buildID == "" {
		o.buildID = uuid.NewString()
	}

	if err := o.run(ctx); err != nil {
		if errors.Is(err, errCancelled) || errors.Is(err, context.Canceled) {
			o.log.Warnf("build cancelled")
			result.Error = "cancelled"
			return result
		}
		o.log.Errorf("build failed: %v", err)
		o.machine.Transition(PhaseFailed)
		result.Error = err.Error()
		o.saveCheckpoint(false)
		return result
	}

	result.Success = o.machine.Current() == PhaseComplete
	return result
}

// run executes the pipeline body. Any returned error becomes a failed
// terminal phase in RunBuild.
func (o *Orchestrator) run(ctx context.Context) error {
	o.machine.Transition(PhasePlanning)

	if !o.store.Exists() {
		if err := o.runPlanning(ctx); err != nil {
			return err
		}
	}

	plan, err := o.store.Load()
	if err != nil {
		return err
	}
	o.machine.Transition(PhaseCoding)

	if plan.IsComplete() {
		o.log.Infof("plan already fully completed, skipping to done")
		o.machine.Transition(PhaseQAReview)
		o.machine.Transition(PhaseComplete)
		o.saveCheckpoint(true)
		return nil
	}

	summary, err := o.runWorkIteration(ctx)
	if err != nil {
		return err
	}
	o.saveCheckpoint(false)
	if summary.Cancelled {
		return errCancelled
	}

	plan, err = o.store.Load()
	if err != nil {
		return err
	}
	if !plan.IsComplete() {
		return fmt.Errorf("build stalled: %d/%d subtasks completed, stuck: %s",
			summary.CompletedSubtasks, summary.TotalSubtasks,
			strings.Join(summary.StuckSubtasks, ", "))
	}

	o.machine.Transition(PhaseQAReview)
	qa := o.RunQA(ctx, QAOptions{MaxIterations: o.cfg.MaxQACycles})
	if qa.Reason == "cancelled" {
		return errCancelled
	}
	if !qa.Approved {
		return fmt.Errorf("qa did not approve after %d iterations: %s", qa.TotalIterations, qa.Reason)
	}

	o.machine.Transition(PhaseComplete)
	o.saveCheckpoint(true)
	return nil
}

// runPlanning invokes the planning unit of work, then normalizes and
// validates the produced plan, feeding validation errors back into the
// next planning prompt. Exceeding the retry budget fails the build.
func (o *Orchestrator) runPlanning(ctx context.Context) error {
	var lastErr string
	for attempt := 0; attempt <= MaxPlanningValidationRetries; attempt++ {
		req := models.WorkRequest{
			Role:    models.RolePlanner,
			Attempt: attempt + 1,
			Prompt:  o.prompts(models.RolePlanner, models.PhaseContext{Attempt: attempt + 1, PreviousError: lastErr}),
		}
		res := o.runUnit(ctx, req)
		if res.Outcome == models.OutcomeCancelled {
			return errCancelled
		}

		if !o.store.Exists() {
			lastErr = "planning produced no plan document"
			if text := res.ErrorText(); text != "" {
				lastErr = text
			}
			o.log.Warnf("planning attempt %d: %s", attempt+1, lastErr)
			continue
		}

		// Loading runs the self-healing normalization pass (alias field
		// names, defaulted statuses); saving makes the repair durable.
		plan, err := o.store.Load()
		if err != nil {
			lastErr = err.Error()
			o.log.Warnf("planning attempt %d: %s", attempt+1, lastErr)
			continue
		}
		if err := plan.Validate(); err != nil {
			lastErr = err.Error()
			o.log.Warnf("planning attempt %d produced invalid plan: %s", attempt+1, lastErr)
			continue
		}
		if err := o.store.Save(plan); err != nil {
			return err
		}
		total, _ := plan.Counts()
		o.log.Infof("plan validated: %d phases, %d subtasks", len(plan.Phases), total)
		o.saveCheckpoint(false)
		return nil
	}
	return &PlanValidationError{
		Attempts: MaxPlanningValidationRetries + 1,
		Err:      errors.New(lastErr),
	}
}

// runUnit invokes one unit of work, transparently stalling on provider
// failures via the pause mailbox. The returned result never carries a
// rate_limited or auth_failure outcome; those are absorbed by waiting and
// re-invoking. A runner transport error is folded into an error outcome.
func (o *Orchestrator) runUnit(ctx context.Context, req models.WorkRequest) *models.WorkResult {
	for {
		if ctx.Err() != nil {
			return &models.WorkResult{Outcome: models.OutcomeCancelled}
		}
		res, err := o.runner.Run(ctx, req)
		if err != nil {
			return &models.WorkResult{
				Outcome: models.OutcomeError,
				Error:   &models.WorkError{Message: err.Error()},
			}
		}
		if res == nil {
			return &models.WorkResult{
				Outcome: models.OutcomeError,
				Error:   &models.WorkError{Message: "runner returned no result"},
			}
		}

		var kind pause.Kind
		var wait func(context.Context) pause.WaitResult
		switch res.Outcome {
		case models.OutcomeRateLimited:
			kind, wait = pause.KindRateLimit, o.sig.WaitRateLimit
		case models.OutcomeAuthFailure:
			kind, wait = pause.KindAuth, o.sig.WaitAuth
		default:
			return res
		}

		reason := res.ErrorText()
		o.log.Warnf("%s: pausing (%s)", kind, reason)
		o.obs.BuildPaused(string(kind), reason)
		if err := o.sig.WritePause(kind, reason, nil); err != nil {
			o.log.Warnf("failed to write pause descriptor: %v", err)
		}
		how := wait(ctx)
		o.obs.BuildResumed(string(kind), string(how))
		if how == pause.Cancelled {
			return &models.WorkResult{Outcome: models.OutcomeCancelled}
		}
		o.log.Infof("%s wait ended (%s), retrying", kind, how)
	}
}

// saveCheckpoint persists the restart snapshot. Best effort: a checkpoint
// write failure never interrupts the build.
func (o *Orchestrator) saveCheckpoint(complete bool) {
	cp := &models.Checkpoint{
		BuildID:     o.buildID,
		Phase:       string(o.machine.Current()),
		LastSubtask: o.lastSubtask,
		Complete:    complete,
		UpdatedAt:   time.Now(),
	}
	if plan, err := o.store.Load(); err == nil {
		cp.SpecID = plan.SpecID
		cp.TotalSubtasks, cp.CompletedSubtasks = plan.Counts()
	}
	cp.StuckSubtasks = o.rec.StuckSubtasks()
	if err := recovery.SaveCheckpoint(o.buildDir, cp); err != nil {
		o.log.Warnf("failed to save checkpoint: %v", err)
	}
}
