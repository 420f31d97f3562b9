package executor

import (
	"context"
	"time"

	"github.com/harrison/foreman/internal/insights"
	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/recovery"
)

// runWorkIteration is the coding loop: reload the plan, pick the next
// eligible subtask, run it, interpret the outcome, repeat until the plan
// has no eligible subtask left (complete or fully stuck).
//
// Attempt counters live in memory and reset only with the process; the
// stuck set is mirrored into the recovery manager so a restart does not
// retry subtasks that already exhausted their budget.
func (o *Orchestrator) runWorkIteration(ctx context.Context) (*models.IterationSummary, error) {
	summary := &models.IterationSummary{}

	for {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		// Always a fresh read: the agent executor mutates the plan
		// concurrently.
		plan, err := o.store.Load()
		if err != nil {
			return nil, err
		}
		summary.TotalSubtasks, summary.CompletedSubtasks = plan.Counts()

		st := plan.NextEligible(o.stuck)
		if st == nil {
			break
		}

		o.attempts[st.ID]++
		attempt := o.attempts[st.ID]
		if attempt > o.cfg.MaxRetries {
			o.markStuck(st.ID, "retry budget exhausted")
			continue
		}

		o.iterations++
		o.obs.IterationStarted(o.iterations, st.ID)
		o.log.Infof("subtask %s (attempt %d/%d): %s", st.ID, attempt, o.cfg.MaxRetries, st.Description)

		started := time.Now()
		res := o.runUnit(ctx, models.WorkRequest{
			Role:    models.RoleCoder,
			Subtask: st,
			Attempt: attempt,
			Prompt: o.prompts(models.RoleCoder, models.PhaseContext{
				Subtask:       st,
				Attempt:       attempt,
				PreviousError: o.lastError[st.ID],
			}),
		})

		switch res.Outcome {
		case models.OutcomeCancelled:
			summary.Cancelled = true

		case models.OutcomeCompleted, models.OutcomeMaxSteps:
			// The executor is not fully reliable about self-reporting;
			// force the status if the plan still disagrees.
			changed, err := o.store.EnsureCompleted(st.ID, time.Now())
			if err != nil {
				return nil, NewSubtaskError(st.ID, "record completion", err)
			}
			if changed {
				o.log.Debugf("subtask %s: patched status to completed", st.ID)
			}
			o.lastSubtask = st.ID
			delete(o.lastError, st.ID)
			o.obs.SubtaskCompleted(st.ID)
			o.spawnInsight(st, res.Outcome, attempt, time.Since(started))
			o.saveCheckpoint(false)

		default:
			// Plan state untouched: the subtask stays eligible and the
			// next pass increments its attempt counter.
			errText := res.ErrorText()
			o.lastError[st.ID] = errText
			failure, recErr := o.rec.RecordAttempt(st.ID, errText)
			if recErr != nil {
				o.log.Warnf("failed to record attempt for %s: %v", st.ID, recErr)
			}
			decision := o.rec.DetermineRecoveryAction(st.ID, errText, o.cfg.MaxRetries)
			o.log.Warnf("subtask %s failed (%s): %s -> %s (%s)",
				st.ID, failure, truncateForLog(errText), decision.Action, decision.Reason)
			switch decision.Action {
			case recovery.ActionSkip:
				o.markStuck(st.ID, decision.Reason)
			case recovery.ActionEscalate:
				// Escalation needs external action; the subtask is parked
				// so siblings keep making progress.
				o.markStuck(st.ID, decision.Reason)
			}
		}

		if summary.Cancelled {
			break
		}
		if !o.sleep(ctx, o.cfg.IterationDelay) {
			summary.Cancelled = true
			break
		}
	}

	if plan, err := o.store.Load(); err == nil {
		summary.TotalSubtasks, summary.CompletedSubtasks = plan.Counts()
	}
	summary.StuckSubtasks = o.rec.StuckSubtasks()
	summary.Iterations = o.iterations
	return summary, nil
}

// markStuck parks a subtask for the remainder of the build. Stuck status
// is never written into the plan document itself.
func (o *Orchestrator) markStuck(id, reason string) {
	if o.stuck[id] {
		return
	}
	o.stuck[id] = true
	if err := o.rec.MarkStuck(id); err != nil {
		o.log.Warnf("failed to persist stuck marker for %s: %v", id, err)
	}
	o.log.Warnf("subtask %s marked stuck: %s", id, reason)
	o.obs.SubtaskStuck(id, reason)
}

// spawnInsight fires the asynchronous insight side task. It can never
// fail or delay the build.
func (o *Orchestrator) spawnInsight(st *models.Subtask, outcome models.Outcome, attempt int, duration time.Duration) {
	if o.insights == nil {
		return
	}
	rec := &insights.Execution{
		BuildID:      o.buildID,
		SubtaskID:    st.ID,
		Description:  st.Description,
		Outcome:      string(outcome),
		Attempt:      attempt,
		DurationSecs: int64(duration.Seconds()),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.insights.Record(ctx, rec); err != nil {
			o.log.Debugf("insight record for %s dropped: %v", rec.SubtaskID, err)
		}
	}()
}

// sleep waits the inter-iteration delay, returning false on cancellation.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func truncateForLog(s string) string {
	const n = 160
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
