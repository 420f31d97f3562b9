package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/foreman/internal/feedback"
	"github.com/harrison/foreman/internal/models"
)

// QA loop bounds. The hard iteration ceiling is a backstop; the two early
// escalation triggers below normally fire first.
const (
	DefaultMaxQAIterations  = 50
	MaxConsecutiveErrors    = 3
	RecurringIssueThreshold = 3
)

// QA terminal reasons.
const (
	QAReasonApproved          = "approved"
	QAReasonRecurringIssues   = "recurring_issues"
	QAReasonConsecutiveErrors = "consecutive_errors"
	QAReasonMaxIterations     = "max_iterations"
	QAReasonCancelled         = "cancelled"
)

// QAOptions tunes one QA loop run. Zero values take the defaults above.
type QAOptions struct {
	MaxIterations        int
	MaxConsecutiveErrors int
	RecurringThreshold   int
}

func (q *QAOptions) fill() {
	if q.MaxIterations <= 0 {
		q.MaxIterations = DefaultMaxQAIterations
	}
	if q.MaxConsecutiveErrors <= 0 {
		q.MaxConsecutiveErrors = MaxConsecutiveErrors
	}
	if q.RecurringThreshold <= 0 {
		q.RecurringThreshold = RecurringIssueThreshold
	}
}

// RunQA drives the bounded review/fix cycle on top of a completed plan.
// Reviewer and fixer alternate inside the same iteration ceiling. All
// terminal paths are folded into the result; report writing is best
// effort and never fails the loop.
func (o *Orchestrator) RunQA(ctx context.Context, opts QAOptions) *models.QAResult {
	opts.fill()
	result := &models.QAResult{}
	var lastIssues []models.QAIssue
	defer func() { o.writeQAReports(result, lastIssues) }()

	// Operator feedback waiting in the mailbox gets one fixer pass before
	// any review.
	if done := o.runFeedbackPrePass(ctx); done == models.OutcomeCancelled {
		result.Reason = QAReasonCancelled
		return result
	}

	consecutiveErrors := 0
	corrective := ""

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			result.Reason = QAReasonCancelled
			return result
		}
		result.TotalIterations = iter

		if err := o.store.UpdateQASignoff(func(s *models.QASignoff) {
			s.Status = models.QAInReview
			s.Session++
			s.Timestamp = models.Timestamp(time.Now())
		}); err != nil {
			result.Reason = QAReasonConsecutiveErrors
			result.Error = err.Error()
			return result
		}

		started := time.Now()
		res := o.runUnit(ctx, models.WorkRequest{
			Role:    models.RoleReviewer,
			Attempt: iter,
			Prompt:  o.prompts(models.RoleReviewer, models.PhaseContext{Attempt: iter, Feedback: corrective}),
		})
		if res.Outcome == models.OutcomeCancelled {
			result.Reason = QAReasonCancelled
			return result
		}

		verdict, issues := o.readVerdict()
		lastIssues = issues
		o.obs.QAVerdict(iter, verdict)
		o.log.Infof("qa iteration %d: %s (%d issues)", iter, verdict, len(issues))

		o.appendQAIteration(iter, verdict, issues, time.Since(started))

		switch verdict {
		case "approved":
			result.Approved = true
			result.Reason = QAReasonApproved
			return result

		case "rejected":
			consecutiveErrors = 0
			corrective = ""
			if title, n := o.recurringIssue(opts.RecurringThreshold); title != "" {
				o.log.Warnf("issue %q has recurred %d times, escalating", title, n)
				result.Reason = QAReasonRecurringIssues
				result.Error = fmt.Sprintf("issue %q recurred %d times", title, n)
				return result
			}
			if iter == opts.MaxIterations {
				break
			}
			outcome := o.runFixer(ctx, models.PhaseContext{QAIssues: issues})
			if outcome == models.OutcomeCancelled {
				result.Reason = QAReasonCancelled
				return result
			}

		default:
			consecutiveErrors++
			if consecutiveErrors >= opts.MaxConsecutiveErrors {
				result.Reason = QAReasonConsecutiveErrors
				result.Error = fmt.Sprintf("%d consecutive reviews produced no parseable verdict", consecutiveErrors)
				return result
			}
			corrective = "The previous review session did not record a verdict. " +
				"You must set qa_signoff.status to \"approved\" or \"rejected\" in the plan, " +
				"listing concrete issues when rejecting."
		}
	}

	result.Reason = QAReasonMaxIterations
	return result
}

// runFeedbackPrePass runs one fixer pass against an operator-authored
// feedback marker, clearing the marker only when the fix pass succeeded.
func (o *Orchestrator) runFeedbackPrePass(ctx context.Context) models.Outcome {
	fb, err := feedback.Load(o.buildDir)
	if err != nil {
		o.log.Warnf("unreadable feedback marker: %v", err)
		return models.OutcomeError
	}
	if fb == nil {
		return models.OutcomeCompleted
	}

	o.log.Infof("human feedback present (%d items), running fix pass first", len(fb.Items))
	issues := make([]models.QAIssue, 0, len(fb.Items))
	for _, item := range fb.Items {
		issues = append(issues, models.QAIssue{Title: item})
	}
	outcome := o.runFixer(ctx, models.PhaseContext{Feedback: fb.Raw, QAIssues: issues})
	switch outcome {
	case models.OutcomeCompleted, models.OutcomeMaxSteps:
		if err := feedback.Clear(o.buildDir); err != nil {
			o.log.Warnf("failed to clear feedback marker: %v", err)
		}
	default:
		// Transient or failed outcome: the marker stays for the next run.
	}
	return outcome
}

// runFixer runs one fixer unit of work, flipping the phase machine
// through qa_fixing and back.
func (o *Orchestrator) runFixer(ctx context.Context, pc models.PhaseContext) models.Outcome {
	o.machine.Transition(PhaseQAFixing)
	res := o.runUnit(ctx, models.WorkRequest{
		Role:   models.RoleFixer,
		Prompt: o.prompts(models.RoleFixer, pc),
	})
	if res.Outcome != models.OutcomeCancelled {
		if err := o.store.UpdateQASignoff(func(s *models.QASignoff) {
			s.Status = models.QAFixesApplied
			s.Timestamp = models.Timestamp(time.Now())
		}); err != nil {
			o.log.Warnf("failed to record fixes_applied: %v", err)
		}
	}
	o.machine.Transition(PhaseQAReview)
	return res.Outcome
}

// readVerdict reloads the plan and resolves the reviewer's signoff into
// approved, rejected, or unknown.
func (o *Orchestrator) readVerdict() (string, []models.QAIssue) {
	plan, err := o.store.Load()
	if err != nil {
		o.log.Warnf("failed to reload plan after review: %v", err)
		return "unknown", nil
	}
	s := plan.QASignoff
	if s == nil {
		return "unknown", nil
	}
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case models.QAApproved, "passed":
		return "approved", s.Issues
	case models.QARejected, "failed":
		return "rejected", s.Issues
	}
	if len(s.Issues) > 0 {
		return "rejected", s.Issues
	}
	return "unknown", s.Issues
}

// appendQAIteration adds one record to the plan's audit log. The log is
// used only for recurrence heuristics, never for replay.
func (o *Orchestrator) appendQAIteration(iter int, verdict string, issues []models.QAIssue, dur time.Duration) {
	outcome := verdict
	if outcome != "approved" && outcome != "rejected" {
		outcome = "error"
	}
	err := o.store.AppendQAIteration(models.QAIteration{
		Iteration: iter,
		Outcome:   outcome,
		Issues:    issues,
		Duration:  dur.Round(time.Millisecond).String(),
		Timestamp: models.Timestamp(time.Now()),
	})
	if err != nil {
		o.log.Warnf("failed to append qa iteration record: %v", err)
	}
}

// recurringIssue scans the plan's full audit log for an issue title that
// has appeared at or beyond the threshold, current occurrence included.
func (o *Orchestrator) recurringIssue(threshold int) (string, int) {
	plan, err := o.store.Load()
	if err != nil {
		return "", 0
	}
	counts := make(map[string]int)
	titles := make(map[string]string)
	for _, rec := range plan.QAIterationHistory {
		for _, issue := range rec.Issues {
			key := normalizeTitle(issue.Title)
			if key == "" {
				continue
			}
			counts[key]++
			titles[key] = issue.Title
			if counts[key] >= threshold {
				return titles[key], counts[key]
			}
		}
	}
	return "", 0
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// writeQAReports writes the summary report and manual test plan. Failures
// are swallowed: reporting must never change the loop's outcome.
func (o *Orchestrator) writeQAReports(result *models.QAResult, issues []models.QAIssue) {
	var sb strings.Builder
	sb.WriteString("# QA Report\n\n")
	fmt.Fprintf(&sb, "- Approved: %v\n", result.Approved)
	fmt.Fprintf(&sb, "- Iterations: %d\n", result.TotalIterations)
	fmt.Fprintf(&sb, "- Reason: %s\n", result.Reason)
	if result.Error != "" {
		fmt.Fprintf(&sb, "- Detail: %s\n", result.Error)
	}
	if len(issues) > 0 {
		sb.WriteString("\n## Outstanding issues\n\n")
		for _, issue := range issues {
			fmt.Fprintf(&sb, "- %s", issue.Title)
			if issue.Severity != "" {
				fmt.Fprintf(&sb, " (%s)", issue.Severity)
			}
			sb.WriteString("\n")
		}
	}
	if err := os.WriteFile(filepath.Join(o.buildDir, "qa_report.md"), []byte(sb.String()), 0o644); err != nil {
		o.log.Warnf("failed to write qa report: %v", err)
	}

	var tp strings.Builder
	tp.WriteString("# Manual Test Plan\n\n")
	tp.WriteString("Verify the build by exercising each implemented subtask:\n\n")
	if plan, err := o.store.Load(); err == nil {
		for _, ph := range plan.Phases {
			fmt.Fprintf(&tp, "## %s\n\n", ph.Name)
			for _, st := range ph.Subtasks {
				fmt.Fprintf(&tp, "- [ ] %s (%s)\n", st.Description, st.Status)
			}
			tp.WriteString("\n")
		}
	}
	if err := os.WriteFile(filepath.Join(o.buildDir, "manual_test_plan.md"), []byte(tp.String()), 0o644); err != nil {
		o.log.Warnf("failed to write manual test plan: %v", err)
	}
}
