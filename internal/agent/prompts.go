package agent

import (
	"fmt"
	"strings"

	"github.com/harrison/foreman/internal/models"
	"github.com/harrison/foreman/internal/planstore"
)

// DefaultPrompts returns the stock prompt callback used by the CLI. The
// engine supplies role and context; everything here is phrasing.
func DefaultPrompts(buildDir string) func(role string, pc models.PhaseContext) string {
	planPath := planstore.NewStore(buildDir).Path()
	return func(role string, pc models.PhaseContext) string {
		var sb strings.Builder
		switch role {
		case models.RolePlanner:
			fmt.Fprintf(&sb, "Create an implementation plan for this build and write it as JSON to %s.\n", planPath)
			sb.WriteString("The plan must contain a \"phases\" array; each phase needs an id, a name, and a \"subtasks\" array.\n")
			sb.WriteString("Each subtask needs an id, a description, and status \"pending\".\n")
		case models.RoleCoder:
			if pc.Subtask != nil {
				fmt.Fprintf(&sb, "Implement subtask %s: %s\n", pc.Subtask.ID, pc.Subtask.Description)
				for _, f := range pc.Subtask.FilesToCreate {
					fmt.Fprintf(&sb, "Create: %s\n", f)
				}
				for _, f := range pc.Subtask.FilesToModify {
					fmt.Fprintf(&sb, "Modify: %s\n", f)
				}
			}
			fmt.Fprintf(&sb, "When done, set the subtask's status to \"completed\" in %s.\n", planPath)
		case models.RoleReviewer:
			fmt.Fprintf(&sb, "Review the implementation against the plan in %s.\n", planPath)
			sb.WriteString("Record your verdict in the plan's qa_signoff: status \"approved\", or ")
			sb.WriteString("\"rejected\" with a list of issues (each with a title).\n")
		case models.RoleFixer:
			sb.WriteString("Fix the following review issues:\n")
			for _, issue := range pc.QAIssues {
				fmt.Fprintf(&sb, "- %s", issue.Title)
				if issue.Detail != "" {
					fmt.Fprintf(&sb, ": %s", issue.Detail)
				}
				sb.WriteString("\n")
			}
		}
		if pc.Attempt > 1 {
			fmt.Fprintf(&sb, "\nThis is attempt %d.\n", pc.Attempt)
		}
		if pc.PreviousError != "" {
			fmt.Fprintf(&sb, "\nThe previous attempt failed with:\n%s\n", pc.PreviousError)
		}
		if pc.Feedback != "" {
			fmt.Fprintf(&sb, "\nAdditional guidance:\n%s\n", pc.Feedback)
		}
		return sb.String()
	}
}
