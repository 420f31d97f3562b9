// Package feedback reads the human-feedback marker file that an operator
// drops into a build directory to steer the next fix pass. The marker is
// markdown; headings and list items become structured input for the fixer
// prompt instead of raw text.
package feedback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkerFileName is the externally-authored feedback marker. Its presence
// triggers one fixer pass before the QA loop starts.
const MarkerFileName = "human_feedback.md"

// Feedback is the parsed marker content.
type Feedback struct {
	Title string   // first heading, if any
	Items []string // list items, in document order
	Raw   string   // full marker text
}

// Load parses the marker under dir. Returns (nil, nil) when no marker
// exists.
func Load(dir string) (*Feedback, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read feedback marker: %w", err)
	}
	fb, err := parse(data)
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// Clear removes the marker after the feedback has been acted on.
func Clear(dir string) error {
	err := os.Remove(filepath.Join(dir, MarkerFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear feedback marker: %w", err)
	}
	return nil
}

func parse(source []byte) (*Feedback, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	fb := &Feedback{Raw: string(source)}
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if fb.Title == "" {
				fb.Title = nodeText(node, source)
			}
		case *ast.ListItem:
			if item := nodeText(node, source); item != "" {
				fb.Items = append(fb.Items, item)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse feedback marker: %w", err)
	}
	return fb, nil
}

// nodeText collects the plain text under a node.
func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
