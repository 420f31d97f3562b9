package recovery

import "strings"

// FailureType is the fixed classification taxonomy for failed attempts.
type FailureType string

const (
	FailureBrokenBuild        FailureType = "broken_build"
	FailureVerificationFailed FailureType = "verification_failed"
	FailureCircularFix        FailureType = "circular_fix"
	FailureContextExhausted   FailureType = "context_exhausted"
	FailureRateLimited        FailureType = "rate_limited"
	FailureAuthFailure        FailureType = "auth_failure"
	FailureUnknown            FailureType = "unknown"
)

// Classification is a deterministic, ordered keyword match. Provider
// conditions (rate limit, auth, context) are matched first because their
// indicators are the most distinctive; build-syntax indicators are matched
// before generic verification indicators so a compile error inside test
// output classifies as broken_build, not verification_failed.
var classifyOrder = []struct {
	failure  FailureType
	keywords []string
}{
	{FailureRateLimited, []string{
		"rate limit", "rate_limit", "429", "too many requests",
		"overloaded", "usage limit", "quota exceeded",
	}},
	{FailureAuthFailure, []string{
		"auth", "401", "unauthorized", "forbidden", "api key",
		"credential", "token expired", "please run /login",
	}},
	{FailureContextExhausted, []string{
		"context length", "context window", "token limit",
		"prompt is too long", "context_length_exceeded",
		"maximum context", "context low",
	}},
	{FailureBrokenBuild, []string{
		"syntax error", "syntaxerror", "compilation failed",
		"compile error", "build failed", "cannot find module",
		"undefined reference", "parse error", "import error",
		"importerror", "undeclared",
	}},
	{FailureVerificationFailed, []string{
		"test failed", "tests failed", "assertion", "verification failed",
		"expected", "failing test", "lint", "type error",
	}},
}

// Classify maps raw error text onto the failure taxonomy.
func Classify(errorText string) FailureType {
	text := strings.ToLower(errorText)
	if strings.TrimSpace(text) == "" {
		return FailureUnknown
	}
	for _, c := range classifyOrder {
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return c.failure
			}
		}
	}
	return FailureUnknown
}
