// Package engine evaluates audio submission policy with OPA Rego.
package engine

import "context"

// AudioRequest is the policy input describing a submitted audio reference.
type AudioRequest struct {
	UserID string
	URL    string
	Scheme string
	Host   string
}

// Decision is the result of a policy evaluation. Reasons is empty when Allowed is true.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Evaluator decides whether an audio reference may be submitted.
type Evaluator interface {
	EvaluateSubmission(ctx context.Context, req AudioRequest) (Decision, error)
}
