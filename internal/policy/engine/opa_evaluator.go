package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

const decisionQuery = "data.stt.submission.decision"

// DefaultRegoPolicy accepts http(s) URLs with a host outside the blocked list, and s3 references
// when S3 is enabled. Custom policies must define data.stt.submission.decision with the same shape.
const DefaultRegoPolicy = `package stt.submission

allowed_schemes := {"http", "https", "s3"}

deny contains "unsupported audio url scheme" if {
	not allowed_schemes[input.audio.scheme]
}

deny contains "audio url has no host" if {
	input.audio.host == ""
}

deny contains "audio host is blocked" if {
	some blocked in input.blocked_hosts
	input.audio.host == blocked
}

deny contains "s3 audio is not enabled" if {
	input.audio.scheme == "s3"
	not input.s3_enabled
}

decision := {"allow": count(deny) == 0, "deny": deny}
`

// Options configures the submission policy.
type Options struct {
	// PolicyFile replaces DefaultRegoPolicy when set.
	PolicyFile   string
	BlockedHosts []string
	S3Enabled    bool
}

// OPAEvaluator evaluates the submission policy using a prepared Rego query.
type OPAEvaluator struct {
	query        rego.PreparedEvalQuery
	blockedHosts []string
	s3Enabled    bool
}

// NewOPAEvaluator compiles the policy once. Returns an error when the policy file cannot be read or compiled.
func NewOPAEvaluator(ctx context.Context, opts Options) (*OPAEvaluator, error) {
	module := DefaultRegoPolicy
	name := "submission.rego"
	if opts.PolicyFile != "" {
		raw, err := os.ReadFile(opts.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		module = string(raw)
		name = opts.PolicyFile
	}
	query, err := rego.New(
		rego.Query(decisionQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile submission policy: %w", err)
	}
	hosts := make([]string, 0, len(opts.BlockedHosts))
	for _, h := range opts.BlockedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &OPAEvaluator{query: query, blockedHosts: hosts, s3Enabled: opts.S3Enabled}, nil
}

// EvaluateSubmission runs the policy for req. An evaluation error or an undefined decision is
// returned as an error; callers must treat it as a rejection.
func (e *OPAEvaluator) EvaluateSubmission(ctx context.Context, req AudioRequest) (Decision, error) {
	input := map[string]interface{}{
		"audio": map[string]interface{}{
			"url":    req.URL,
			"scheme": strings.ToLower(req.Scheme),
			"host":   strings.ToLower(req.Host),
		},
		"user_id":       req.UserID,
		"blocked_hosts": e.blockedHosts,
		"s3_enabled":    e.s3Enabled,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval submission policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("submission policy returned no decision")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("submission policy decision has type %T", rs[0].Expressions[0].Value)
	}
	out := Decision{}
	out.Allowed, _ = obj["allow"].(bool)
	if reasons, ok := obj["deny"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				out.Reasons = append(out.Reasons, s)
			}
		}
		sort.Strings(out.Reasons)
	}
	return out, nil
}

// HealthCheck evaluates the compiled policy against a known-good input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateSubmission(ctx, AudioRequest{URL: "https://example.com/a.mp3", Scheme: "https", Host: "example.com"})
	return err
}
