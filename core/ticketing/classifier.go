package ticketing

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Classification is the priority and case type assigned to a ticket.
type Classification struct {
	Priority string `json:"priority"`
	Type     string `json:"type"`
}

var defaultClassification = Classification{Priority: "normal", Type: "question"}

// Classifier evaluates a rego policy over the caller's side of the
// conversation.
type Classifier struct {
	query rego.PreparedEvalQuery
}

func NewClassifier(ctx context.Context, policy string) (*Classifier, error) {
	r := rego.New(
		rego.Query("data.ticket_classification.decision"),
		rego.Module("ticket_classification.rego", policy),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare classification policy: %w", err)
	}

	return &Classifier{query: query}, nil
}

func (c *Classifier) Classify(ctx context.Context, text string) (Classification, error) {
	results, err := c.query.Eval(ctx, rego.EvalInput(map[string]any{"text": text}))
	if err != nil {
		return defaultClassification, fmt.Errorf("failed to evaluate classification policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return defaultClassification, nil
	}

	decision, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return defaultClassification, fmt.Errorf("unexpected classification result %T", results[0].Expressions[0].Value)
	}

	classification := defaultClassification
	if priority, ok := decision["priority"].(string); ok && priority != "" {
		classification.Priority = priority
	}
	if typ, ok := decision["type"].(string); ok && typ != "" {
		classification.Type = typ
	}
	return classification, nil
}

// DefaultPolicy ranks priority and type by how many of their patterns the
// caller's words match. Ties go to the more severe category. Without any
// priority match the length of the text decides.
const DefaultPolicy = `
package ticket_classification

import rego.v1

priority_patterns := {
	"urgent": ["urgent", "emergency", "critical", "asap", "immediately", "system.+down", "cannot.+(work|access|use)", "broken", "production.+issue", "security"],
	"high": ["important", "serious", "significant", "affecting.+work", "high.+priority", "blocking", "stuck", "major"],
	"normal": ["normal", "regular", "standard", "when.+possible", "would.+like", "please.+help", "need.+assistance"],
	"low": ["minor", "low.+priority", "suggestion", "feedback", "question", "curious", "wondering"],
}

priority_rank := {"urgent": 4, "high": 3, "normal": 2, "low": 1}

type_patterns := {
	"question": ["how.+(do|can|should|would|could)", "what.+is", "explain", "clarify", "help.+understand", "guide", "documentation"],
	"task": ["create", "setup", "configure", "update", "change", "modify", "add", "remove", "please.+(do|make|set)"],
	"problem": ["not.+working", "error", "issue", "bug", "problem", "failed", "incorrect", "wrong", "forgot"],
	"incident": ["down", "outage", "unavailable", "disruption", "crash", "emergency", "incident", "impact"],
	"technical": ["api", "integration", "code", "technical", "developer", "sdk", "endpoint", "authentication"],
	"service_request": ["request", "new.+account", "upgrade", "provision", "access", "permission", "enable"],
}

type_rank := {"incident": 6, "problem": 5, "technical": 4, "service_request": 3, "task": 2, "question": 1}

words := lower(input.text)

hits(patterns) := n if {
	n := count([p | some p in patterns; regex.match(p, words)])
}

priority_hits[name] := n if {
	some name, patterns in priority_patterns
	n := hits(patterns)
	n > 0
}

type_hits[name] := n if {
	some name, patterns in type_patterns
	n := hits(patterns)
	n > 0
}

outranks(n, _, m, _) if n > m

outranks(n, r, m, s) if {
	n == m
	r >= s
}

best(scores, rank) := name if {
	some name, n in scores
	every other, m in scores {
		outranks(n, rank[name], m, rank[other])
	}
}

default priority := "normal"

priority := best(priority_hits, priority_rank) if count(priority_hits) > 0

priority := "low" if {
	count(priority_hits) == 0
	count(words) < 50
}

priority := "high" if {
	count(priority_hits) == 0
	count(words) >= 200
}

default ticket_type := "question"

ticket_type := best(type_hits, type_rank) if count(type_hits) > 0

decision := {"priority": priority, "type": ticket_type}
`
