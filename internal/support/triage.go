package support

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Triage evaluates configured ignore-rules against incoming hand-off
// requests. A request matching any rule is dropped before it reaches the
// queue. Rules are CEL expressions over the string variables roomId,
// userName and userNickname, and must evaluate to bool.
//
// Rules apply to HANDOFF_REQUESTED only; disconnect events always pass.
type Triage struct {
	programs []cel.Program
}

// NewTriage compiles the rule expressions. An empty rule list yields a
// Triage that ignores nothing.
func NewTriage(rules []string) (*Triage, error) {
	if len(rules) == 0 {
		return &Triage{}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("roomId", cel.StringType),
		cel.Variable("userName", cel.StringType),
		cel.Variable("userNickname", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create triage environment: %w", err)
	}

	t := &Triage{programs: make([]cel.Program, 0, len(rules))}
	for _, rule := range rules {
		ast, iss := env.Compile(rule)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("compile triage rule %q: %w", rule, iss.Err())
		}
		if ast.OutputType().String() != "bool" {
			return nil, fmt.Errorf("triage rule %q must evaluate to bool, got %s", rule, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build triage rule %q: %w", rule, err)
		}
		t.programs = append(t.programs, prg)
	}
	return t, nil
}

// ShouldIgnore reports whether any rule matches the request. Evaluation
// errors count as no match; a broken rule must not silently drop requests.
func (t *Triage) ShouldIgnore(ev QueueEvent) bool {
	if t == nil || len(t.programs) == 0 {
		return false
	}
	vars := map[string]any{
		"roomId":       ev.RoomID,
		"userName":     ev.UserName,
		"userNickname": ev.UserNickname,
	}
	for _, prg := range t.programs {
		out, _, err := prg.Eval(vars)
		if err != nil {
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return true
		}
	}
	return false
}
