package agent

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

const (
	// SoftPolicyInformational never blocks on soft conflicts.
	SoftPolicyInformational = "informational"
	// SoftPolicyBlock defers any booking that has soft conflicts.
	SoftPolicyBlock = "block"
)

// SoftConflictPolicy decides whether soft conflicts block autonomous booking.
// Besides the two keywords it accepts a CEL expression over soft_conflicts,
// confidence, mode and participants that evaluates to true when booking must
// be deferred, e.g. `soft_conflicts > 1 || confidence < 0.9`.
type SoftConflictPolicy struct {
	source  string
	block   bool
	program cel.Program
}

// PolicyInput is the data a soft-conflict policy sees.
type PolicyInput struct {
	SoftConflicts int
	Confidence    float64
	Mode          Mode
	Participants  []string
}

// NewSoftConflictPolicy compiles a policy. An empty source is informational.
func NewSoftConflictPolicy(source string) (*SoftConflictPolicy, error) {
	source = strings.TrimSpace(source)
	switch strings.ToLower(source) {
	case "", SoftPolicyInformational:
		return &SoftConflictPolicy{source: SoftPolicyInformational}, nil
	case SoftPolicyBlock:
		return &SoftConflictPolicy{source: SoftPolicyBlock, block: true}, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("soft_conflicts", cel.IntType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("mode", cel.StringType),
		cel.Variable("participants", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	ast, iss := env.Compile(source)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid soft conflict policy %q: %w", source, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("soft conflict policy %q must evaluate to bool, got %s", source, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build soft conflict policy: %w", err)
	}
	return &SoftConflictPolicy{source: source, program: program}, nil
}

// String returns the policy source.
func (p *SoftConflictPolicy) String() string {
	return p.source
}

// Blocks reports whether booking must be deferred. Inputs without soft
// conflicts are never blocked. Evaluation errors block.
func (p *SoftConflictPolicy) Blocks(in PolicyInput) (bool, error) {
	if p == nil || in.SoftConflicts == 0 {
		return false, nil
	}
	if p.program == nil {
		return p.block, nil
	}
	participants := in.Participants
	if participants == nil {
		participants = []string{}
	}
	out, _, err := p.program.Eval(map[string]any{
		"soft_conflicts": int64(in.SoftConflicts),
		"confidence":     in.Confidence,
		"mode":           string(in.Mode),
		"participants":   participants,
	})
	if err != nil {
		return true, fmt.Errorf("failed to evaluate soft conflict policy: %w", err)
	}
	blocked, ok := out.Value().(bool)
	if !ok {
		return true, fmt.Errorf("soft conflict policy returned %T", out.Value())
	}
	return blocked, nil
}
