package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELPredicate evaluates a CEL expression against the fused scores. Unlike
// the cedar predicate, scores keep their 0–1 scale:
//
//	overall        fused overall risk
//	weighted_risk  severity-weighted risk
//	scores         map of category id to calibrated score (0 when absent)
//	dominant       dominant category id ("" when none)
//	text           request text
//	organization   organization id
type CELPredicate struct {
	Expression string
	program    cel.Program
}

var celEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("overall", cel.DoubleType),
		cel.Variable("weighted_risk", cel.DoubleType),
		cel.Variable("scores", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("dominant", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("organization", cel.StringType),
	)
})

func newCELPredicate(expression string) (*CELPredicate, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("cel expression is empty")
	}

	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid cel expression: %w", issues.Err())
	}
	switch out := ast.OutputType().String(); out {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("cel expression must be boolean, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL program: %w", err)
	}
	return &CELPredicate{Expression: expression, program: prg}, nil
}

func (p *CELPredicate) Kind() string { return KindCEL }

// Matches runs the program; a runtime error such as a missing map key is
// returned, not treated as false.
func (p *CELPredicate) Matches(in Input) (bool, error) {
	scores := make(map[string]float64)
	if in.Registry != nil {
		for _, id := range in.Registry.IDs() {
			scores[id] = 0
		}
	}
	for _, s := range in.Fusion.Scores {
		scores[s.Category] = s.Probability
	}

	out, _, err := p.program.Eval(map[string]any{
		"overall":       in.Fusion.Overall,
		"weighted_risk": in.Fusion.WeightedRisk,
		"scores":        scores,
		"dominant":      in.Fusion.Dominant,
		"text":          in.Text,
		"organization":  in.Organization,
	})
	if err != nil {
		return false, fmt.Errorf("cel: %w", err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: expression returned %v, not a bool", out.Value())
	}
	return matched, nil
}
