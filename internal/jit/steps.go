package jit

import language "github.com/hanpama/gqlforge/internal/language"

// ExecutionStep schedules the resolution of planned fields.
type ExecutionStep interface {
	isStep()
}

// Resolve evaluates one field on every object produced by its parent.
type Resolve struct {
	Field FieldPlanID
}

// Sequential runs its steps one after another.
type Sequential []ExecutionStep

// Parallel runs its steps concurrently and waits for all of them.
type Parallel []ExecutionStep

func (Resolve) isStep()    {}
func (Sequential) isStep() {}
func (Parallel) isStep()   {}

// BuildSteps derives the schedule of a plan. A field runs before its
// children, siblings run in parallel, and mutation root fields run in
// order.
func BuildSteps(plan *OperationPlan) ExecutionStep {
	roots := make([]ExecutionStep, len(plan.Tree))
	for i, t := range plan.Tree {
		roots[i] = treeStep(t)
	}
	if plan.Operation == language.Mutation {
		return flatten(Sequential(roots))
	}
	return flatten(Parallel(roots))
}

func treeStep(t *FieldTree) ExecutionStep {
	if len(t.Children) == 0 {
		return Resolve{Field: t.Field}
	}
	children := make([]ExecutionStep, len(t.Children))
	for i, c := range t.Children {
		children[i] = treeStep(c)
	}
	return Sequential{Resolve{Field: t.Field}, Parallel(children)}
}

// flatten removes empty groups, unwraps single-step groups and splices
// nested groups of the same kind into their parent.
func flatten(step ExecutionStep) ExecutionStep {
	switch s := step.(type) {
	case Sequential:
		var out Sequential
		for _, child := range s {
			switch c := flatten(child).(type) {
			case nil:
			case Sequential:
				out = append(out, c...)
			default:
				out = append(out, c)
			}
		}
		switch len(out) {
		case 0:
			return nil
		case 1:
			return out[0]
		}
		return out
	case Parallel:
		var out Parallel
		for _, child := range s {
			switch c := flatten(child).(type) {
			case nil:
			case Parallel:
				out = append(out, c...)
			default:
				out = append(out, c)
			}
		}
		switch len(out) {
		case 0:
			return nil
		case 1:
			return out[0]
		}
		return out
	}
	return step
}
