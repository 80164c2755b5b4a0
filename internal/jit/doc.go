// Package jit plans and executes GraphQL operations against a compiled
// blueprint.
//
// # Planning
//
// Plan turns one operation of a validated query document into an
// OperationPlan:
//  1. Selects the operation by name, or by uniqueness when unnamed, and its
//     root type. Subscriptions are rejected.
//  2. Collects fields with fragment spreads and inline fragments merged by
//     response name. A fragment applies when its type condition names the
//     object type or an abstract type containing it.
//  3. Plans every collected field once per concrete object type. Selections
//     on interfaces and unions are planned once for each possible type, so
//     each FieldPlan knows the exact field definition it resolves.
//  4. Records @skip and @include guards as Conditions, evaluated once per
//     request against the coerced variables.
//
// Plans do not depend on variables and can be cached per document.
//
// # Steps
//
// BuildSteps derives the schedule: a field is resolved before its children
// (Sequential), siblings are resolved together (Parallel), and mutation root
// fields run one after another.
//
// # Execution
//
// A Resolve step evaluates the field's IR expression once for every object
// its parent produced, concurrently. Running all objects of a list at once is
// what lets grouped HTTP resolvers share a data loader window, so a field
// under a list of n objects costs one upstream call instead of n.
//
// Resolved values are completed immediately: leaves are serialized, abstract
// values are discriminated to their object type, and objects become nodes
// that child steps read. Once every step has run, the response is
// synthesized in selection order:
//   - A null for a Non-Null type makes the nearest nullable ancestor null.
//   - Errors are located by response path and never abort sibling fields.
//   - "Cannot return null for non-nullable field" is reported only when no
//     error explains the null already.
//
// The global timeout replaces the whole response with a single error.
package jit
