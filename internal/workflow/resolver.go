package workflow

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Resolver decides which steps may run next and diagnoses graphs that cannot
// make progress.
type Resolver struct{}

// Ready returns the pending steps whose dependencies have all completed, in
// workflow order. A step depending on a failed, blocked or unknown id is never ready.
func (Resolver) Ready(exec *Execution) []Step {
	statuses := exec.stepStatuses()
	var ready []Step
	for _, step := range exec.steps {
		if statuses[step.ID] != StepPending {
			continue
		}
		if dependenciesMet(step, statuses) {
			ready = append(ready, step.clone())
		}
	}
	return ready
}

func dependenciesMet(step Step, statuses map[string]StepStatus) bool {
	for _, dep := range step.DependsOn {
		if statuses[dep] != StepCompleted {
			return false
		}
	}
	return true
}

// DetectStuck reports the dependency ids that keep pending steps from ever
// becoming ready, along with the ids of those steps. Both are sorted. It
// returns nil slices when nothing is stuck.
func (r Resolver) DetectStuck(exec *Execution) (unresolved []string, blocked []string) {
	if len(r.Ready(exec)) > 0 {
		return nil, nil
	}
	statuses := exec.stepStatuses()
	missing := make(map[string]struct{})
	for _, step := range exec.steps {
		switch statuses[step.ID] {
		case StepPending, StepBlocked:
		default:
			continue
		}
		blocked = append(blocked, step.ID)
		for _, dep := range step.DependsOn {
			if statuses[dep] != StepCompleted {
				missing[dep] = struct{}{}
			}
		}
	}
	if len(blocked) == 0 {
		return nil, nil
	}
	sort.Strings(blocked)
	return sortedKeys(missing), blocked
}

// ValidateGraph checks step ids, dependency references, acyclicity and that
// steps able to run in the same layer never write the same context key.
func ValidateGraph(steps []Step) error {
	if problems := graphProblems(steps); len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func validateStepIDs(steps []Step) []string {
	var problems []string
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			problems = append(problems, fmt.Sprintf("step %d has an empty id", i))
			continue
		}
		if _, dup := seen[step.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate step id %q", step.ID))
			continue
		}
		seen[step.ID] = struct{}{}
	}
	return problems
}

func graphProblems(steps []Step) []string {
	problems := validateStepIDs(steps)
	if len(problems) > 0 {
		return problems
	}
	if len(steps) == 0 {
		return []string{"workflow has no steps"}
	}

	ids := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		ids[step.ID] = struct{}{}
	}
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			switch {
			case dep == step.ID:
				problems = append(problems, fmt.Sprintf("step %q depends on itself", step.ID))
			case !containsKey(ids, dep):
				problems = append(problems, fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep))
			}
		}
		problems = append(problems, outputMappingProblems(step)...)
	}
	if len(problems) > 0 {
		return problems
	}
	if cycle := findCycle(steps); len(cycle) > 0 {
		return []string{"dependency cycle " + strings.Join(cycle, " -> ")}
	}
	return outputCollisions(steps)
}

func containsKey(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func outputMappingProblems(step Step) []string {
	var problems []string
	targets := make(map[string]string, len(step.OutputMapping))
	resultKeys := make([]string, 0, len(step.OutputMapping))
	for key := range step.OutputMapping {
		resultKeys = append(resultKeys, key)
	}
	sort.Strings(resultKeys)
	for _, resultKey := range resultKeys {
		contextKey := step.OutputMapping[resultKey]
		if strings.TrimSpace(contextKey) == "" {
			problems = append(problems, fmt.Sprintf("step %q maps output %q to an empty context key", step.ID, resultKey))
			continue
		}
		if other, dup := targets[contextKey]; dup {
			problems = append(problems, fmt.Sprintf("step %q maps outputs %q and %q to context key %q", step.ID, other, resultKey, contextKey))
			continue
		}
		targets[contextKey] = resultKey
	}
	return problems
}

// findCycle returns one dependency cycle as a path of step ids, or nil.
func findCycle(steps []Step) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		deps[step.ID] = step.DependsOn
	}
	state := make(map[string]int, len(steps))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range deps[id] {
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, step := range steps {
		if state[step.ID] == unvisited && visit(step.ID) {
			return cycle
		}
	}
	return nil
}

// outputCollisions rejects two steps writing the same context key when
// neither depends (transitively) on the other, since they may share a layer.
func outputCollisions(steps []Step) []string {
	ancestors := ancestorSets(steps)
	writers := make(map[string][]string)
	for _, step := range steps {
		for _, contextKey := range step.OutputMapping {
			writers[contextKey] = append(writers[contextKey], step.ID)
		}
	}
	keys := make([]string, 0, len(writers))
	for key := range writers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var problems []string
	for _, key := range keys {
		ids := writers[key]
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if containsKey(ancestors[a], b) || containsKey(ancestors[b], a) {
					continue
				}
				problems = append(problems, fmt.Sprintf("steps %q and %q may run concurrently and both write context key %q", a, b, key))
			}
		}
	}
	return problems
}

// ancestorSets computes the transitive dependencies of every step. The graph
// must already be known to be acyclic.
func ancestorSets(steps []Step) map[string]map[string]struct{} {
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		deps[step.ID] = step.DependsOn
	}
	memo := make(map[string]map[string]struct{}, len(steps))
	var collect func(id string) map[string]struct{}
	collect = func(id string) map[string]struct{} {
		if set, ok := memo[id]; ok {
			return set
		}
		set := make(map[string]struct{})
		for _, dep := range deps[id] {
			set[dep] = struct{}{}
			for anc := range collect(dep) {
				set[anc] = struct{}{}
			}
		}
		memo[id] = set
		return set
	}
	for _, step := range steps {
		collect(step.ID)
	}
	return memo
}
