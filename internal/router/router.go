// Package router implements the config router: a pure mapping from
// (complexity, taskType) to a template name plus parameter bundle.
//
// Grounded on the teacher's plain-Go table-test style
// (internal/hooks/config_test.go), which this package's own test mirrors.
package router

// Complexity is a cluster's declared task complexity.
type Complexity string

const (
	Trivial  Complexity = "TRIVIAL"
	Simple   Complexity = "SIMPLE"
	Standard Complexity = "STANDARD"
	Critical Complexity = "CRITICAL"
)

// TaskType is the declared kind of work being routed.
type TaskType string

const (
	Inquiry TaskType = "INQUIRY"
	Task    TaskType = "TASK"
	Debug   TaskType = "DEBUG"
)

// Params is the parameter bundle attached to a routed template.
type Params struct {
	ModelByRole     map[string]string
	ValidatorCount  int
	MaxTokens       int
}

// Route is the result of routing one (complexity, taskType) pair.
type Route struct {
	Base   string
	Params Params
}

// RouteTask maps (complexity, taskType) to a template name and parameter
// bundle. It is a pure function: identical inputs yield identical outputs.
func RouteTask(complexity Complexity, taskType TaskType) Route {
	base := baseTemplate(complexity, taskType)
	return Route{
		Base: base,
		Params: Params{
			ModelByRole:    modelByRole(complexity),
			ValidatorCount: validatorCount(complexity),
			MaxTokens:      maxTokens(complexity),
		},
	}
}

func baseTemplate(complexity Complexity, taskType TaskType) string {
	switch {
	case taskType == Debug && complexity != Trivial:
		return "debug-workflow"
	case complexity == Trivial:
		return "single-worker"
	case complexity == Simple:
		return "worker-validator"
	default:
		return "full-workflow"
	}
}

func modelByRole(complexity Complexity) map[string]string {
	roles := map[string]string{}
	for _, role := range []string{"planner", "worker", "validator"} {
		roles[role] = modelFor(role, complexity)
	}
	return roles
}

func modelFor(role string, complexity Complexity) string {
	switch {
	case role == "planner" && complexity == Critical:
		return "opus"
	case complexity == Trivial:
		return "haiku"
	default:
		return "sonnet"
	}
}

func validatorCount(complexity Complexity) int {
	switch complexity {
	case Trivial:
		return 0
	case Simple:
		return 1
	case Standard:
		return 2
	case Critical:
		return 4
	default:
		return 0
	}
}

func maxTokens(complexity Complexity) int {
	switch complexity {
	case Trivial:
		return 50000
	case Simple:
		return 100000
	case Standard:
		return 100000
	case Critical:
		return 150000
	default:
		return 100000
	}
}
