package task

import "fmt"

// Plan is the delegator's breakdown of a request.
type Plan struct {
	Context string       `json:"context" validate:"required"`
	Tasks   []Assignment `json:"tasks" validate:"required,min=1,dive"`
}

// Assignment is one unit of work handed to a builder.
type Assignment struct {
	Task  string   `json:"task" validate:"required"`
	Files []string `json:"files"`
}

// Work is a builder's reply: the full content of every file it touched.
type Work struct {
	Files []FileEdit `json:"files" validate:"dive"`
}

// FileEdit is one file a builder wants written.
type FileEdit struct {
	File    string `json:"file" validate:"required"`
	Content string `json:"content"`
}

// ValidatePlan checks a plan for problems the struct tags cannot express.
// Returns a list of validation errors (empty if valid).
func ValidatePlan(plan *Plan) []string {
	if plan == nil {
		return []string{"plan is nil"}
	}

	var errs []string
	if len(plan.Tasks) == 0 {
		errs = append(errs, "plan has no tasks")
	}

	seenTask := make(map[string]bool)
	for i, a := range plan.Tasks {
		if a.Task == "" {
			errs = append(errs, fmt.Sprintf("tasks[%d]: task is required", i))
		}
		if seenTask[a.Task] && a.Task != "" {
			errs = append(errs, fmt.Sprintf("tasks[%d]: duplicate task %q", i, a.Task))
		}
		seenTask[a.Task] = true

		seenFile := make(map[string]bool)
		for j, f := range a.Files {
			if f == "" {
				errs = append(errs, fmt.Sprintf("tasks[%d].files[%d]: path is required", i, j))
				continue
			}
			if seenFile[f] {
				errs = append(errs, fmt.Sprintf("tasks[%d].files[%d]: duplicate file %q", i, j, f))
			}
			seenFile[f] = true
		}
	}
	return errs
}

// FileOwners maps each planned file to the indexes of the tasks that touch it.
// Files claimed by more than one task are written in task order.
func FileOwners(plan *Plan) map[string][]int {
	owners := make(map[string][]int)
	for i, a := range plan.Tasks {
		for _, f := range a.Files {
			owners[f] = append(owners[f], i)
		}
	}
	return owners
}
