package agent

import (
	"fmt"
	"sort"
	"strings"
)

// TodoPriority mirrors the priority levels a TODO extraction request can
// carry; the storage layer that eventually persists these owns the rest of
// the Todo shape (status, timestamps, project scoping).
type TodoPriority string

const (
	TodoPriorityLow    TodoPriority = "low"
	TodoPriorityMedium TodoPriority = "medium"
	TodoPriorityHigh   TodoPriority = "high"
)

// TodoCreationRequest is what the orchestrator emits when it decides a
// user turn or assistant response warrants auto-created TODOs. It carries
// enough to build a parent TODO plus its children; persistence is the
// caller's concern, not this package's.
type TodoCreationRequest struct {
	ParentTitle       string
	ParentDescription string
	ParentPriority    TodoPriority
	ParentTags        []string
	ChildTitles       []string
	ChildTags         []string
}

// BuildTodoRequestFromInput inspects a user's turn input for multiple
// distinct tasks and, when it finds at least two, returns a request to
// create a "User request" parent TODO with one child per task.
//
// Grounded on original_source's parse_input_tasks +
// auto_create_todos_from_input: split on newlines, strip numeric/bullet
// prefixes, expand " and "/comma-separated clauses, then dedup+sort.
func BuildTodoRequestFromInput(input string) (*TodoCreationRequest, bool) {
	tasks := ParseInputTasks(input)
	if len(tasks) < 2 {
		return nil, false
	}
	return &TodoCreationRequest{
		ParentTitle:       fmt.Sprintf("User request with %d tasks", len(tasks)),
		ParentDescription: input,
		ParentPriority:    TodoPriorityHigh,
		ParentTags:        []string{"auto-generated", "multi-step"},
		ChildTitles:       tasks,
		ChildTags:         []string{"auto-generated", "input-task"},
	}, true
}

// BuildTodoRequestFromResponse scans a completed assistant response for
// `TODO:`/`todo:` lines and `- [ ]` checklist items and, when it finds at
// least one, returns a request to create a "Session TODOs" parent with one
// child per item.
//
// Grounded on original_source's parse_response_todo_items +
// auto_create_todos_from_response.
func BuildTodoRequestFromResponse(response string) (*TodoCreationRequest, bool) {
	items := ParseResponseTodoItems(response)
	if len(items) == 0 {
		return nil, false
	}
	return &TodoCreationRequest{
		ParentTitle:       fmt.Sprintf("Session TODOs (%d)", len(items)),
		ParentDescription: "Auto-generated TODOs from agent response",
		ParentPriority:    TodoPriorityMedium,
		ParentTags:        []string{"auto-generated"},
		ChildTitles:       items,
		ChildTags:         []string{"auto-generated"},
	}, true
}

// ParseResponseTodoItems extracts TODO titles from an assistant response,
// one per `TODO:`/`todo:` line or `- [ ]` checklist line.
func ParseResponseTodoItems(response string) []string {
	var items []string
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)

		var title string
		switch {
		case strings.HasPrefix(trimmed, "TODO:") || strings.HasPrefix(trimmed, "todo:"):
			title = strings.TrimSpace(trimmed[len("TODO:"):])
		case strings.HasPrefix(trimmed, "- [ ]"):
			title = strings.TrimSpace(trimmed[len("- [ ]"):])
		default:
			continue
		}

		if title != "" {
			items = append(items, title)
		}
	}
	return items
}

// ParseInputTasks splits free-form user input into distinct task strings:
// one per newline-separated segment, further split on " and " or commas,
// with numeric/bullet prefixes and trailing periods stripped. The result
// is deduplicated and sorted.
func ParseInputTasks(input string) []string {
	var tasks []string

	for _, segment := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(segment)
		if trimmed == "" {
			continue
		}

		normalized := strings.TrimSpace(strings.TrimLeft(trimmed, "0123456789.- "))
		if normalized == "" {
			continue
		}

		switch {
		case strings.Contains(normalized, " and "):
			for _, part := range strings.Split(normalized, " and ") {
				if p := strings.TrimRight(strings.TrimSpace(part), "."); p != "" {
					tasks = append(tasks, p)
				}
			}
		case strings.Contains(normalized, ","):
			for _, part := range strings.Split(normalized, ",") {
				if p := strings.TrimRight(strings.TrimSpace(part), "."); p != "" {
					tasks = append(tasks, p)
				}
			}
		default:
			tasks = append(tasks, strings.TrimRight(normalized, "."))
		}
	}

	sort.Strings(tasks)
	tasks = dedupSorted(tasks)
	return tasks
}

// dedupSorted removes adjacent duplicates from an already-sorted slice.
func dedupSorted(s []string) []string {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
