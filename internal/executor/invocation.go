package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/kvasey/drover/internal/proc"
	"github.com/kvasey/drover/internal/resolve"
	"github.com/kvasey/drover/internal/task"
)

// planStopMarker is the line Claude Code prints in plan mode when the
// plan is ready and it is waiting for approval. Seeing it means the
// planning run is complete.
const planStopMarker = "Claude requested permissions to use exit_plan_mode, but you haven't granted it yet"

// Invocation is the variant-specific part of a command line: everything
// except the resolved executable, which CommandResolver supplies.
type Invocation struct {
	// Args are appended after the resolved command's own argv.
	Args []string

	// Stdin is the task prompt, delivered on standard input.
	Stdin string

	// Env entries are added to the child's environment.
	Env []string

	// StopMarker, when non-empty, wraps the command in a watcher script
	// that exits 0 as soon as the marker appears in the output.
	StopMarker string
}

// BuildInvocation composes the argument list and prompt for a task.
func (r *Registry) BuildInvocation(v Variant, t *task.Task) (Invocation, error) {
	inv := Invocation{Stdin: taskPrompt(t)}

	switch v {
	case VariantClaude, VariantClaudePlan:
		inv.Args = []string{"-p", "--verbose", "--output-format=stream-json"}
		if v.planMode() {
			inv.Args = append(inv.Args, "--permission-mode=plan")
			inv.StopMarker = planStopMarker
		} else {
			inv.Args = append(inv.Args, "--dangerously-skip-permissions")
		}
		if model := r.Model(v); model != "" {
			inv.Args = append(inv.Args, "--model", model)
		}
		inv.Env = []string{"NODE_NO_WARNINGS=1"}
	case VariantGemini:
		inv.Args = []string{"--yolo"}
		if model := r.Model(v); model != "" {
			inv.Args = append(inv.Args, "--model", model)
		}
		inv.Env = []string{"NODE_NO_WARNINGS=1"}
	case VariantCodex:
		inv.Args = []string{"exec", "--full-auto"}
		if model := r.Model(v); model != "" {
			inv.Args = append(inv.Args, "--model", model)
		}
	default:
		if _, err := Parse(string(v)); err != nil {
			return Invocation{}, err
		}
	}
	return inv, nil
}

// ComposeSpec combines a resolved command with an invocation into a
// runnable process spec rooted in the worktree.
func ComposeSpec(cmd resolve.Command, inv Invocation, dir string, timeout time.Duration) proc.Spec {
	spec := proc.Spec{
		Path:    cmd.Path,
		Args:    append(append([]string{}, cmd.Args...), inv.Args...),
		Dir:     dir,
		Env:     inv.Env,
		Stdin:   inv.Stdin,
		Timeout: timeout,
	}
	if inv.StopMarker != "" {
		script := watchkillScript(spec.Path, spec.Args, inv.StopMarker)
		spec.Path = "bash"
		spec.Args = []string{"-c", script}
	}
	return spec
}

// watchkillScript wraps a command so the wrapper exits 0 the moment the
// marker line appears, instead of waiting on a prompt that will never
// be answered.
func watchkillScript(path string, args []string, marker string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(path))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return fmt.Sprintf(`set -euo pipefail

word=%s
while IFS= read -r line; do
    printf '%%s\n' "$line"
    if [[ $line == *"$word"* ]]; then
        exit 0
    fi
done < <(%s <&0 2>&1)

exit "${PIPESTATUS[0]}"
`, shellQuote(marker), strings.Join(parts, " "))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// taskPrompt renders the prompt delivered to the assistant.
func taskPrompt(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "project_id: %s\n\n", t.ProjectID)
	fmt.Fprintf(&b, "Task title: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Task description: %s\n", t.Description)
	}
	return b.String()
}
