package executor

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kvasey/drover/internal/proc"
	"github.com/kvasey/drover/internal/task"
)

// Shell launcher failure exits. 126 is found-but-not-executable, 127 is
// command not found.
const (
	exitNotExecutable  = 126
	exitCommandMissing = 127
)

// InterpretOutcome classifies a finished process into an attempt
// outcome using the variant's exit and output conventions.
func (r *Registry) InterpretOutcome(v Variant, res proc.Result, output string) task.Outcome {
	if res.TimedOut {
		return task.OutcomeTimedOut
	}

	switch v {
	case VariantClaude:
		if res.ExitCode != 0 {
			return task.OutcomeFailed
		}
		if line := resultLine(output); line != "" && gjson.Get(line, "is_error").Bool() {
			return task.OutcomeFailed
		}
		return task.OutcomeSucceeded
	case VariantClaudePlan:
		// A clean exit means the plan was produced (the watcher stops
		// the process at the approval prompt). The plan goes to a human.
		if res.ExitCode != 0 {
			return task.OutcomeFailed
		}
		return task.OutcomeNeedsReview
	case VariantGemini, VariantCodex:
		if res.ExitCode != 0 {
			return task.OutcomeFailed
		}
		return task.OutcomeSucceeded
	}
	return task.OutcomeFailed
}

// launcherMarkerLines bounds the marker scan to the head of the output.
// A shell that cannot start the command says so immediately; an
// assistant that ran and failed routinely quotes the same strings much
// later, and those must not count as launcher failures.
const launcherMarkerLines = 5

// IsLauncherFailure reports whether a process result looks like the
// command itself could not be started or found, as opposed to the
// assistant running and failing. Launcher failures make the resolved
// command eligible for fallback re-resolution.
func IsLauncherFailure(res proc.Result, output string) bool {
	if res.TimedOut {
		return false
	}
	if res.ExitCode == exitNotExecutable || res.ExitCode == exitCommandMissing {
		return true
	}
	if res.ExitCode == 0 {
		return false
	}

	lines := strings.Split(output, "\n")
	if len(lines) > launcherMarkerLines {
		lines = lines[:launcherMarkerLines]
	}
	for _, line := range lines {
		for _, marker := range []string{
			"command not found",
			"No such file or directory",
			"not recognized as an internal or external command",
		} {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

// SessionID extracts the assistant session identifier from stream-json
// output, if the variant emits one.
func SessionID(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !gjson.Valid(line) {
			continue
		}
		if id := gjson.Get(line, "session_id").String(); id != "" {
			return id
		}
	}
	return ""
}

// ResultText extracts the final result text from stream-json output.
func ResultText(output string) string {
	if line := resultLine(output); line != "" {
		return gjson.Get(line, "result").String()
	}
	return ""
}

// resultLine finds the last stream-json line of type "result".
func resultLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !gjson.Valid(line) {
			continue
		}
		if gjson.Get(line, "type").String() == "result" {
			return line
		}
	}
	return ""
}
