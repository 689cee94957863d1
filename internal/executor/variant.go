// Package executor maps assistant variants to command profiles,
// invocation arguments, and outcome interpretation. The variant set is
// closed; adding an assistant means extending the switch in every
// dispatch function in this package and nowhere else.
package executor

import (
	"fmt"

	droverr "github.com/kvasey/drover/internal/errors"
)

// Variant identifies one supported assistant CLI.
type Variant string

const (
	// VariantClaude runs Claude Code unattended.
	VariantClaude Variant = "claude"

	// VariantClaudePlan runs Claude Code in plan mode. The process is
	// stopped as soon as it asks for plan approval and the attempt is
	// routed to review instead of completion.
	VariantClaudePlan Variant = "claude-plan"

	// VariantGemini runs the Gemini CLI unattended.
	VariantGemini Variant = "gemini"

	// VariantCodex runs the Codex CLI unattended.
	VariantCodex Variant = "codex"
)

// Variants lists all supported variants in display order.
func Variants() []Variant {
	return []Variant{VariantClaude, VariantClaudePlan, VariantGemini, VariantCodex}
}

// Parse validates a variant name from config or CLI input.
func Parse(s string) (Variant, error) {
	switch Variant(s) {
	case VariantClaude, VariantClaudePlan, VariantGemini, VariantCodex:
		return Variant(s), nil
	}
	return "", droverr.New(droverr.CodeConfigInvalid,
		fmt.Sprintf("unknown executor variant %q", s)).
		WithFix("valid variants: claude, claude-plan, gemini, codex")
}

func (v Variant) String() string { return string(v) }

// planMode reports whether the variant runs in plan/preview mode.
func (v Variant) planMode() bool { return v == VariantClaudePlan }

// family returns the resolution cache key. Plan mode shares the claude
// binary, so both claude variants resolve through one cache entry.
func (v Variant) family() string {
	if v == VariantClaudePlan {
		return string(VariantClaude)
	}
	return string(v)
}
