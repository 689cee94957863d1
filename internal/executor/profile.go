package executor

import (
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"

	"github.com/kvasey/drover/internal/config"
	"github.com/kvasey/drover/internal/resolve"
)

// ClaudeSettingsFile is the user-level Claude settings file consulted
// for an operator-pinned binary path.
const ClaudeSettingsFile = ".claude.json"

// Profile returns the resolution profile for a variant. The configured
// path comes from drover's own config first, then (for claude) from the
// claudeCodePath key in ~/.claude.json.
func (r *Registry) Profile(v Variant) resolve.Profile {
	configured := r.executorConfig(v).Path

	switch v {
	case VariantClaude, VariantClaudePlan:
		if configured == "" {
			configured = claudeSettingsPath(r.home)
		}
		return resolve.Profile{
			Name:           v.family(),
			ConfiguredPath: configured,
			BinaryNames:    []string{"claude", "claude-code"},
			WellKnownPaths: []string{
				"/usr/local/bin/claude",
				"/usr/bin/claude",
				"/opt/homebrew/bin/claude",
				"~/.local/bin/claude",
				"~/.claude/local/claude",
			},
			Remote: []string{"npx", "-y", "@anthropic-ai/claude-code@latest"},
		}
	case VariantGemini:
		return resolve.Profile{
			Name:           v.family(),
			ConfiguredPath: configured,
			BinaryNames:    []string{"gemini"},
			WellKnownPaths: []string{
				"/usr/local/bin/gemini",
				"/opt/homebrew/bin/gemini",
				"~/.local/bin/gemini",
			},
			Remote: []string{"npx", "-y", "@google/gemini-cli@latest"},
		}
	case VariantCodex:
		return resolve.Profile{
			Name:           v.family(),
			ConfiguredPath: configured,
			BinaryNames:    []string{"codex"},
			WellKnownPaths: []string{
				"/usr/local/bin/codex",
				"/opt/homebrew/bin/codex",
				"~/.local/bin/codex",
			},
			Remote: []string{"npx", "-y", "@openai/codex@latest"},
		}
	}
	// Unreachable for parsed variants.
	return resolve.Profile{Name: v.family(), ConfiguredPath: configured}
}

// claudeSettingsPath reads claudeCodePath from ~/.claude.json, if any.
func claudeSettingsPath(home string) string {
	if home == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ClaudeSettingsFile))
	if err != nil {
		return ""
	}
	return gjson.GetBytes(data, "claudeCodePath").String()
}

// Model returns the configured model for a variant, if any.
func (r *Registry) Model(v Variant) string {
	return r.executorConfig(v).Model
}

// executorConfig resolves per-variant settings. An entry under the
// variant's own name wins; otherwise plan mode inherits the claude
// family entry, so `executors.claude` covers both claude variants
// while `executors.claude-plan` can still override it.
func (r *Registry) executorConfig(v Variant) config.ExecutorConfig {
	if ec := r.cfg.Executor(string(v)); ec != (config.ExecutorConfig{}) {
		return ec
	}
	if v.family() != string(v) {
		return r.cfg.Executor(v.family())
	}
	return config.ExecutorConfig{}
}
