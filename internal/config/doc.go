// Package config loads the participant's configuration from a JSONC
// (hujson) file with defaults→global→project→CLI precedence (an
// explicit --config file is read in place of the project file), the
// same chain the teacher pack's calvinalkan-agent-task config
// loader uses, generalized from a single ticket-dir setting to the
// coordination engine's full configuration surface (spec.md §6,
// SPEC_FULL.md §6.2).
package config
