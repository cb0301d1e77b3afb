// Package prompts contains the prompt text korb sends to models.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation and can be validated by
// tests. Personas live in settings; this package holds the tool-use rules
// and the directives the orchestrator injects between turns.
package prompts
