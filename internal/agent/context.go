package agent

import (
	"fmt"
	"strings"

	"github.com/nugget/korb/internal/settings"
)

// buildContent wraps the user message with the injected context blocks.
// Sections appear in a fixed order: profile, uploaded documents, memories.
// Without any context the message is returned unchanged.
func buildContent(profile settings.Profile, documents string, memories []string, message string) string {
	var parts []string
	if profile.Name != "" || profile.AboutMe != "" {
		name := profile.Name
		if name == "" {
			name = "User"
		}
		parts = append(parts, fmt.Sprintf("User Profile:\nName: %s\nAbout Me: %s", name, profile.AboutMe))
	}
	if documents != "" {
		parts = append(parts, "Context from uploaded documents:\n"+documents)
	}
	if block := memoryBlock(memories); block != "" {
		parts = append(parts, block)
	}
	if len(parts) == 0 {
		return message
	}
	return "System Context:\n" + strings.Join(parts, "\n\n") + "\n\nUser Message:\n" + message
}

// retryContent is the stripped message used after an empty attempt: only
// the memories survive.
func retryContent(memories []string, message string) string {
	block := memoryBlock(memories)
	if block == "" {
		return message
	}
	return block + "\n\nUser Message:\n" + message
}

func memoryBlock(memories []string) string {
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, len(memories))
	for i, m := range memories {
		lines[i] = "- " + m
	}
	return "Memory Context:\n" + strings.Join(lines, "\n")
}
