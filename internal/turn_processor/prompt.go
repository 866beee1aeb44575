package turn_processor

import (
	"fmt"
	"strings"

	"companion-service/internal/models"
	"companion-service/internal/relationship"
)

// PromptOptions describes the companion persona.
type PromptOptions struct {
	CompanionName string
	Persona       string
}

const formatInstructions = `Reply format:
- Start with an emotion tag for your reply, for example [emotion: playful]. Allowed emotions: %s.
- Write like a text chat: 1 to 3 short messages. Separate messages with ||.
- You may end with a pacing hint such as <EOM::pause=800 speed=slow emotion=supportive>. pause is milliseconds before your last message, speed is slow, normal or fast.
- Never explain the tags.`

// BuildPrompt assembles the messages sent to the text generator. A nil
// message builds a greeting.
func BuildPrompt(opts PromptOptions, profile models.RelationshipProfile, s models.SentimentResult, message *string) []models.PromptMessage {
	tier := relationship.TierFor(profile.BondScore)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", opts.CompanionName)
	if opts.Persona != "" {
		fmt.Fprintf(&b, ", %s", opts.Persona)
	}
	b.WriteString(".\n\n")

	b.WriteString("Relationship:\n")
	fmt.Fprintf(&b, "- Stage: %s\n", tier.Description())
	fmt.Fprintf(&b, "- Bond score: %.1f\n", profile.BondScore)
	fmt.Fprintf(&b, "- Messages so far: %d, sessions: %d\n", profile.TotalMessages, profile.TotalSessions)
	if message != nil {
		fmt.Fprintf(&b, "- Their current mood: %s (intensity %.1f)\n", s.Label, s.Intensity)
	}
	b.WriteString("\n")

	labels := make([]string, 0, len(models.AllEmotions()))
	for _, e := range models.AllEmotions() {
		labels = append(labels, string(e))
	}
	fmt.Fprintf(&b, formatInstructions, strings.Join(labels, ", "))

	if message == nil {
		return []models.PromptMessage{
			{Role: models.RoleSystem, Content: b.String()},
			{Role: models.RoleUser, Content: "(They just opened the chat. Greet them in a way that fits your relationship stage.)"},
		}
	}
	return []models.PromptMessage{
		{Role: models.RoleSystem, Content: b.String()},
		{Role: models.RoleUser, Content: *message},
	}
}
