package llm

import (
	"fmt"
	"strings"

	"github.com/Harshitk-cp/mnemo/internal/domain"
)

const coreferencePrompt = `The user referred to "%s" in a conversation. These entities were mentioned recently, most recent first:

%s

Which entity does "%s" refer to? Respond with exactly one entity_id from the list above, or the single word "unknown" if none of them fits. Do not explain.`

func buildCoreferencePrompt(mention string, candidates []domain.CoreferenceCandidate) string {
	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- %s (%s)\n", c.EntityID, c.CanonicalName)
	}
	return fmt.Sprintf(coreferencePrompt, mention, sb.String(), mention)
}

// parseCoreferenceReply normalizes a model reply down to a bare token: the
// resolver validates it against the candidate set.
func parseCoreferenceReply(reply string) string {
	reply = strings.TrimSpace(reply)
	reply = strings.Trim(reply, `"'`)
	if strings.EqualFold(reply, domain.CoreferenceUnknown) {
		return domain.CoreferenceUnknown
	}
	// Some models answer in a sentence; take the last whitespace-separated
	// token that looks like an id.
	fields := strings.Fields(reply)
	if len(fields) > 0 {
		return strings.Trim(fields[len(fields)-1], `"'.`)
	}
	return domain.CoreferenceUnknown
}
