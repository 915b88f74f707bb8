package reflection

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
	"github.com/Dicklesworthstone/cass-memory-system/internal/validation"
)

// maxTranscriptPromptChars caps how much raw transcript goes into the
// diary prompt. Long sessions are clipped from the front; the tail of a
// session usually carries the resolution.
const maxTranscriptPromptChars = 24000

const diarySystemPrompt = `You summarize AI coding assistant sessions into structured diary entries.
Read the transcript and respond with ONLY a JSON object, no prose, shaped as:
{
  "status": "success" | "failure" | "mixed",
  "workspace": "repository or directory the session worked in, if evident",
  "agent": "assistant name, if evident",
  "accomplishments": ["what got done"],
  "decisions": ["choices made and why"],
  "challenges": ["what went wrong or was hard"],
  "preferences": ["user preferences observed"],
  "keyLearnings": ["durable insights worth remembering"],
  "tags": ["short retrieval labels"],
  "searchAnchors": ["phrases likely to match future queries"]
}
Omit fields you have no evidence for. Keep every item to one sentence.`

const extractionSystemPrompt = `You maintain a playbook of rules for AI coding assistants.
Given a session diary, the current playbook, and related history, propose playbook changes.
Respond with ONLY a JSON object {"deltas": [...]} where each delta is one of:
  {"type":"add","bullet":{"content":"...","category":"...","isNegative":false,"tags":[...]},"reason":"..."}
  {"type":"replace","bulletId":"b-...","newContent":"...","reason":"..."}
  {"type":"merge","bulletIds":["b-...","b-..."],"mergedContent":"...","reason":"..."}
  {"type":"deprecate","bulletId":"b-...","reason":"..."}
  {"type":"helpful","bulletId":"b-...","reason":"..."}
  {"type":"harmful","bulletId":"b-...","reason":"..."}
Rules must be imperative, specific, and generally applicable. Do not restate
existing rules as adds; record feedback on them instead. Return
{"deltas": []} when the session teaches nothing durable.`

const validatorSystemPrompt = `You judge whether a proposed playbook rule is worth keeping.
Respond with ONLY a JSON object:
{"verdict":"ACCEPT"|"REFINE"|"REJECT","confidence":0.0-1.0,"reasoning":"one sentence"}
ACCEPT: specific, actionable, durable. REFINE: useful but overbroad or
awkwardly phrased. REJECT: vague, one-off, or contradicted by evidence.`

// diaryPrompt assembles the user message for diary generation.
func diaryPrompt(sessionPath, content string) string {
	if len(content) > maxTranscriptPromptChars {
		content = "[transcript clipped]\n..." + content[len(content)-maxTranscriptPromptChars:]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session file: %s\n\nTranscript:\n%s\n", sessionPath, content)
	return sb.String()
}

// extractionPrompt assembles the user message for one reflection
// iteration. Later iterations list what was already proposed so the
// oracle offers genuinely new deltas or nothing.
func extractionPrompt(diary, playbook, history string, gathered []types.PlaybookDelta) string {
	var sb strings.Builder
	sb.WriteString(diary)
	sb.WriteString("\n")
	sb.WriteString(playbook)
	if history != "" {
		sb.WriteString("\n")
		sb.WriteString(history)
	}
	if len(gathered) > 0 {
		sb.WriteString("\nALREADY PROPOSED THIS RUN (do not repeat):\n")
		for _, d := range gathered {
			sb.WriteString("- ")
			sb.WriteString(describeDelta(d))
			sb.WriteString("\n")
		}
		sb.WriteString("\nPropose only additional distinct changes, or {\"deltas\": []} if there are none.")
	}
	return sb.String()
}

// validatorPrompt assembles the user message for one rule verdict,
// including what the evidence gate found.
func validatorPrompt(content string, gate validation.GateResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Proposed rule: %s\n\n", content)
	fmt.Fprintf(&sb, "Historical evidence: %d sessions matched, %d succeeded, %d failed (%s).\n",
		gate.SessionCount, gate.SuccessCount, gate.FailureCount, gate.Reason)
	return sb.String()
}

// describeDelta renders a delta in one line for the already-proposed list.
func describeDelta(d types.PlaybookDelta) string {
	switch d.Type {
	case types.DeltaAdd:
		content := ""
		if d.Bullet != nil {
			content = d.Bullet.Content
		}
		return fmt.Sprintf("add: %s", content)
	case types.DeltaReplace:
		return fmt.Sprintf("replace %s: %s", d.BulletID, d.NewContent)
	case types.DeltaMerge:
		return fmt.Sprintf("merge %s", strings.Join(d.BulletIDs, ", "))
	default:
		return fmt.Sprintf("%s %s", d.Type, d.BulletID)
	}
}
