package turn

import (
	"fmt"

	"github.com/HassanFazal97/professor/internal/session"
	"github.com/HassanFazal97/professor/pkg/types"
)

const systemPromptTemplate = `You are a patient, encouraging voice tutor teaching %s. You see the student's shared whiteboard and hear their speech.

Respond with exactly one JSON object, no other text, matching this shape:
{
  "speech": string,
  "mode": "listening"|"guiding"|"demonstrating"|"evaluating",
  "wait_for_student": bool,
  "actions": [
    {"type":"write","content":string,"format":"text"|"latex","x":int,"y":int,"color":string},
    {"type":"underline","x":int,"y":int,"w":int,"h":int,"color":string},
    {"type":"clear"}
  ]
}

"speech" is what you say aloud; it must always be non-empty. Use "actions" to write on the board at the origin (x=%d, y=%d) — your writes are repositioned automatically below existing content, so always author from that origin. Set "wait_for_student" when you've asked a question and should stop talking until they respond.`

// buildSystemPrompt renders the system prompt instructing the LLM in the
// exact structured-document contract from §7.
func buildSystemPrompt(subject string, writeX, writeY0 float64) string {
	subj := subject
	if subj == "" {
		subj = "the topic the student brings up"
	}
	return fmt.Sprintf(systemPromptTemplate, subj, int(writeX), int(writeY0))
}

// buildMessages converts session history plus the latest board snapshot
// into the Message list passed to the LLM, attaching the snapshot image to
// the final message when available and the model can accept it.
func buildMessages(history []session.Turn, snap *session.Snapshot, supportsVision bool) []types.Message {
	msgs := make([]types.Message, 0, len(history))
	for _, turn := range history {
		role := "user"
		if turn.Role == session.RoleTutor {
			role = "assistant"
		}
		msgs = append(msgs, types.Message{Role: role, Content: turn.Content})
	}

	if snap != nil && supportsVision && len(msgs) > 0 {
		last := &msgs[len(msgs)-1]
		if last.Role == "user" {
			last.Images = append(last.Images, types.Image{Base64: snap.ImageBase64, MimeType: "image/png"})
		}
	}

	return msgs
}

// syntheticProactiveNote is the placeholder student turn content for a
// proactive check (§4.3 trigger 4, §4.8).
const syntheticProactiveNote = "[checking my work on the board]"
