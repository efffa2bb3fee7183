package runloop

import (
	"fmt"

	"github.com/driftwoodlabs/relay/llmstream"
)

// DefaultInlineLimit is the attachment size above which content must be
// passed by reference rather than inline.
const DefaultInlineLimit = 256 * 1024

// Attachment is a user-supplied attachment, already materialized as
// inline bytes or a pre-uploaded resource handle.
type Attachment struct {
	Name      string
	MediaType string
	Data      []byte // inline content, if any
	URI       string // pre-uploaded resource handle, if any
	Size      int64  // declared size; 0 means len(Data)
}

// SkipNote records an attachment dropped during assembly.
type SkipNote struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Assembler builds the ordered message list sent to the reasoning
// service from history, the new user text, and attachments.
type Assembler struct {
	// InlineLimit is the maximum attachment size carried inline.
	// Larger attachments must arrive as resource handles. 0 means
	// DefaultInlineLimit.
	InlineLimit int64
}

// Assemble returns the full ordered turn list. The latest user turn
// carries attachment metadata interleaved with binary or reference
// parts. Attachments failing validation are dropped with a skip note;
// assembly itself never fails.
func (a *Assembler) Assemble(history []StoredMessage, userText string, attachments []Attachment) ([]llmstream.Message, []SkipNote) {
	limit := a.InlineLimit
	if limit == 0 {
		limit = DefaultInlineLimit
	}

	var messages []llmstream.Message
	for _, m := range history {
		switch m.Role {
		case "user":
			messages = append(messages, llmstream.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, llmstream.AssistantMessage(m.Content))
		}
	}

	user := llmstream.Message{Role: llmstream.RoleUser}
	if userText != "" {
		user.Parts = append(user.Parts, llmstream.TextPart(userText))
	}

	var skipped []SkipNote
	for _, att := range attachments {
		part, note := a.attachmentPart(att, limit)
		if note != nil {
			skipped = append(skipped, *note)
			continue
		}
		// Metadata line ahead of the binary/reference part, so the model
		// can refer to the attachment by name.
		size := att.Size
		if size == 0 {
			size = int64(len(att.Data))
		}
		user.Parts = append(user.Parts,
			llmstream.TextPart(fmt.Sprintf("Attached: %s (%s, %d bytes)", att.Name, att.MediaType, size)),
			part,
		)
	}

	if len(user.Parts) == 0 {
		user.Parts = append(user.Parts, llmstream.TextPart(""))
	}
	messages = append(messages, user)
	return messages, skipped
}

// attachmentPart validates one attachment and converts it to a part.
func (a *Assembler) attachmentPart(att Attachment, limit int64) (llmstream.Part, *SkipNote) {
	name := att.Name
	if name == "" {
		name = "(unnamed)"
	}

	switch {
	case len(att.Data) == 0 && att.URI == "":
		return llmstream.Part{}, &SkipNote{Name: name, Reason: "no content and no resource handle"}
	case att.MediaType == "":
		return llmstream.Part{}, &SkipNote{Name: name, Reason: "missing media type"}
	case att.URI != "":
		return llmstream.ResourcePart(att.URI, att.MediaType, att.Name, att.Size), nil
	case int64(len(att.Data)) > limit:
		// Too large to inline and no handle to fall back to.
		return llmstream.Part{}, &SkipNote{
			Name:   name,
			Reason: fmt.Sprintf("inline size %d exceeds limit %d and no resource handle provided", len(att.Data), limit),
		}
	default:
		return llmstream.BlobPart(att.Data, att.MediaType, att.Name), nil
	}
}
