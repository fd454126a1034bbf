// Package models defines the closed content-kind set for relayable messages.
package models

// ContentKind identifies one of the relayable message kinds. The set is
// closed; anything else is rejected with ErrUnsupportedContent.
type ContentKind string

const (
	// ContentForward relays a user's message as a native forward.
	ContentForward ContentKind = "forward"
	// ContentText relays plain text with its formatting entities.
	ContentText ContentKind = "text"
	// ContentSticker relays a sticker by file id.
	ContentSticker ContentKind = "sticker"
	// ContentPhoto relays a photo by file id with an optional caption.
	ContentPhoto ContentKind = "photo"
	// ContentVideo relays a video by file id with an optional caption.
	ContentVideo ContentKind = "video"
	// ContentDocument relays a generic document by file id with an optional caption.
	ContentDocument ContentKind = "document"
)

// IsValidContentKind checks if the given content kind is supported.
func IsValidContentKind(k ContentKind) bool {
	switch k {
	case ContentForward, ContentText, ContentSticker, ContentPhoto, ContentVideo, ContentDocument:
		return true
	default:
		return false
	}
}

// Entity is a formatting span inside text or a caption, transport-neutral so
// the core packages do not depend on the Telegram client types.
type Entity struct {
	Type     string `json:"type"`
	Offset   int    `json:"offset"`
	Length   int    `json:"length"`
	URL      string `json:"url,omitempty"`
	Language string `json:"language,omitempty"`
}

// Content is one inbound message reduced to the fields needed to relay it.
// Kind decides which of the remaining fields are meaningful.
type Content struct {
	Kind ContentKind `json:"kind"`

	// Text and Entities are set for ContentText.
	Text     string   `json:"text,omitempty"`
	Entities []Entity `json:"entities,omitempty"`

	// FileID is set for sticker, photo, video and document kinds.
	FileID string `json:"file_id,omitempty"`
	// Caption and CaptionEntities are set for photo, video and document kinds.
	Caption         string   `json:"caption,omitempty"`
	CaptionEntities []Entity `json:"caption_entities,omitempty"`

	// ForwardFromChatID and ForwardMessageID are set for ContentForward and
	// identify the original message to forward natively.
	ForwardFromChatID int64 `json:"forward_from_chat_id,omitempty"`
	ForwardMessageID  int64 `json:"forward_message_id,omitempty"`
}
