package llmadapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ContentPart is one typed element of structured message content.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is one conversation turn. Content is either plain text or a
// list of parts; Parts is non-nil only for structured content.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func TextMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

// IsPlainText reports whether the content is a plain string.
func (m Message) IsPlainText() bool {
	return m.Parts == nil
}

// Text returns the text used for size estimation: the plain content, or the
// text parts joined by a single space.
func (m Message) Text() string {
	if m.IsPlainText() {
		return m.Content
	}
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

type messageJSON struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content any = m.Content
	if !m.IsPlainText() {
		content = m.Parts
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{Role: m.Role, Content: raw})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = ""
	m.Parts = nil
	content := bytes.TrimSpace(raw.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
		return nil
	case content[0] == '"':
		return json.Unmarshal(content, &m.Content)
	case content[0] == '[':
		parts := make([]ContentPart, 0)
		if err := json.Unmarshal(content, &parts); err != nil {
			return fmt.Errorf("invalid content parts: %w", err)
		}
		m.Parts = parts
		return nil
	default:
		return fmt.Errorf("message content must be a string or a list of parts")
	}
}
