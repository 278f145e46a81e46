package models

// Content is the message a stage sends, after template resolution and before
// per-recipient personalization.
type Content struct {
	Subject string        `json:"subject,omitempty"`
	Body    string        `json:"body"`
	IsHTML  bool          `json:"is_html,omitempty"`
	Source  ContentSource `json:"source"`
}
