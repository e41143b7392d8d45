package domain

import "encoding/json"

// ExportConversation is one entry of the export's conversation list.
type ExportConversation struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	CreateTime  float64                `json:"create_time"`
	UpdateTime  float64                `json:"update_time"`
	Mapping     map[string]MappingNode `json:"mapping"`
	CurrentNode string                 `json:"current_node"`
}

// MappingNode is one node of the branching message graph. Parent is empty at
// the root.
type MappingNode struct {
	ID      string         `json:"id"`
	Parent  string         `json:"parent"`
	Message *ExportMessage `json:"message"`
}

// ExportMessage is the raw message payload attached to a mapping node.
type ExportMessage struct {
	Author     Author          `json:"author"`
	CreateTime float64         `json:"create_time"`
	UpdateTime float64         `json:"update_time"`
	Content    *MessageContent `json:"content"`
	Metadata   MessageMetadata `json:"metadata"`
}

// Author identifies who produced a message.
type Author struct {
	Role string `json:"role"`
}

// MessageMetadata is the subset of per-message metadata the pipeline inspects.
type MessageMetadata struct {
	GizmoID         string `json:"gizmo_id,omitempty"`
	ModelSlug       string `json:"model_slug,omitempty"`
	Model           string `json:"model,omitempty"`
	ModelName       string `json:"model_name,omitempty"`
	IsSystemMessage bool   `json:"is_system_message,omitempty"`
	ReasoningStatus string `json:"reasoning_status,omitempty"`
}

// ModelLabel returns the first non-empty model identifier.
func (m MessageMetadata) ModelLabel() string {
	switch {
	case m.ModelSlug != "":
		return m.ModelSlug
	case m.Model != "":
		return m.Model
	default:
		return m.ModelName
	}
}

// MessageContent is a message's content block.
type MessageContent struct {
	ContentType string        `json:"content_type"`
	Parts       []ContentPart `json:"parts"`
}

// PartKind tags a decoded content part.
type PartKind int

const (
	PartOpaque PartKind = iota
	PartText
	PartAsset
)

// ContentPart is one element of a content block's parts list. The export mixes
// plain strings with object parts, so decoding tags each part as text, asset,
// or opaque instead of leaving callers to probe raw maps.
type ContentPart struct {
	Kind         PartKind
	Text         string
	AssetPointer string
	Width        int
	Height       int
	SizeBytes    int64
}

// UnmarshalJSON decodes a part into its tagged variant. Unrecognized shapes
// become opaque parts rather than decode errors.
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Kind = PartText
		p.Text = s
		return nil
	}
	var obj struct {
		Text         *string `json:"text"`
		AssetPointer string  `json:"asset_pointer"`
		Width        int     `json:"width"`
		Height       int     `json:"height"`
		SizeBytes    int64   `json:"size_bytes"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		p.Kind = PartOpaque
		return nil
	}
	switch {
	case obj.AssetPointer != "":
		p.Kind = PartAsset
		p.AssetPointer = obj.AssetPointer
		p.Width = obj.Width
		p.Height = obj.Height
		p.SizeBytes = obj.SizeBytes
	case obj.Text != nil:
		p.Kind = PartText
		p.Text = *obj.Text
	default:
		p.Kind = PartOpaque
	}
	return nil
}
