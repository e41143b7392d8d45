// Package domain defines the core data model for the archive.
package domain

// Conversation is one indexed conversation row.
type Conversation struct {
	ConversationUID string  `json:"conversation_uid"`
	SourceID        string  `json:"source_id"`
	ConversationID  string  `json:"conversation_id"`
	ProjectID       string  `json:"project_id"`
	ProjectUID      string  `json:"project_uid"`
	Title           string  `json:"title"`
	CreatedAt       float64 `json:"created_at"`
	UpdatedAt       float64 `json:"updated_at"`
	Snippet         string  `json:"snippet"`
	Folder          string  `json:"folder"`
	Model           string  `json:"model,omitempty"`
}

// Message is one indexed message row. Message rows are ephemeral relative to
// their conversation: a re-import always deletes and regenerates them wholesale.
type Message struct {
	ConversationUID string  `json:"conversation_uid"`
	SourceID        string  `json:"source_id"`
	Role            string  `json:"role"`
	Content         string  `json:"content"`
	CreatedAt       float64 `json:"created_at"`
}

// Project is one aggregate row over the conversations grouped by
// (source_id, project_id). It doubles as the _meta.json sidecar payload.
type Project struct {
	ProjectUID        string  `json:"project_uid"`
	SourceID          string  `json:"source_id"`
	ProjectID         string  `json:"project_id"`
	HumanName         string  `json:"human_name"`
	ConversationCount int     `json:"conversation_count"`
	FirstMessageTime  float64 `json:"first_message_time"`
	LastMessageTime   float64 `json:"last_message_time"`
}

// ProjectAggregate is the raw grouping result projects are derived from.
type ProjectAggregate struct {
	SourceID         string
	ProjectID        string
	Count            int
	FirstMessageTime float64
	LastMessageTime  float64
}

// Attachment is an asset reference living on a transcript message.
type Attachment struct {
	AssetID    string `json:"asset_id"`
	Pointer    string `json:"pointer"`
	SourcePath string `json:"source_path,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	// LocalPath is relative to the conversation folder, Path to the archive root.
	// Both are set once the asset has been copied next to the transcript.
	LocalPath string `json:"local_path,omitempty"`
	Path      string `json:"path,omitempty"`
}

// TranscriptMessage is one display-eligible message of a linearized transcript.
type TranscriptMessage struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Text        string          `json:"text"`
	Timestamp   float64         `json:"timestamp"`
	Metadata    MessageMetadata `json:"metadata"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

// RecordMetadata carries the conversation-level metadata embedded in the record.
type RecordMetadata struct {
	GizmoID  string `json:"gizmo_id"`
	Model    string `json:"model"`
	SourceID string `json:"source_id"`
}

// RecordFiles cross-references the rendered representations next to the record.
type RecordFiles struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Obsidian string `json:"obsidian"`
}

// ConversationRecord is the structured transcript written as conversation.json.
// It is the source of truth for re-serving conversation detail.
type ConversationRecord struct {
	ConversationUID string              `json:"conversation_uid"`
	ConversationID  string              `json:"conversation_id"`
	ProjectID       string              `json:"project_id"`
	ProjectUID      string              `json:"project_uid"`
	SourceID        string              `json:"source_id"`
	SourceIndex     int                 `json:"source_index"`
	Title           string              `json:"title"`
	CreatedAt       float64             `json:"created_at"`
	UpdatedAt       float64             `json:"updated_at"`
	Messages        []TranscriptMessage `json:"messages"`
	Metadata        RecordMetadata      `json:"metadata"`
	Files           RecordFiles         `json:"files"`
}

// SearchFilter selects conversations. Zero values mean "not filtered".
type SearchFilter struct {
	Query       string
	ProjectID   string   // raw project id or composite uid
	ProjectName string   // display name, resolved to ProjectUIDs by the engine
	ProjectUIDs []string // resolved uid set; non-nil empty set yields no results
	SourceID    string
	Role        string
	Model       string // exact label, or the synthetic "research"/"chat" classes
	DateFrom    float64
	DateTo      float64
	Limit       int
}

// ExistingConversation is the slice of an indexed conversation the incremental
// import compares against.
type ExistingConversation struct {
	UpdatedAt float64
	Folder    string
}

// ImportRun is one recorded import run.
type ImportRun struct {
	ImportID      string  `json:"import_id"`
	SourceID      string  `json:"source_id"`
	StartedAt     float64 `json:"started_at"`
	CompletedAt   float64 `json:"completed_at"`
	Conversations int     `json:"conversations"`
}

// ExportRow is one row of the flat-transcript export join.
type ExportRow struct {
	SourceID        string
	ProjectID       string
	ProjectUID      string
	Title           string
	ConversationUID string
	CreatedAt       float64
	UpdatedAt       float64
	Role            string
	Content         string
	MessageCreated  float64
}

// WebPaths are the /files/ URLs for a conversation's rendered artifacts.
type WebPaths struct {
	JSON     string `json:"json"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	Obsidian string `json:"obsidian"`
}

// DetailPaths locates a conversation's artifacts on disk and over HTTP.
type DetailPaths struct {
	JSON     string   `json:"json"`
	Markdown string   `json:"markdown"`
	HTML     string   `json:"html"`
	Obsidian string   `json:"obsidian"`
	Web      WebPaths `json:"web"`
}

// ConversationDetail is a conversation row hydrated with its on-disk artifacts.
// Missing artifact files degrade to empty fields, never to an error.
type ConversationDetail struct {
	ConversationUID string              `json:"conversation_uid"`
	ConversationID  string              `json:"conversation_id"`
	SourceID        string              `json:"source_id"`
	ProjectID       string              `json:"project_id"`
	ProjectUID      string              `json:"project_uid"`
	Record          *ConversationRecord `json:"conversation"`
	Markdown        string              `json:"markdown"`
	HTML            string              `json:"html"`
	Obsidian        string              `json:"obsidian"`
	Paths           DetailPaths         `json:"paths"`
}
