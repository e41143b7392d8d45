package export

import (
	"encoding/json"
	"reflect"
	"testing"

	"chatgpt-archive/domain"
)

func mustConversation(t *testing.T, raw string) domain.ExportConversation {
	t.Helper()
	var conv domain.ExportConversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		t.Fatalf("unmarshal conversation: %v", err)
	}
	return conv
}

const branchedConversation = `{
	"id": "conv-1",
	"title": "Branching",
	"current_node": "b2",
	"mapping": {
		"root": {"id": "root", "parent": null, "message": null},
		"a1": {"id": "a1", "parent": "root", "message": {
			"author": {"role": "user"}, "create_time": 100,
			"content": {"content_type": "text", "parts": ["first question"]}, "metadata": {}
		}},
		"a2": {"id": "a2", "parent": "a1", "message": {
			"author": {"role": "assistant"}, "create_time": 110,
			"content": {"content_type": "text", "parts": ["abandoned branch"]}, "metadata": {}
		}},
		"b2": {"id": "b2", "parent": "a1", "message": {
			"author": {"role": "assistant"}, "create_time": 120,
			"content": {"content_type": "text", "parts": ["kept branch"]}, "metadata": {"model_slug": "gpt-4o"}
		}}
	}
}`

func TestPrimaryPathFollowsCurrentNode(t *testing.T) {
	conv := mustConversation(t, branchedConversation)

	path := PrimaryPath(conv.Mapping, conv.CurrentNode)
	want := []string{"root", "a1", "b2"}
	if !reflect.DeepEqual(path, want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
}

func TestPrimaryPathFallsBackToLatestTimestamp(t *testing.T) {
	conv := mustConversation(t, branchedConversation)

	// An unknown current node must not panic, the latest leaf wins instead.
	path := PrimaryPath(conv.Mapping, "missing")
	want := []string{"root", "a1", "b2"}
	if !reflect.DeepEqual(path, want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
}

func TestPrimaryPathDeterministicWithoutTimestamps(t *testing.T) {
	raw := `{
		"mapping": {
			"z": {"id": "z", "parent": null, "message": null},
			"a": {"id": "a", "parent": "z", "message": {
				"author": {"role": "user"},
				"content": {"content_type": "text", "parts": ["hi"]}, "metadata": {}
			}}
		}
	}`
	conv := mustConversation(t, raw)
	first := PrimaryPath(conv.Mapping, "")
	for i := 0; i < 10; i++ {
		if got := PrimaryPath(conv.Mapping, ""); !reflect.DeepEqual(got, first) {
			t.Fatalf("path not deterministic: %v vs %v", got, first)
		}
	}
	if !reflect.DeepEqual(first, []string{"a", "z"}) {
		t.Fatalf("expected lexicographic order, got %v", first)
	}
}

func TestExtractMessagesDropsNonDisplayable(t *testing.T) {
	raw := `{
		"current_node": "n4",
		"mapping": {
			"root": {"id": "root", "parent": null, "message": null},
			"n1": {"id": "n1", "parent": "root", "message": {
				"author": {"role": "system"},
				"content": {"content_type": "text", "parts": ["system prompt"]}, "metadata": {}
			}},
			"n2": {"id": "n2", "parent": "n1", "message": {
				"author": {"role": "user"}, "create_time": 10,
				"content": {"content_type": "text", "parts": ["hello"]}, "metadata": {}
			}},
			"n3": {"id": "n3", "parent": "n2", "message": {
				"author": {"role": "assistant"}, "create_time": 20,
				"content": {"content_type": "text", "parts": ["thinking"]},
				"metadata": {"reasoning_status": "is_reasoning"}
			}},
			"n4": {"id": "n4", "parent": "n3", "message": {
				"author": {"role": "assistant"}, "create_time": 30,
				"content": {"content_type": "text", "parts": ["answer"]}, "metadata": {}
			}}
		}
	}`
	conv := mustConversation(t, raw)

	messages := ExtractMessages(conv.Mapping, conv.CurrentNode, nil)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(messages), messages)
	}
	if messages[0].Role != "user" || messages[0].Text != "hello" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != "assistant" || messages[1].Text != "answer" {
		t.Fatalf("unexpected second message: %+v", messages[1])
	}
}

func TestExtractMessagesCapturesAssets(t *testing.T) {
	raw := `{
		"current_node": "n1",
		"mapping": {
			"root": {"id": "root", "parent": null, "message": null},
			"n1": {"id": "n1", "parent": "root", "message": {
				"author": {"role": "user"}, "create_time": 10,
				"content": {"content_type": "multimodal_text", "parts": [
					{"asset_pointer": "file-service://file-AAA", "width": 640, "height": 480, "size_bytes": 1234},
					"look at this"
				]}, "metadata": {}
			}}
		}
	}`
	conv := mustConversation(t, raw)

	messages := ExtractMessages(conv.Mapping, conv.CurrentNode, AssetIndex{"file-AAA": "/tmp/file-AAA-cat.png"})
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.Text != "look at this" {
		t.Fatalf("unexpected text: %q", msg.Text)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.AssetID != "file-AAA" || att.SourcePath != "/tmp/file-AAA-cat.png" {
		t.Fatalf("unexpected attachment: %+v", att)
	}
	if att.Width != 640 || att.Height != 480 || att.SizeBytes != 1234 {
		t.Fatalf("dimensions lost: %+v", att)
	}
}

func TestStripInlineMarkers(t *testing.T) {
	in := "before hidden reasoning middle [cite:turn1] and [finance:AAPL] end 【4†source】"
	got := StripInlineMarkers(in)
	want := "before  middle  and  end"
	if got != want {
		t.Fatalf("StripInlineMarkers = %q, want %q", got, want)
	}
}

func TestCollectModelPrefersLatest(t *testing.T) {
	messages := []domain.TranscriptMessage{
		{Metadata: domain.MessageMetadata{ModelSlug: "gpt-3.5"}},
		{},
		{Metadata: domain.MessageMetadata{Model: "gpt-4o"}},
	}
	if got := CollectModel(messages); got != "gpt-4o" {
		t.Fatalf("CollectModel = %q", got)
	}
	if got := CollectGizmoID(messages); got != "" {
		t.Fatalf("CollectGizmoID = %q, want empty", got)
	}
}
