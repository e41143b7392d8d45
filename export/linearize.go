package export

import (
	"regexp"
	"sort"
	"strings"

	"chatgpt-archive/domain"
)

// Inline markup stripped from extracted text: private-use reasoning blocks,
// citation/finance bracket tags, and bracketed pseudo-footnote markers.
var (
	reasoningBlockRe = regexp.MustCompile("[^]*")
	citeTagRe        = regexp.MustCompile(`\[(?:cite|finance):[^\]]+\]`)
	footnoteRe       = regexp.MustCompile("【[^】]*】")
)

// PrimaryPath picks one root-to-leaf path through the message graph. A valid
// currentNode reproduces the path the original UI was showing; otherwise the
// node with the latest create/update timestamp acts as a proxy leaf. With no
// timestamps at all the path degrades to a stable lexicographic-by-id order
// over all nodes, which carries no ordering guarantee beyond determinism.
func PrimaryPath(mapping map[string]domain.MappingNode, currentNode string) []string {
	if len(mapping) == 0 {
		return nil
	}
	if currentNode != "" {
		if _, ok := mapping[currentNode]; ok {
			return walkToRoot(mapping, currentNode)
		}
	}

	ids := sortedNodeIDs(mapping)
	bestID := ""
	bestTS := -1.0
	for _, id := range ids {
		node := mapping[id]
		if node.Message == nil {
			continue
		}
		ts := node.Message.CreateTime
		if ts == 0 {
			ts = node.Message.UpdateTime
		}
		if ts == 0 {
			continue
		}
		if ts >= bestTS {
			bestTS = ts
			bestID = id
		}
	}
	if bestID != "" {
		return walkToRoot(mapping, bestID)
	}
	return ids
}

func walkToRoot(mapping map[string]domain.MappingNode, nodeID string) []string {
	var chain []string
	for nodeID != "" {
		chain = append(chain, nodeID)
		node, ok := mapping[nodeID]
		if !ok {
			break
		}
		nodeID = node.Parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func sortedNodeIDs(mapping map[string]domain.MappingNode) []string {
	ids := make([]string, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExtractMessages linearizes the graph and materializes the display-eligible
// messages along the path. Non user/assistant roles, system-internal and
// reasoning messages, and messages yielding neither text nor attachments are
// dropped.
func ExtractMessages(mapping map[string]domain.MappingNode, currentNode string, assets AssetIndex) []domain.TranscriptMessage {
	var messages []domain.TranscriptMessage
	for _, nodeID := range PrimaryPath(mapping, currentNode) {
		node, ok := mapping[nodeID]
		if !ok || node.Message == nil {
			continue
		}
		msg := node.Message
		role := msg.Author.Role
		if role != "user" && role != "assistant" {
			continue
		}
		if msg.Metadata.IsSystemMessage || msg.Metadata.ReasoningStatus != "" {
			continue
		}
		text, attachments := extractPayload(msg, assets)
		if text == "" && len(attachments) == 0 {
			continue
		}
		ts := msg.CreateTime
		if ts == 0 {
			ts = msg.UpdateTime
		}
		messages = append(messages, domain.TranscriptMessage{
			ID:          nodeID,
			Role:        role,
			Text:        text,
			Timestamp:   ts,
			Metadata:    msg.Metadata,
			Attachments: attachments,
		})
	}
	return messages
}

// extractPayload returns the text and attachments for a raw message. Only
// plain and multimodal text content yields text; other content types still
// surface their asset parts.
func extractPayload(msg *domain.ExportMessage, assets AssetIndex) (string, []domain.Attachment) {
	content := msg.Content
	if content == nil {
		return "", nil
	}
	var textParts []string
	var attachments []domain.Attachment

	textual := content.ContentType == "text" || content.ContentType == "multimodal_text"
	for _, part := range content.Parts {
		switch part.Kind {
		case domain.PartAsset:
			assetID := AssetIDFromPointer(part.AssetPointer)
			if assetID == "" {
				continue
			}
			att := domain.Attachment{
				AssetID:   assetID,
				Pointer:   part.AssetPointer,
				Width:     part.Width,
				Height:    part.Height,
				SizeBytes: part.SizeBytes,
			}
			if src, ok := assets.Resolve(assetID); ok {
				att.SourcePath = src
			}
			attachments = append(attachments, att)
		case domain.PartText:
			if textual {
				textParts = append(textParts, part.Text)
			}
		}
	}
	if !textual {
		return "", attachments
	}
	raw := strings.TrimSpace(strings.Join(textParts, "\n"))
	return StripInlineMarkers(raw), attachments
}

// StripInlineMarkers removes embedded reasoning and citation markup from
// extracted text.
func StripInlineMarkers(text string) string {
	if text == "" {
		return text
	}
	text = reasoningBlockRe.ReplaceAllString(text, "")
	text = citeTagRe.ReplaceAllString(text, "")
	text = footnoteRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// CollectGizmoID returns the first project grouping id seen on the transcript.
func CollectGizmoID(messages []domain.TranscriptMessage) string {
	for _, msg := range messages {
		if msg.Metadata.GizmoID != "" {
			return msg.Metadata.GizmoID
		}
	}
	return ""
}

// CollectModel returns the most recent model label seen on the transcript.
func CollectModel(messages []domain.TranscriptMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if label := messages[i].Metadata.ModelLabel(); label != "" {
			return label
		}
	}
	return ""
}
