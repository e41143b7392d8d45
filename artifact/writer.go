// Package artifact renders a linearized transcript into the archive's
// canonical per-conversation files. All renderers are pure functions of the
// transcript; their only side effect is writing the destination file.
package artifact

import (
	"encoding/json"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"chatgpt-archive/domain"
	"chatgpt-archive/naming"
)

// Canonical file names inside a conversation folder.
const (
	RecordFile   = "conversation.json"
	MarkdownFile = "conversation.md"
	HTMLFile     = "conversation.html"
	ObsidianFile = "conversation-obsidian.md"
)

// WriteMarkdown renders the portable plain transcript.
func WriteMarkdown(title string, createdAt float64, messages []domain.TranscriptMessage, dest string) error {
	lines := []string{
		"# " + orUntitled(title),
		"Date: " + naming.HumanTime(createdAt),
		"",
		"---",
		"",
	}
	for _, msg := range messages {
		lines = append(lines, "**"+capitalizeRole(msg.Role)+":**  ", msg.Text)
		for _, att := range msg.Attachments {
			if att.LocalPath != "" {
				lines = append(lines, "![image]("+att.LocalPath+")")
			}
		}
		lines = append(lines, "")
	}
	return writeFile(dest, strings.Join(lines, "\n"))
}

// WriteHTML renders the standalone styled page.
func WriteHTML(title string, createdAt float64, messages []domain.TranscriptMessage, dest string) error {
	esc := html.EscapeString
	lines := []string{
		"<!doctype html>",
		"<html><head>",
		`<meta charset="UTF-8" />`,
		"<title>" + esc(orUntitled(title)) + "</title>",
		"<style>",
		"html,body{min-height:100%; margin:0; padding:0; background:#0f172a;}",
		"body{display:flex; justify-content:center; font-family:Arial, sans-serif; color:#e5e7eb;}",
		".page{width:min(50vw, 900px); padding:24px; margin:24px auto;}",
		".msg{border:1px solid rgba(255,255,255,0.08); border-radius:12px; padding:12px; margin-bottom:12px; background:#0c1220;}",
		".role{font-weight:700; text-transform:uppercase; font-size:12px; letter-spacing:1px; color:#38bdf8; margin-bottom:6px;}",
		".assistant .role{color:#fbbf24;}",
		".text{white-space:pre-wrap; font-size:14px; line-height:1.5;}",
		".attachments img{max-width:100%; border-radius:8px; margin-top:8px;}",
		"</style>",
		"</head><body>",
		`<div class="page">`,
		"<h1>" + esc(orUntitled(title)) + "</h1>",
		"<div>Date: " + esc(naming.HumanTime(createdAt)) + "</div>",
		"<hr/>",
	}
	for _, msg := range messages {
		lines = append(lines,
			`<div class="msg `+esc(msg.Role)+`">`,
			`<div class="role">`+esc(msg.Role)+`</div>`,
			`<div class="text">`+esc(msg.Text)+`</div>`,
		)
		var imgs []string
		for _, att := range msg.Attachments {
			if att.LocalPath != "" {
				alt := att.AssetID
				if alt == "" {
					alt = "image"
				}
				imgs = append(imgs, `<img src="`+esc(att.LocalPath)+`" alt="`+esc(alt)+`"/>`)
			}
		}
		if len(imgs) > 0 {
			lines = append(lines, `<div class="attachments">`)
			lines = append(lines, imgs...)
			lines = append(lines, "</div>")
		}
		lines = append(lines, "</div>")
	}
	lines = append(lines, "</div></body></html>")
	return writeFile(dest, strings.Join(lines, "\n"))
}

type obsidianFrontmatter struct {
	Title   string `yaml:"title"`
	Date    string `yaml:"date"`
	Project string `yaml:"project"`
	Model   string `yaml:"model"`
}

// WriteObsidian renders the frontmatter-tagged transcript for
// personal-knowledge-base tools.
func WriteObsidian(title string, createdAt float64, projectUID, model string, messages []domain.TranscriptMessage, dest string) error {
	front, err := yaml.Marshal(obsidianFrontmatter{
		Title:   orUntitled(title),
		Date:    naming.HumanTime(createdAt),
		Project: projectUID,
		Model:   model,
	})
	if err != nil {
		return errors.Wrap(err, "marshal frontmatter")
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	for _, msg := range messages {
		b.WriteString("### " + capitalizeRole(msg.Role) + "\n")
		b.WriteString(msg.Text + "\n")
		for _, att := range msg.Attachments {
			if att.LocalPath != "" {
				b.WriteString("![[" + att.LocalPath + "]]\n")
			}
		}
		b.WriteString("\n")
	}
	return writeFile(dest, b.String())
}

// WriteRecord writes the structured transcript record.
func WriteRecord(record *domain.ConversationRecord, dest string) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	return writeFile(dest, string(data)+"\n")
}

// ReadRecord loads a structured transcript record from disk.
func ReadRecord(path string) (*domain.ConversationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read record %s", path)
	}
	var record domain.ConversationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(err, "decode record %s", path)
	}
	return &record, nil
}

func orUntitled(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}

func capitalizeRole(role string) string {
	if role == "" {
		return "Unknown"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

func writeFile(dest, content string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrap(err, "create artifact dir")
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", dest)
	}
	return nil
}
