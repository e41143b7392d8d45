package artifact

import (
	"io"
	"os"
	"path/filepath"

	"chatgpt-archive/domain"
)

// CopyAttachments copies each distinct resolved asset once into the
// conversation's images/ subfolder and records the folder-relative and
// archive-root-relative paths on the attachment. Unresolved or missing
// sources are left untouched, not treated as errors.
func CopyAttachments(messages []domain.TranscriptMessage, chatDir, relFolder string) {
	imageDir := filepath.Join(chatDir, "images")
	copied := map[string]bool{}
	for i := range messages {
		for j := range messages[i].Attachments {
			att := &messages[i].Attachments[j]
			if att.SourcePath == "" {
				continue
			}
			if _, err := os.Stat(att.SourcePath); err != nil {
				continue
			}
			destName := filepath.Base(att.SourcePath)
			if !copied[att.AssetID] {
				if err := copyFile(att.SourcePath, filepath.Join(imageDir, destName)); err != nil {
					continue
				}
				copied[att.AssetID] = true
			}
			att.LocalPath = "images/" + destName
			att.Path = relFolder + "/images/" + destName
		}
	}
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
