// Package export reads raw conversation exports: unpacking archives, locating
// and decoding the conversation list, resolving exported assets, and
// linearizing branching message graphs into ordered transcripts.
package export

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"chatgpt-archive/domain"
)

// ConversationsFile is the export manifest name.
const ConversationsFile = "conversations.json"

// Unpack returns the directory holding the export contents. Zip archives are
// extracted to a scratch directory; the returned cleanup removes it and must
// be called on every exit path. For plain directories cleanup is a no-op.
func Unpack(path string) (base string, cleanup func(), err error) {
	noop := func() {}
	info, err := os.Stat(path)
	if err != nil {
		return "", noop, errors.Wrapf(err, "unreadable export %s", path)
	}
	if info.IsDir() {
		return path, noop, nil
	}
	if !strings.HasSuffix(strings.ToLower(path), "zip") {
		return "", noop, errors.Errorf("unsupported export type: %s", path)
	}
	tmp, err := os.MkdirTemp("", "chatgpt-export-")
	if err != nil {
		return "", noop, errors.Wrap(err, "create scratch dir")
	}
	cleanup = func() { _ = os.RemoveAll(tmp) }
	if err := extractZip(path, tmp); err != nil {
		cleanup()
		return "", noop, err
	}
	return tmp, cleanup, nil
}

func extractZip(path, dest string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, "open zip %s", path)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dest, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return errors.Errorf("zip entry escapes destination: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrap(err, "extract zip")
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrap(err, "extract zip")
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return errors.Wrap(err, "extract zip")
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return errors.Wrapf(err, "extract zip entry %s", f.Name)
	}
	return nil
}

// LoadConversations locates and decodes the conversation list at the export
// root or one nesting level below it. A missing or non-array manifest fails
// the whole run.
func LoadConversations(base string) ([]domain.ExportConversation, error) {
	path := filepath.Join(base, ConversationsFile)
	if _, err := os.Stat(path); err != nil {
		candidates, _ := filepath.Glob(filepath.Join(base, "*", ConversationsFile))
		if len(candidates) == 0 {
			return nil, errors.Errorf("%s not found in %s", ConversationsFile, base)
		}
		path = candidates[0]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var conversations []domain.ExportConversation
	if err := json.Unmarshal(data, &conversations); err != nil {
		return nil, errors.Wrapf(err, "%s must contain a JSON array", ConversationsFile)
	}
	if conversations == nil {
		// JSON null unmarshals into a nil slice without an error.
		return nil, errors.Errorf("%s must contain a JSON array", ConversationsFile)
	}
	return conversations, nil
}
