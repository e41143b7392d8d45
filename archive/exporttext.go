package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"chatgpt-archive/domain"
	"chatgpt-archive/naming"
)

// ExportText renders the selected conversations as one flat plain-text
// transcript grouped by account, project, and conversation, and returns it
// with a download filename derived from the narrowest filter in effect.
// Selecting nothing is a not-found, matching the query surface.
func (e *Engine) ExportText(ctx context.Context, projectID, projectName, sourceID string) (string, string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f := domain.SearchFilter{
		ProjectID: strings.TrimSpace(projectID),
		SourceID:  strings.TrimSpace(sourceID),
	}
	if name := strings.TrimSpace(projectName); name != "" {
		uids, err := e.findProjectUIDsByName(ctx, name)
		if err != nil {
			return "", "", err
		}
		if len(uids) == 0 {
			return "", "", errors.Wrap(ErrNotFound, "no data to export")
		}
		f.ProjectUIDs = uids
	}

	rows, err := e.store.ExportRows(ctx, f)
	if err != nil {
		return "", "", err
	}
	if len(rows) == 0 {
		return "", "", errors.Wrap(ErrNotFound, "no data to export")
	}

	displayNames, err := e.projectDisplayNames(ctx)
	if err != nil {
		return "", "", err
	}

	var lines []string
	var curSource, curProjectUID, curConversation string
	for _, row := range rows {
		if row.SourceID != curSource {
			curSource = row.SourceID
			curProjectUID = ""
			curConversation = ""
			lines = append(lines, fmt.Sprintf("################ ACCOUNT: %s ################", row.SourceID))
		}
		if row.ProjectUID != curProjectUID {
			curProjectUID = row.ProjectUID
			curConversation = ""
			name := displayNames[row.ProjectUID]
			if name == "" {
				name = naming.DefaultProjectName(row.ProjectID)
			}
			lines = append(lines, fmt.Sprintf("======== PROJECT: %s (%s) ========", name, row.ProjectUID))
		}
		if row.ConversationUID != curConversation {
			curConversation = row.ConversationUID
			lines = append(lines,
				fmt.Sprintf("---- CONVERSATION: %s ----", orUntitledTitle(row.Title)),
				fmt.Sprintf("created: %s  updated: %s", exportTimestamp(row.CreatedAt), exportTimestamp(row.UpdatedAt)),
			)
		}
		if row.MessageCreated != 0 {
			lines = append(lines, fmt.Sprintf("[%s @ %s] %s", row.Role, exportTimestamp(row.MessageCreated), row.Content))
		} else {
			lines = append(lines, fmt.Sprintf("[%s] %s", row.Role, row.Content))
		}
	}

	text := strings.TrimSpace(strings.Join(lines, "\n\n")) + "\n"
	return text, exportFilename(f.ProjectID, projectName, f.SourceID), nil
}

// projectDisplayNames maps project uid to the effective display name,
// overrides included.
func (e *Engine) projectDisplayNames(ctx context.Context) (map[string]string, error) {
	projects, err := e.listProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(projects))
	for _, p := range projects {
		out[p.ProjectUID] = p.HumanName
	}
	return out, nil
}

func exportFilename(projectID, projectName, sourceID string) string {
	switch {
	case projectID != "":
		return "export-" + naming.SafeName(projectID, naming.MaxFolderTitle) + ".txt"
	case strings.TrimSpace(projectName) != "":
		return "export-" + naming.SafeName(strings.TrimSpace(projectName), naming.MaxFolderTitle) + ".txt"
	case sourceID != "":
		return "export-" + naming.SafeName(sourceID, naming.MaxFolderTitle) + ".txt"
	default:
		return "export-all.txt"
	}
}

func exportTimestamp(ts float64) string {
	if ts == 0 {
		return "unknown"
	}
	return time.Unix(int64(ts), 0).Format("2006-01-02 15:04:05")
}

func orUntitledTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Untitled"
	}
	return title
}
