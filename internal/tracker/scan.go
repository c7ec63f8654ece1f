package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// supportedExtensions are the file types the incremental scan walks
// (spec §4.10 "scan").
var supportedExtensions = map[string]bool{
	".docx": true, ".pdf": true, ".txt": true, ".md": true, ".markdown": true,
}

var orderPrefixRe = regexp.MustCompile(`^(\d+)_`)

// walkDocuments finds every supported, non-temporary file under root,
// sorted for deterministic scan order.
func walkDocuments(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "~$") {
			return nil
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(name))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortStrings(files)
	return files, nil
}

func sortStrings(xs []string) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// hashFile computes the SHA-256 of a file's content (spec §4.10 "scan").
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// categoryAndOrder infers (category, order) from the path template
// `.../master/<category>/NN_name.ext`, defaulting to ("uncategorized", 999)
// (spec §4.10 "scan").
func categoryAndOrder(path string) (string, int) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	masterIdx := -1
	for i, p := range parts {
		if p == "master" {
			masterIdx = i
			break
		}
	}
	if masterIdx >= 0 && len(parts) > masterIdx+2 {
		category := parts[masterIdx+1]
		filename := parts[len(parts)-1]
		order := 999
		if m := orderPrefixRe.FindStringSubmatch(filename); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				order = n
			}
		}
		return category, order
	}
	return "uncategorized", 999
}

// decideAction implements the scan → action table (spec §4.9 "Decide").
func decideAction(existing *IngestionStatus, currentHash string, currentSize int64, now time.Time) (Action, string) {
	if existing == nil {
		return ActionIngest, "new document"
	}
	if existing.ContentHash != currentHash || existing.Size != currentSize {
		return ActionCleanupAndReingest, "file modified"
	}
	switch existing.State {
	case StateCompleted:
		return ActionSkip, "already completed"
	case StateFailed, StatePartial:
		return ActionCleanupAndReingest, "previous " + string(existing.State)
	case StateProcessing:
		if isStale(existing.IngestionStartedAt, now) {
			return ActionCleanupAndReingest, "stale processing"
		}
		return ActionSkip, "currently processing"
	case StatePending:
		return ActionIngest, "resume pending"
	default:
		return ActionIngest, "unknown status"
	}
}
