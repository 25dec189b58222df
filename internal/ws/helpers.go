package ws

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrAttachmentOutsideRoot rejects attachment paths that are not regular
// files under the attachment root.
var ErrAttachmentOutsideRoot = errors.New("attachment must be a regular file under the upload directory")

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}

// bearerToken reads the token from the Authorization header or, for browser
// clients that cannot set headers on upgrade, the token query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return r.URL.Query().Get("token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// participantIDs splits a comma separated user_ids value.
func participantIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// attachmentFile confines a client supplied attachment path to root. Relative
// paths are taken from root. Symlinks anywhere below root are rejected. An
// empty path is passed through so the controller reports the missing file.
func attachmentFile(root, p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if root == "" {
		return "", ErrAttachmentOutsideRoot
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("attachment root: %w", err)
	}

	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrAttachmentOutsideRoot
	}

	info, err := os.Lstat(full)
	if err != nil {
		return "", fmt.Errorf("attachment: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrAttachmentOutsideRoot
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("attachment root: %w", err)
	}
	realFull, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("attachment: %w", err)
	}
	if realFull != filepath.Join(realRoot, rel) {
		return "", ErrAttachmentOutsideRoot
	}
	return full, nil
}
