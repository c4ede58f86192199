// SPDX-License-Identifier: MIT

// Package storage persists uploaded audio blobs on local disk.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/v2d/internal/log"
)

// Stored describes a persisted audio blob.
type Stored struct {
	// Path is the absolute filesystem location of the blob.
	Path string
	// URL is the client-facing reference recorded on the job and decision.
	URL string
}

// Local writes audio files under root/audio/<userID>/.
type Local struct {
	root string
}

// NewLocal ensures the audio directory exists under root.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: empty root")
	}
	if err := os.MkdirAll(filepath.Join(root, "audio"), 0o750); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &Local{root: root}, nil
}

// Put persists data as a new file for userID and returns its location.
// The stored name combines a timestamp and a random suffix so concurrent
// uploads of the same filename never collide.
func (l *Local) Put(ctx context.Context, userID, filename string, data []byte) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}
	if userID == "" {
		return Stored{}, fmt.Errorf("storage: empty user id")
	}

	dir := filepath.Join(l.root, "audio", sanitize(userID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Stored{}, fmt.Errorf("storage: create user dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s%s",
		time.Now().UnixMilli(),
		uuid.NewString()[:8],
		safeExt(filename),
	)
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0o640); err != nil {
		return Stored{}, fmt.Errorf("storage: write: %w", err)
	}

	logger := log.WithComponentFromContext(ctx, "storage")
	logger.Debug().
		Str("event", "storage.put").
		Str("path", path).
		Int(log.FieldBytes, len(data)).
		Msg("stored audio file")

	return Stored{
		Path: path,
		URL:  "/audio/" + sanitize(userID) + "/" + name,
	}, nil
}

// sanitize strips path separators and dot segments from untrusted name parts.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "..", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" {
		return "_"
	}
	return s
}

// safeExt returns the file extension if it looks like a plain audio
// extension, otherwise an empty string.
func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	switch ext {
	case ".webm", ".wav", ".mp3", ".m4a", ".ogg", ".flac", ".aac":
		return ext
	}
	return ""
}
