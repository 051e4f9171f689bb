package respond

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hostsentry/hostsentry/internal/store"
)

// Quarantine moves a file into the quarantine directory, strips all
// permissions, and writes a QuarantineRecord. It is idempotent: a path that
// was already quarantined, or that no longer exists (race with deletion),
// returns the existing record or a synthetic success without a duplicate
// record.
func (e *Engine) Quarantine(ctx context.Context, path, reason string, automated bool) (*store.QuarantineRecord, error) {
	existing, err := e.store.FindQuarantineByOriginal(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		e.opts.Logger.Printf("already quarantined: %s -> %s", path, existing.QuarantinePath)
		return existing, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// The file disappeared between detection and response. Nothing to
		// move; treat as success without a record.
		e.opts.Logger.Printf("quarantine target already gone: %s", path)
		return &store.QuarantineRecord{
			OriginalPath: path,
			Timestamp:    time.Now(),
			Reason:       reason + " (file removed before quarantine)",
			Automated:    automated,
		}, nil
	}

	if err := os.MkdirAll(e.opts.QuarantineDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	destName := fmt.Sprintf("%s_%s_%s.quarantined",
		time.Now().Format("20060102_150405"),
		uuid.New().String()[:8],
		filepath.Base(path))
	destPath := filepath.Join(e.opts.QuarantineDir, destName)

	// Atomic rename first so a monitor never re-detects a half-moved file;
	// fall back to copy+remove across filesystems.
	if err := os.Rename(path, destPath); err != nil {
		if err := copyAndRemove(path, destPath); err != nil {
			return nil, fmt.Errorf("failed to move file to quarantine: %w", err)
		}
	}

	// Permission-lock the quarantined artifact.
	if err := os.Chmod(destPath, 0); err != nil {
		e.opts.Logger.Printf("could not strip permissions on %s: %v", destPath, err)
	}

	rec := store.QuarantineRecord{
		OriginalPath:   path,
		QuarantinePath: destPath,
		Timestamp:      time.Now(),
		Reason:         reason,
		Automated:      automated,
	}
	if _, err := e.store.AddQuarantineRecord(ctx, rec); err != nil {
		return nil, err
	}

	e.opts.Logger.Printf("quarantined %s -> %s", path, destPath)
	return &rec, nil
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			// Lost the race with deletion; nothing left to move.
			return nil
		}
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
