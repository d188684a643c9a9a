package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/curatorhq/curator/pkg/storage"
)

// downloadContainer streams every blob under the container into dir,
// preserving the prefix layout the site generator expects.
func downloadContainer(ctx context.Context, store storage.Store, container, dir string) (int, error) {
	names, err := store.List(ctx, container, "")
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", container, err)
	}

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		data, err := store.Get(ctx, container, name)
		if err != nil {
			return i, fmt.Errorf("downloading %s/%s: %w", container, name, err)
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return i, err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return i, err
		}
	}
	return len(names), nil
}

// mirrorContainer copies every blob from src to dst, logging progress and
// honoring cancellation at each file boundary. Used for both backup
// (web to backup) and rollback (backup to web); copies never move, so an
// aborted pass leaves the source intact.
func mirrorContainer(ctx context.Context, store storage.Store, src, dst string, progressEvery int) (int, error) {
	names, err := store.List(ctx, src, "")
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", src, err)
	}

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := store.Copy(ctx, src, name, dst, name); err != nil {
			return i, fmt.Errorf("copying %s/%s: %w", src, name, err)
		}
		if progressEvery > 0 && (i+1)%progressEvery == 0 {
			slog.Info("Mirror progress", "src", src, "dst", dst, "copied", i+1, "total", len(names))
		}
	}
	return len(names), nil
}

// uploadDir walks dir and puts every file into the container under its
// relative path. Cancellation-aware at each file boundary.
func uploadDir(ctx context.Context, store storage.Store, dir, container string, progressEvery int) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking %s: %w", dir, err)
	}

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return i, err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return i, err
		}
		name := filepath.ToSlash(rel)
		err = store.Put(ctx, container, name, data, storage.PutOptions{ContentType: contentTypeFor(name)})
		if err != nil {
			return i, fmt.Errorf("uploading %s: %w", name, err)
		}
		if progressEvery > 0 && (i+1)%progressEvery == 0 {
			slog.Info("Upload progress", "container", container, "uploaded", i+1, "total", len(files))
		}
	}
	return len(files), nil
}

// clearContainer deletes every blob under the container. Used before
// rollback restores the backup so stale files from the failed upload do
// not linger.
func clearContainer(ctx context.Context, store storage.Store, container string) error {
	names, err := store.List(ctx, container, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := store.Delete(ctx, container, name); err != nil {
			return err
		}
	}
	return nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
