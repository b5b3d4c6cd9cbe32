package deploy

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/reaatech/funcdock/internal/gitclone"
)

// LocalArchiveMutation returns a Mutation that extracts a zip archive
// (the Control Plane's "deploy/local" multipart upload) into dir.
func LocalArchiveMutation(archivePath string) Mutation {
	return func(ctx context.Context, dir string) error {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clearing target directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}

		r, err := zip.OpenReader(archivePath)
		if err != nil {
			return fmt.Errorf("opening uploaded archive: %w", err)
		}
		defer r.Close()

		for _, f := range r.File {
			target := filepath.Join(dir, f.Name)
			if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != dir {
				return fmt.Errorf("archive entry %q escapes target directory", f.Name)
			}
			if f.FileInfo().IsDir() {
				if err := os.MkdirAll(target, 0o755); err != nil {
					return err
				}
				continue
			}
			if err := extractZipEntry(f, target); err != nil {
				return err
			}
		}
		return nil
	}
}

func extractZipEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// GitMutation returns a Mutation that clones repoURL at branch into dir
// using client. It always performs a fresh clone; an existing checkout at
// dir is replaced, never pulled.
func GitMutation(client *gitclone.Client, repoURL, branch string, auth *gitclone.Auth) Mutation {
	return func(ctx context.Context, dir string) error {
		return client.Clone(ctx, repoURL, dir, branch, auth)
	}
}
