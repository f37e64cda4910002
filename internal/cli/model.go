package cli

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/happyhackingspace/seqtag"
	"github.com/spf13/cobra"
)

func (c *CLI) newModelCommand() *cobra.Command {
	modelCmd := &cobra.Command{
		Use:   "model",
		Short: "Package and fetch model directories as tar.gz archives",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	packCmd := &cobra.Command{
		Use:     "pack <model-dir> <archive.tar.gz>",
		Short:   "Archive a model directory",
		Args:    cobra.ExactArgs(2),
		Example: `  seqtag model pack out model.tar.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return packModel(args[0], args[1])
		},
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch <archive-or-url> <model-dir>",
		Short: "Extract a model archive from a file or an http(s) URL",
		Args:  cobra.ExactArgs(2),
		Example: `  seqtag model fetch model.tar.gz out
  seqtag model fetch https://example.com/ner.tar.gz out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := fetchModel(args[0], args[1])
			if err != nil {
				return err
			}
			if _, err := seqtag.Load(args[1], ""); err != nil {
				slog.Warn("Extracted files do not load as a model", "dir", args[1], "error", err)
			}
			slog.Info("Model extracted", "files", n, "dir", args[1])
			return nil
		},
	}

	modelCmd.AddCommand(packCmd, fetchCmd)
	return modelCmd
}

// packModel writes the model files of dir into a gzip-compressed tar.
func packModel(dir, tarPath string) error {
	slog.Info("Creating archive", "source", dir, "dest", tarPath)
	tf, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tarPath, err)
	}

	gw := gzip.NewWriter(tf)
	tw := tar.NewWriter(gw)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil || rel == "." {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		_ = tw.Close()
		_ = gw.Close()
		_ = tf.Close()
		return fmt.Errorf("create archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		_ = gw.Close()
		_ = tf.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		_ = tf.Close()
		return fmt.Errorf("close gzip: %w", err)
	}
	if err := tf.Close(); err != nil {
		return err
	}
	slog.Info("Archive created", "path", tarPath)
	return nil
}

// fetchModel extracts an archive written by packModel into dir and returns
// the number of files written.
func fetchModel(src, dir string) (int, error) {
	var r io.Reader
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		slog.Info("Downloading model", "url", src)
		resp, err := http.Get(src)
		if err != nil {
			return 0, fmt.Errorf("download model: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("download model: HTTP %d", resp.StatusCode)
		}
		r = resp.Body
	} else {
		f, err := os.Open(src)
		if err != nil {
			return 0, err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	gr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = gr.Close() }()

	root := filepath.Clean(dir)
	tr := tar.NewReader(gr)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(hdr.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return count, fmt.Errorf("archive entry %q escapes %s", hdr.Name, dir)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return count, fmt.Errorf("create parent dir: %w", err)
			}
			f, err := os.Create(target)
			if err != nil {
				return count, fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return count, fmt.Errorf("write file %s: %w", target, err)
			}
			_ = f.Close()
			count++
		}
	}
	return count, nil
}
