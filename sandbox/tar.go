package sandbox

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// contextFileMode is the mode of every entry in a build context.
const contextFileMode = 0o644

// contextModTime pins entry timestamps so equal directories pack to equal streams.
var contextModTime = time.Unix(0, 0)

// PackContext writes the top-level regular files of srcDir to w as an
// uncompressed tar stream. Subdirectories are not descended into.
func PackContext(srcDir string, w io.Writer) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return &IOError{Op: "read build context", Path: srcDir, Err: err}
	}

	tarWriter := tar.NewWriter(w)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := appendContextFile(tarWriter, filepath.Join(srcDir, entry.Name()), entry.Name()); err != nil {
			return err
		}
	}

	if err := tarWriter.Close(); err != nil {
		return &IOError{Op: "finish build context", Path: srcDir, Err: err}
	}
	return nil
}

func appendContextFile(tw *tar.Writer, path, name string) error {
	file, err := os.Open(path) //nolint:gosec // path comes from the configured build context
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return &IOError{Op: "stat", Path: path, Err: err}
	}

	// tar.Writer computes the header checksum.
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     info.Size(),
		Mode:     contextFileMode,
		ModTime:  contextModTime,
		Format:   tar.FormatGNU,
	}
	if err := tw.WriteHeader(header); err != nil {
		return &IOError{Op: "write tar header", Path: path, Err: err}
	}
	if _, err := io.Copy(tw, file); err != nil {
		return &IOError{Op: "copy", Path: path, Err: err}
	}
	return nil
}

// PackContextFile stages the build context of srcDir as <tarDir>/<name>.tar
// and returns the path of the archive.
func PackContextFile(srcDir, tarDir, name string) (string, error) {
	if err := os.MkdirAll(tarDir, DirPermission); err != nil {
		return "", &IOError{Op: "create tar dir", Path: tarDir, Err: err}
	}

	tarPath := filepath.Join(tarDir, fmt.Sprintf("%s.tar", name))
	file, err := os.Create(tarPath) //nolint:gosec // tar dir is configured by the operator
	if err != nil {
		return "", &IOError{Op: "create", Path: tarPath, Err: err}
	}

	if err := PackContext(srcDir, file); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", &IOError{Op: "close", Path: tarPath, Err: err}
	}
	return tarPath, nil
}
