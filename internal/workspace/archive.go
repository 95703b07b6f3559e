package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
)

// Archive is a finished zip stream backed by a temporary file. The file is
// deleted when the stream is closed, whether delivery completed or was
// dropped.
type Archive struct {
	file *os.File
	Name string
	Size int64
}

// Read implements io.Reader over the temporary file.
func (a *Archive) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Close closes and removes the backing temporary file.
func (a *Archive) Close() error {
	name := a.file.Name()
	err := a.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	return err
}

// buildArchive zips target into a temporary file. prefix names the archive
// root directory inside the zip.
func buildArchive(target, prefix string) (*Archive, error) {
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", target, err)
	}

	tmp, err := os.CreateTemp("", "workspace-archive-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create archive temp: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})

	if info.IsDir() {
		err = addDirToZip(zw, target, prefix)
	} else {
		err = addFileToZip(zw, target, filepath.Join(prefix, filepath.Base(target)), info)
	}
	if err != nil {
		zw.Close()
		cleanup()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		cleanup()
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, err
	}
	return &Archive{file: tmp, Name: prefix + ".zip", Size: size}, nil
}

func addDirToZip(zw *zip.Writer, dir, prefix string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(prefix, rel))
		if d.IsDir() {
			if path == dir {
				return nil
			}
			_, err := zw.Create(name + "/")
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return addFileToZip(zw, path, name, info)
	})
}

func addFileToZip(zw *zip.Writer, path, name string, info os.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(name)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
