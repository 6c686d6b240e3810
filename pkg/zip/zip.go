package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
)

// File is one archive member read from disk.
type File struct {
	Name string
	Path string
}

// WriteFiles streams files into a zip archive written to w. PNG and video
// members are stored without recompression.
func WriteFiles(w io.Writer, files []File) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, f File) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("zip: open %s: %w", f.Name, err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("zip: stat %s: %w", f.Name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip: header %s: %w", f.Name, err)
	}
	hdr.Name = f.Name
	hdr.Method = zip.Store
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", f.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("zip: write %s: %w", f.Name, err)
	}
	return nil
}
