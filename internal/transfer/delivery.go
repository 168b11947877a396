package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskDelivery writes received files into Dir without overwriting existing
// files: a clash on "name.ext" becomes "name (1).ext", "name (2).ext" ...
type DiskDelivery struct {
	Dir string
}

func NewDiskDelivery(dir string) *DiskDelivery {
	return &DiskDelivery{Dir: dir}
}

func (d *DiskDelivery) Deliver(fileName string, data []byte) (string, error) {
	name := ExtractFileName(fileName)
	if name == "" || name == ".." {
		return "", ErrEmptyFileName
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path := filepath.Join(d.Dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to close %s: %w", path, err)
		}
		return path, nil
	}
}

// MemoryDelivery keeps delivered files in memory.
type MemoryDelivery struct {
	Files map[string][]byte
}

func NewMemoryDelivery() *MemoryDelivery {
	return &MemoryDelivery{Files: make(map[string][]byte)}
}

func (d *MemoryDelivery) Deliver(fileName string, data []byte) (string, error) {
	d.Files[fileName] = data
	return fileName, nil
}
