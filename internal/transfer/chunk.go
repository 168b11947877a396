package transfer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
)

// CalculateTotalChunks is ceil(fileSize / chunkSize).
func CalculateTotalChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 || fileSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// ChunkLength is the size of chunk index in a file of fileSize bytes.
func ChunkLength(index int, chunkSize, fileSize int64) int {
	offset := int64(index) * chunkSize
	if offset >= fileSize {
		return 0
	}
	if remaining := fileSize - offset; remaining < chunkSize {
		return int(remaining)
	}
	return int(chunkSize)
}

func ReadChunkData(r io.ReaderAt, index int, chunkSize, fileSize int64) ([]byte, error) {
	length := ChunkLength(index, chunkSize, fileSize)
	if length == 0 {
		return nil, fmt.Errorf("chunk %d out of range", index)
	}
	data := make([]byte, length)
	n, err := r.ReadAt(data, int64(index)*chunkSize)
	if n == length && (err == nil || errors.Is(err, io.EOF)) {
		return data, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}

// Assemble concatenates chunks by ascending index. It refuses to run while
// any index in [0, total) is missing.
func Assemble(chunks map[int][]byte, total int) ([]byte, bool) {
	if len(chunks) != total {
		return nil, false
	}
	indexes := make([]int, 0, total)
	size := 0
	for i, c := range chunks {
		if i < 0 || i >= total {
			return nil, false
		}
		indexes = append(indexes, i)
		size += len(c)
	}
	sort.Ints(indexes)

	out := make([]byte, 0, size)
	for _, i := range indexes {
		out = append(out, chunks[i]...)
	}
	return out, true
}

func ExtractFileName(path string) string {
	name := filepath.Base(filepath.Clean(path))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
