package kernel

import "os"

// SourceReader loads kernel source text.
type SourceReader interface {
	ReadSource(path string) ([]byte, error)
}

// FileReader reads kernel sources from the local filesystem.
type FileReader struct{}

func (FileReader) ReadSource(path string) ([]byte, error) {
	return os.ReadFile(path)
}
