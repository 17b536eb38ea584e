package loader

import (
	"bytes"
	"errors"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLoader loads configuration from YAML files.
type YAMLLoader struct {
	fs FileSystem
}

// NewYAMLLoader creates a YAML loader reading from fsys.
func NewYAMLLoader(fsys FileSystem) *YAMLLoader {
	return &YAMLLoader{fs: fsys}
}

// Decode implements Loader.
func (l *YAMLLoader) Decode(path string, v any) error {
	data, err := readFile(l.fs, path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytesReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		// An empty document leaves v untouched.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ParseError{Path: path, Message: err.Error(), Err: err}
	}
	return nil
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
