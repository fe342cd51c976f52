package cli

import (
	"fmt"
	"os"

	"github.com/sbl8/stencilkit/descriptor"
	"github.com/sbl8/stencilkit/settings"
)

// LoadError wraps a path with the operation that failed against it.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadDescriptor reads and decodes a compiled .skd descriptor file.
func LoadDescriptor(path string) (*descriptor.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "reading descriptor file", Err: err}
	}
	d, err := descriptor.Decode(data)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "decoding descriptor", Err: err}
	}
	return d, nil
}

// LoadConfig reads the tuning-level YAML config alongside a descriptor.
func LoadConfig(path string) (*settings.FileConfig, error) {
	cfg, err := settings.LoadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "loading config", Err: err}
	}
	return cfg, nil
}
