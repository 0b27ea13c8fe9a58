// Package scaffold creates the starter files of a new synapse project.
package scaffold

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed templates/research.yml templates/README.md
var templates embed.FS

// file maps a template to its destination relative to the project dir.
type file struct {
	template string
	target   string
}

var files = []file{
	{template: "templates/research.yml", target: filepath.Join("workflows", "research.yml")},
	{template: "templates/README.md", target: "README.md"},
}

// ExistsError is returned when a scaffold target is already present.
// Nothing is written in that case.
type ExistsError struct {
	Path string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("refusing to overwrite %s", e.Path)
}

func (e *ExistsError) Unwrap() error {
	return fs.ErrExist
}

// Init writes the starter workflow and README into dir, creating dir if
// needed. It returns the paths it created.
func Init(dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}

	for _, f := range files {
		path := filepath.Join(dir, f.target)
		if _, err := os.Stat(path); err == nil {
			return nil, &ExistsError{Path: path}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	created := make([]string, 0, len(files))
	for _, f := range files {
		data, err := templates.ReadFile(f.template)
		if err != nil {
			return created, err
		}
		path := filepath.Join(dir, f.target)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return created, err
		}
		if err := writeNew(path, data); err != nil {
			return created, err
		}
		created = append(created, path)
	}
	return created, nil
}

// writeNew fails if path appeared since Init checked for it.
func writeNew(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &ExistsError{Path: path}
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
