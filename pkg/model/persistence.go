package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func init() {
	gob.RegisterName("xenoimm/model.GLU", &GLU{})
	gob.RegisterName("xenoimm/model.Towers", &Towers{})
}

// Checkpoint is what gets written to disk after training: the classifier
// weights plus the metadata needed to reproduce its inputs.
type Checkpoint struct {
	MetaData   *Metadata
	Classifier Classifier
}

func Save(checkpoint *Checkpoint, writer io.Writer) error {
	if err := gob.NewEncoder(writer).Encode(checkpoint); err != nil {
		return fmt.Errorf("error encoding checkpoint: %w", err)
	}
	return nil
}

func Load(reader io.Reader) (*Checkpoint, error) {
	checkpoint := &Checkpoint{}
	if err := gob.NewDecoder(reader).Decode(checkpoint); err != nil {
		return nil, fmt.Errorf("error decoding checkpoint: %w", err)
	}
	return checkpoint, nil
}

// SaveFile writes the checkpoint to path, creating the directory first.
func SaveFile(checkpoint *Checkpoint, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating checkpoint directory %s: %w", dir, err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating checkpoint file %s: %w", path, err)
	}
	defer file.Close()
	return Save(checkpoint, file)
}

func LoadFile(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening checkpoint file %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}
