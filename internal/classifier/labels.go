package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Labels decodes class indices to crop names. Index i names class i.
type Labels struct {
	classes []string
}

// LoadLabelsFile reads a label decoder artifact from disk.
func LoadLabelsFile(path string) (*Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open label decoder: %w", err)
	}
	defer f.Close()
	labels, err := LoadLabels(f)
	if err != nil {
		return nil, fmt.Errorf("load label decoder %s: %w", path, err)
	}
	return labels, nil
}

// LoadLabels accepts either a bare JSON array of names or {"classes": [...]}.
func LoadLabels(r io.Reader) (*Labels, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	var classes []string
	if len(raw) > 0 && raw[0] == '{' {
		var obj struct {
			Classes []string `json:"classes"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: parse: %v", ErrInvalidArtifact, err)
		}
		classes = obj.Classes
	} else if err := json.Unmarshal(raw, &classes); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidArtifact, err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalidArtifact)
	}
	return &Labels{classes: classes}, nil
}

// Len returns the number of known classes.
func (l *Labels) Len() int { return len(l.classes) }

// Decode implements LabelDecoder.
func (l *Labels) Decode(label int) (string, error) {
	if label < 0 || label >= len(l.classes) {
		return "", fmt.Errorf("%w: %d", ErrUnknownLabel, label)
	}
	return l.classes[label], nil
}
