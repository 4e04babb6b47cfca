package knowledgebase

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies a knowledgebase encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

//go:embed data/default.yaml
var defaultData []byte

// FormatFromPath infers the encoding from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported knowledgebase format %q", filepath.Ext(path))
	}
}

// Load reads and decodes the knowledgebase at path.
func Load(path string) (*Knowledgebase, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledgebase %s: %w", path, err)
	}
	kb, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse knowledgebase %s: %w", path, err)
	}
	return kb, nil
}

// Parse decodes a knowledgebase document.
func Parse(data []byte, format Format) (*Knowledgebase, error) {
	var kb Knowledgebase
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &kb); err != nil {
			return nil, err
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&kb); err != nil {
			return nil, err
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &kb); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported knowledgebase format %q", format)
	}
	return &kb, nil
}

// Default returns the knowledgebase compiled into the binary.
func Default() *Knowledgebase {
	kb, err := Parse(defaultData, FormatYAML)
	if err != nil {
		panic(fmt.Sprintf("knowledgebase: embedded default is invalid: %v", err))
	}
	return kb
}

// LoadOrDefault loads path, or returns the embedded knowledgebase when path is empty.
func LoadOrDefault(path string) (*Knowledgebase, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}
