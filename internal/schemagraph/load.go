package schemagraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies a schema graph document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Document is the serialized form of a schema graph.
type Document struct {
	Tables        []Table        `json:"tables" yaml:"tables"`
	Relationships []Relationship `json:"relationships" yaml:"relationships"`
}

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Decode parses raw bytes into a validated graph.
func Decode(raw []byte, format Format) (*Graph, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode schema graph json: %w", err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode schema graph yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema graph format %q", format)
	}
	return New(doc.Tables, doc.Relationships)
}

// Load reads and validates a graph document from r.
func Load(r io.Reader, format Format) (*Graph, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema graph: %w", err)
	}
	return Decode(raw, format)
}

// LoadFile reads a graph document from disk, inferring the format from its extension.
func LoadFile(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema graph file %q: %w", path, err)
	}
	return Decode(raw, FormatFromPath(path))
}

// Document returns the serializable form of the graph.
func (g *Graph) Document() Document {
	return Document{
		Tables:        g.Tables(),
		Relationships: g.Relationships(),
	}
}
