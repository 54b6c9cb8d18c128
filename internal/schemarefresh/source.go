package schemarefresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"querycanvas/internal/schemagraph"
)

// Source supplies the raw schema graph document.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	Read(ctx context.Context) ([]byte, schemagraph.Format, error)
}

// FileSource reads the graph from a YAML or JSON file; the format follows the extension.
type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return f.Path }

func (f FileSource) Read(ctx context.Context) ([]byte, schemagraph.Format, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read schema graph %s: %w", f.Path, err)
	}
	return raw, schemagraph.FormatFromPath(f.Path), nil
}

// StaticSource serves a fixed document.
type StaticSource struct {
	Label  string
	Data   []byte
	Format schemagraph.Format
}

func (s StaticSource) Name() string {
	if s.Label == "" {
		return "static"
	}
	return s.Label
}

func (s StaticSource) Read(context.Context) ([]byte, schemagraph.Format, error) {
	return s.Data, s.Format, nil
}

// fingerprint hashes the decoded graph per component so formatting-only edits
// to the file do not trigger a swap.
func fingerprint(g *schemagraph.Graph) fingerprintDetails {
	tables := sha256.New()
	list := append([]schemagraph.Table(nil), g.Tables()...)
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	for _, t := range list {
		writeCells(tables, t.ID, string(t.Kind), t.Label)
		for _, c := range t.Columns {
			writeCells(tables, "", c.Name, c.Type)
		}
	}

	// Relationship order is kept: path tie-breaking depends on it.
	rels := sha256.New()
	for _, r := range g.Relationships() {
		writeCells(rels, r.ID, r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
	}

	components := map[string]string{
		"tables":        hex.EncodeToString(tables.Sum(nil)),
		"relationships": hex.EncodeToString(rels.Sum(nil)),
	}
	return fingerprintDetails{
		Value:      combineComponentHashes(components),
		Components: components,
	}
}

// writeCells writes one length-prefixed row so delimiters inside values cannot collide.
func writeCells(h io.Writer, cells ...string) {
	for _, cell := range cells {
		_, _ = fmt.Fprintf(h, "%d:%s|", len(cell), cell)
	}
	_, _ = h.Write([]byte{'\n'})
}
