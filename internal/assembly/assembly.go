// Package assembly manages the synthesized output directory: one template per
// stack plus a manifest describing each of them.
package assembly

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/picklr-io/stackr/internal/engine"
	"github.com/picklr-io/stackr/internal/ir"
	"github.com/picklr-io/stackr/internal/logging"
)

// ManifestFile is the manifest name inside the assembly directory.
const ManifestFile = "manifest.json"

// ManifestVersion is bumped when the manifest layout changes.
const ManifestVersion = 1

// Manifest lists the synthesized stacks.
type Manifest struct {
	Version int               `json:"version"`
	Stacks  map[string]*Entry `json:"stacks"`
}

// Entry describes one synthesized stack.
type Entry struct {
	Topology      string    `json:"topology"`
	StackName     string    `json:"stackName"`
	Scope         string    `json:"scope"`
	Region        string    `json:"region"`
	TemplateFile  string    `json:"templateFile"`
	Format        ir.Format `json:"format"`
	Hash          string    `json:"hash"`
	Resources     int       `json:"resources"`
	Endpoint      string    `json:"endpoint"`
	Export        string    `json:"export,omitempty"`
	SynthesizedAt string    `json:"synthesizedAt"`
}

// Manager reads and writes an assembly directory.
type Manager struct {
	dir string
	now func() time.Time
}

func NewManager(dir string) *Manager {
	return &Manager{
		dir: dir,
		now: time.Now,
	}
}

// Dir returns the assembly directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Artifact is a rendered template ready to be written.
type Artifact struct {
	Topology  string
	StackName string
	Scope     string
	Region    string
	Format    ir.Format
	Template  *ir.Template
}

// Write renders the artifact's template, stores it as <stack>.template.<format>
// and records it in the manifest. It returns the manifest entry.
func (m *Manager) Write(a *Artifact) (*Entry, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assembly directory: %w", err)
	}

	body, err := ir.Render(a.Template, a.Format)
	if err != nil {
		return nil, err
	}
	hash, err := engine.Hash(a.Template)
	if err != nil {
		return nil, err
	}

	manifest, err := m.ReadManifest()
	if err != nil {
		return nil, err
	}

	file := TemplateFile(a.StackName, a.Format)
	if err := os.WriteFile(filepath.Join(m.dir, file), body, 0644); err != nil {
		return nil, fmt.Errorf("failed to write template %s: %w", file, err)
	}

	entry := &Entry{
		Topology:      a.Topology,
		StackName:     a.StackName,
		Scope:         a.Scope,
		Region:        a.Region,
		TemplateFile:  file,
		Format:        a.Format,
		Hash:          hash,
		Resources:     len(a.Template.Resources),
		SynthesizedAt: m.now().UTC().Format(time.RFC3339),
	}
	if endpoints := a.Template.Endpoints(); len(endpoints) == 1 {
		entry.Endpoint = endpoints[0]
		entry.Export = a.Template.Outputs[endpoints[0]].ExportName
	}

	// Drop the other format's file left by an earlier synth.
	if old, ok := manifest.Stacks[a.StackName]; ok && old.TemplateFile != file {
		_ = os.Remove(filepath.Join(m.dir, old.TemplateFile))
	}
	manifest.Stacks[a.StackName] = entry

	if err := m.writeManifest(manifest); err != nil {
		return nil, err
	}
	logging.Debug("wrote template", "stack", a.StackName, "file", file, "resources", entry.Resources)
	return entry, nil
}

// ReadManifest loads the manifest. A missing manifest is an empty one.
func (m *Manager) ReadManifest() (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return &Manifest{Version: ManifestVersion, Stacks: map[string]*Entry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	if manifest.Stacks == nil {
		manifest.Stacks = map[string]*Entry{}
	}
	return &manifest, nil
}

// Entries returns the manifest entries sorted by stack name.
func (m *Manager) Entries() ([]*Entry, error) {
	manifest, err := m.ReadManifest()
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(manifest.Stacks))
	for _, e := range manifest.Stacks {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].StackName < entries[j].StackName })
	return entries, nil
}

// Read returns the entry and raw template body of a synthesized stack.
func (m *Manager) Read(stackName string) (*Entry, []byte, error) {
	manifest, err := m.ReadManifest()
	if err != nil {
		return nil, nil, err
	}
	entry, ok := manifest.Stacks[stackName]
	if !ok {
		return nil, nil, fmt.Errorf("stack %s has not been synthesized in %s", stackName, m.dir)
	}
	body, err := os.ReadFile(filepath.Join(m.dir, entry.TemplateFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read template %s: %w", entry.TemplateFile, err)
	}
	return entry, body, nil
}

// Remove deletes a stack's template and manifest entry.
func (m *Manager) Remove(stackName string) error {
	manifest, err := m.ReadManifest()
	if err != nil {
		return err
	}
	entry, ok := manifest.Stacks[stackName]
	if !ok {
		return nil
	}
	if err := os.Remove(filepath.Join(m.dir, entry.TemplateFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove template %s: %w", entry.TemplateFile, err)
	}
	delete(manifest.Stacks, stackName)
	return m.writeManifest(manifest)
}

func (m *Manager) writeManifest(manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	path := filepath.Join(m.dir, ManifestFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// TemplateFile names the template file of a stack.
func TemplateFile(stackName string, format ir.Format) string {
	ext := "json"
	if format == ir.FormatYAML {
		ext = "yaml"
	}
	return fmt.Sprintf("%s.template.%s", stackName, ext)
}
