// Package registry implements C9: the in-memory tool catalogue populated
// by scanning a tools directory at startup. Each tool self-describes
// through a fixed JSON contract; the registry never accepts user input.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/namastexlabs/mcp-hub/internal/store"
)

// descriptorFile is the name every tool subdirectory must carry.
const descriptorFile = "tool.json"

// Descriptor is a tool's fixed self-description contract (spec §4.9).
type Descriptor struct {
	Name          string             `json:"name"`
	DisplayName   string             `json:"display_name"`
	Description   string             `json:"description"`
	Category      string             `json:"category"`
	ConfigSchema  json.RawMessage    `json:"config_schema"`
	RequiredOAuth []OAuthRequirement `json:"required_oauth"`
	AuthType      string             `json:"auth_type"`
	Icon          string             `json:"icon,omitempty"`

	// Invocation describes how the Proxy (C11) reaches this tool's child
	// server: in-process name, stdio command+args, or an HTTP base URL.
	Invocation InvocationSpec `json:"invocation"`
}

// OAuthRequirement names an OAuth provider a tool needs a live token for
// and the scopes that token must carry; a token missing a required scope
// is treated the same as a missing token (ReauthRequired), not forwarded
// with insufficient permissions (spec §4.8/§7 scenario S4). A tool.json
// may write a required_oauth entry as a bare provider string when it
// needs no particular scope — UnmarshalJSON below accepts both forms.
type OAuthRequirement struct {
	Provider string   `json:"provider"`
	Scopes   []string `json:"scopes,omitempty"`
}

func (o *OAuthRequirement) UnmarshalJSON(data []byte) error {
	var provider string
	if err := json.Unmarshal(data, &provider); err == nil {
		o.Provider = provider
		o.Scopes = nil
		return nil
	}
	var verbose struct {
		Provider string   `json:"provider"`
		Scopes   []string `json:"scopes"`
	}
	if err := json.Unmarshal(data, &verbose); err != nil {
		return err
	}
	o.Provider, o.Scopes = verbose.Provider, verbose.Scopes
	return nil
}

func (o OAuthRequirement) MarshalJSON() ([]byte, error) {
	if len(o.Scopes) == 0 {
		return json.Marshal(o.Provider)
	}
	return json.Marshal(struct {
		Provider string   `json:"provider"`
		Scopes   []string `json:"scopes"`
	}{o.Provider, o.Scopes})
}

type InvocationSpec struct {
	Kind    string   `json:"kind"` // in_process | stdio | http
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Descriptor
	resolved map[string]*jsonschema.Resolved
	db       *store.Manager
	log      logr.Logger
}

func New(db *store.Manager, log logr.Logger) *Registry {
	return &Registry{
		entries:  make(map[string]Descriptor),
		resolved: make(map[string]*jsonschema.Resolved),
		db:       db,
		log:      log.WithName("registry"),
	}
}

// Refresh re-scans dir and rewrites the on-disk catalogue. A descriptor
// that fails to parse or validate is logged and skipped — it never
// aborts startup (spec §4.9).
func (r *Registry) Refresh(dir string) error {
	found, skipped := scan(dir, r.log)
	for _, s := range skipped {
		r.log.Info("skipping malformed tool descriptor", "reason", s)
	}

	newEntries := make(map[string]Descriptor, len(found))
	newResolved := make(map[string]*jsonschema.Resolved, len(found))
	for _, d := range found {
		resolved, err := compileSchema(d.ConfigSchema)
		if err != nil {
			r.log.Info("skipping tool with invalid config_schema", "tool", d.Name, "error", err.Error())
			continue
		}
		newEntries[d.Name] = d
		newResolved[d.Name] = resolved
	}

	if err := r.db.MarkRegistryEntriesStale(); err != nil {
		return err
	}
	for _, d := range newEntries {
		providers := make([]string, len(d.RequiredOAuth))
		for i, req := range d.RequiredOAuth {
			providers[i] = req.Provider
		}
		if err := r.db.UpsertToolRegistryEntry(&store.ToolRegistryEntry{
			ToolName:      d.Name,
			DisplayName:   d.DisplayName,
			Description:   d.Description,
			Category:      d.Category,
			ConfigSchema:  string(d.ConfigSchema),
			RequiredOAuth: strings.Join(providers, ","),
			AuthType:      d.AuthType,
			Icon:          d.Icon,
			Stale:         false,
		}); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.entries = newEntries
	r.resolved = newResolved
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	return d, ok
}

func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	return out
}

// ValidateConfig validates partial against tool's compiled config_schema,
// returning field-path-keyed messages on failure (spec §4.10 activate).
// When the schema declares properties, a key outside them is rejected.
func (r *Registry) ValidateConfig(toolName string, partial map[string]any) (fieldErrors map[string]string, err error) {
	r.mu.RLock()
	resolved, ok := r.resolved[toolName]
	desc := r.entries[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no compiled schema for tool %q", toolName)
	}
	var declared struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if json.Unmarshal(desc.ConfigSchema, &declared) == nil && declared.Properties != nil {
		unknown := make(map[string]string)
		for key := range partial {
			if _, ok := declared.Properties[key]; !ok {
				unknown[key] = "unknown config key"
			}
		}
		if len(unknown) > 0 {
			return unknown, nil
		}
	}
	if err := resolved.Validate(partial); err != nil {
		return fieldErrorsFromValidation(err), nil
	}
	return nil, nil
}

// EncryptedKeys returns the config keys this tool's schema marks
// `x-encrypted: true`, used by C10 to decide which ToolConfig values to
// seal via C1 before persisting.
func (r *Registry) EncryptedKeys(toolName string) map[string]bool {
	r.mu.RLock()
	d, ok := r.entries[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return encryptedKeysFromSchema(d.ConfigSchema)
}

func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("invalid config_schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config_schema: %w", err)
	}
	return resolved, nil
}

func scan(dir string, log logr.Logger) ([]Descriptor, []string) {
	var found []Descriptor
	var skipped []string

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Error(err, "failed to read tools directory", "dir", dir)
		return found, skipped
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), descriptorFile)
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				skipped = append(skipped, fmt.Sprintf("%s: %v", path, err))
			}
			continue
		}
		var d Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		if d.Name == "" {
			skipped = append(skipped, fmt.Sprintf("%s: missing required field \"name\"", path))
			continue
		}
		found = append(found, d)
	}
	return found, skipped
}

func fieldErrorsFromValidation(err error) map[string]string {
	// jsonschema.Resolved.Validate returns a single aggregate error; the
	// Hub's InvalidConfig contract wants field-path keys, so without a
	// structured multi-error from the validator every failure is reported
	// against the schema root. Good enough for single-violation configs,
	// which is the overwhelming common case for activate/update_config.
	return map[string]string{"$": err.Error()}
}

func encryptedKeysFromSchema(raw json.RawMessage) map[string]bool {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}
	props, _ := generic["properties"].(map[string]any)
	out := make(map[string]bool)
	for key, v := range props {
		if propMap, ok := v.(map[string]any); ok {
			if enc, _ := propMap["x-encrypted"].(bool); enc {
				out[key] = true
			}
		}
	}
	return out
}
