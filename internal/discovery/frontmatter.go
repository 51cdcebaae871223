package discovery

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// frontmatterDelim brackets the YAML block at the top of an agent file.
const frontmatterDelim = "---"

// Toolkit is the writable `hub` mapping of an agent's frontmatter: its
// icon plus the hub.toolkit subtree (spec §4.12).
type Toolkit struct {
	Icon    string       `yaml:"icon,omitempty"`
	Toolkit ToolkitInner `yaml:"toolkit"`
}

type ToolkitInner struct {
	Tools               []ToolGrant `yaml:"tools,omitempty" json:"tools,omitempty"`
	InheritProjectTools bool        `yaml:"inherit_project_tools" json:"inherit_project_tools"`
	LastConfigured      string      `yaml:"last_configured,omitempty" json:"last_configured,omitempty"`
	ConfiguredBy        string      `yaml:"configured_by,omitempty" json:"configured_by,omitempty"`
}

type ToolGrant struct {
	Name        string   `yaml:"name" json:"name"`
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// parsedFile is one agent Markdown file split into its frontmatter node
// tree (kept for lossless write-back) and the body that follows it.
type parsedFile struct {
	root *yaml.Node // the document's top-level mapping node
	body string
	name string
	icon string
}

// splitFrontmatter extracts the leading `---\n...\n---` block from raw
// Markdown bytes. Returns ok=false if the file has no frontmatter, which
// per spec means it is not an Agent.
func splitFrontmatter(raw []byte) (yamlBlock []byte, body string, ok bool) {
	text := string(raw)
	if !bytes.HasPrefix(raw, []byte(frontmatterDelim)) {
		return nil, "", false
	}
	rest := text[len(frontmatterDelim):]
	// Tolerate either "---\n" or "---\r\n".
	rest = trimLeadingNewline(rest)
	end := indexDelimLine(rest)
	if end < 0 {
		return nil, "", false
	}
	return []byte(rest[:end]), rest[end+len(frontmatterDelim):], true
}

func trimLeadingNewline(s string) string {
	if len(s) > 0 && s[0] == '\r' {
		s = s[1:]
	}
	if len(s) > 0 && s[0] == '\n' {
		s = s[1:]
	}
	return s
}

// indexDelimLine finds the offset of a line that is exactly "---",
// signaling the close of the frontmatter block.
func indexDelimLine(s string) int {
	lines := bytes.Split([]byte(s), []byte("\n"))
	offset := 0
	for _, line := range lines {
		trimmed := bytes.TrimRight(line, "\r")
		if string(trimmed) == frontmatterDelim {
			return offset
		}
		offset += len(line) + 1
	}
	return -1
}

// parseAgentFile parses one candidate Agent file. ok=false means the file
// has no frontmatter and is not an Agent at all (not an error).
func parseAgentFile(raw []byte) (*parsedFile, bool, error) {
	yamlBlock, body, ok := splitFrontmatter(raw)
	if !ok {
		return nil, false, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(yamlBlock, &root); err != nil {
		return nil, true, fmt.Errorf("invalid frontmatter yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, true, fmt.Errorf("empty frontmatter")
	}

	pf := &parsedFile{root: &root, body: body}
	hubNode := findMappingValue(root.Content[0], "hub")
	if hubNode != nil {
		if icon := findMappingValue(hubNode, "icon"); icon != nil {
			pf.icon = icon.Value
		}
	}
	if name := findMappingValue(root.Content[0], "name"); name != nil {
		pf.name = name.Value
	}
	return pf, true, nil
}

// toolkit extracts hub.toolkit as the ToolkitInner struct used for the DB
// column and the API surface.
func (pf *parsedFile) toolkit() ToolkitInner {
	doc := pf.root.Content[0]
	hubNode := findMappingValue(doc, "hub")
	if hubNode == nil {
		return ToolkitInner{}
	}
	toolkitNode := findMappingValue(hubNode, "toolkit")
	if toolkitNode == nil {
		return ToolkitInner{}
	}
	var inner ToolkitInner
	_ = toolkitNode.Decode(&inner)
	return inner
}

// rawFrontmatterExcludingHub serializes every top-level key except `hub`,
// preserving the original node order — used for the Agent.RawFrontmatter
// column, which the spec requires preserved verbatim.
func (pf *parsedFile) rawFrontmatterExcludingHub() (string, error) {
	doc := pf.root.Content[0]
	filtered := &yaml.Node{Kind: yaml.MappingNode, Tag: doc.Tag}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "hub" {
			continue
		}
		filtered.Content = append(filtered.Content, doc.Content[i], doc.Content[i+1])
	}
	out, err := yaml.Marshal(filtered)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// mutateToolkit replaces (or creates) the hub.toolkit subtree in place,
// preserving every other key and the original node layout, then
// re-serializes the whole document plus its trailing body.
func (pf *parsedFile) mutateToolkit(inner ToolkitInner, configuredBy string) ([]byte, error) {
	inner.LastConfigured = time.Now().UTC().Format(time.RFC3339)
	inner.ConfiguredBy = configuredBy

	toolkitNode := &yaml.Node{}
	if err := toolkitNode.Encode(inner); err != nil {
		return nil, err
	}

	doc := pf.root.Content[0]
	hubNode := findMappingValue(doc, "hub")
	if hubNode == nil {
		hubKey := &yaml.Node{Kind: yaml.ScalarNode, Value: "hub"}
		hubNode = &yaml.Node{Kind: yaml.MappingNode}
		doc.Content = append(doc.Content, hubKey, hubNode)
	}
	setMappingValue(hubNode, "toolkit", toolkitNode)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(pf.root); err != nil {
		return nil, err
	}
	_ = enc.Close()

	var out bytes.Buffer
	out.WriteString(frontmatterDelim)
	out.WriteString("\n")
	out.Write(buf.Bytes())
	out.WriteString(frontmatterDelim)
	out.WriteString(pf.body)
	return out.Bytes(), nil
}

func findMappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(node *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			node.Content[i+1] = value
			return
		}
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	node.Content = append(node.Content, keyNode, value)
}
