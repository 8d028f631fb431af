package extract

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/calvinalkan/formdb/pkg/record"
)

const frontmatterDelimiter = "---"

// splitFrontmatter separates a leading '---'-delimited YAML block from the
// body. The opening fence must be the very first line at column zero;
// without it the whole input is body. The closing fence is the next line
// that is exactly '---' at the same (zero) indentation, so a literal '---'
// later in the body text never terminates the block early.
func splitFrontmatter(markdown string) (yamlBlock, body string) {
	first, rest, hasNL := strings.Cut(markdown, "\n")
	if strings.TrimRight(first, "\r") != frontmatterDelimiter {
		return "", markdown
	}

	if !hasNL {
		// Lone opening fence with no content.
		return "", ""
	}

	lines := strings.Split(rest, "\n")
	for i, line := range lines {
		if strings.TrimRight(line, "\r") == frontmatterDelimiter {
			return strings.Join(lines[:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}

	// No closing fence: treat the opening fence as body text.
	return "", markdown
}

// fmEntry is one decoded frontmatter key with its order preserved.
type fmEntry struct {
	key   string
	value record.Value
}

// decodeFrontmatter parses the YAML block into ordered entries.
// yaml.Node is used instead of a map so declaration order survives;
// extraction must be byte-identical across runs.
func decodeFrontmatter(block string) ([]fmEntry, error) {
	if strings.TrimSpace(block) == "" {
		return nil, nil
	}

	var root yaml.Node

	err := yaml.Unmarshal([]byte(block), &root)
	if err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}

	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("frontmatter: expected a mapping, got %s", yamlKindName(doc.Kind))
	}

	entries := make([]fmEntry, 0, len(doc.Content)/2)

	for i := 0; i+1 < len(doc.Content); i += 2 {
		keyNode := doc.Content[i]
		valNode := doc.Content[i+1]

		value, convErr := yamlValue(valNode)
		if convErr != nil {
			return nil, fmt.Errorf("frontmatter key %q: %w", keyNode.Value, convErr)
		}

		entries = append(entries, fmEntry{key: keyNode.Value, value: value})
	}

	return entries, nil
}

// yamlValue converts a YAML node to a record value. Scalars map by tag,
// sequences of scalars become lists, and anything deeper is re-rendered
// as a string so no data is dropped.
func yamlValue(node *yaml.Node) (record.Value, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return yamlScalar(node), nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))

		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				rendered, err := renderYAML(node)
				if err != nil {
					return record.Value{}, err
				}

				return record.StringValue(rendered), nil
			}

			items = append(items, item.Value)
		}

		return record.ListValue(items), nil
	case yaml.MappingNode, yaml.AliasNode, yaml.DocumentNode:
		rendered, err := renderYAML(node)
		if err != nil {
			return record.Value{}, err
		}

		return record.StringValue(rendered), nil
	default:
		return record.StringValue(node.Value), nil
	}
}

// yamlScalar maps a scalar node by its resolved tag.
func yamlScalar(node *yaml.Node) record.Value {
	switch node.Tag {
	case "!!int", "!!float":
		n, err := strconv.ParseFloat(node.Value, 64)
		if err == nil {
			return record.NumberValue(n)
		}
	case "!!bool":
		b, err := strconv.ParseBool(node.Value)
		if err == nil {
			return record.BoolValue(b)
		}
	case "!!timestamp":
		t, err := record.ParseDate(node.Value)
		if err == nil {
			return record.DateValue(t)
		}
	case "!!null":
		return record.StringValue("")
	}

	return record.StringValue(node.Value)
}

// renderYAML serializes a node back to YAML text, trimmed.
func renderYAML(node *yaml.Node) (string, error) {
	out, err := yaml.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("render yaml value: %w", err)
	}

	return strings.TrimRight(string(out), "\n"), nil
}

// canvasFromNode reads a {x, y} mapping from a frontmatter canvas value.
func canvasFromEntry(v record.Value) (*record.CanvasPosition, bool) {
	// The yaml walk renders nested mappings as text; parse the two
	// expected keys back out.
	var pos struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
	}

	err := yaml.Unmarshal([]byte(v.Str), &pos)
	if err != nil {
		return nil, false
	}

	return &record.CanvasPosition{X: pos.X, Y: pos.Y}, true
}

func yamlKindName(kind yaml.Kind) string {
	switch kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "unknown"
	}
}
