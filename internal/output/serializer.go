package output

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/kcsync/internal/catalog"
)

// ListKind is the kind of the document wrapping rendered entities.
const ListKind = "List"

// EntityList is the document rendered for a set of entities.
type EntityList struct {
	APIVersion string           `json:"apiVersion"`
	Kind       string           `json:"kind"`
	Items      []catalog.Entity `json:"items"`
}

// NewEntityList wraps entities in a list document. The entities are copied
// and sorted by name and UID.
func NewEntityList(entities []catalog.Entity) EntityList {
	items := make([]catalog.Entity, len(entities))
	copy(items, entities)
	catalog.SortEntities(items)

	return EntityList{
		APIVersion: catalog.APIVersion,
		Kind:       ListKind,
		Items:      items,
	}
}

// SerializeYAML converts entities to a YAML list document.
// The output has deterministic key ordering and a trailing newline.
func SerializeYAML(entities []catalog.Entity) ([]byte, error) {
	yamlBytes, err := sigsyaml.Marshal(NewEntityList(entities))
	if err != nil {
		return nil, fmt.Errorf("serializing YAML: %w", err)
	}

	return ensureTrailingNewline(yamlBytes), nil
}

// SerializeJSON converts entities to an indented JSON list document.
func SerializeJSON(entities []catalog.Entity, indent string) ([]byte, error) {
	if indent == "" {
		indent = "  "
	}

	yamlBytes, err := sigsyaml.Marshal(NewEntityList(entities))
	if err != nil {
		return nil, fmt.Errorf("serializing intermediate YAML: %w", err)
	}

	jsonOut, err := sigsyaml.YAMLToJSON(yamlBytes)
	if err != nil {
		return nil, fmt.Errorf("converting to JSON: %w", err)
	}

	var buf bytes.Buffer
	if err := prettyPrintJSON(&buf, jsonOut, indent); err != nil {
		return nil, fmt.Errorf("formatting JSON: %w", err)
	}

	return ensureTrailingNewline(buf.Bytes()), nil
}

func ensureTrailingNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}

	return b
}

// prettyPrintJSON reformats compact JSON with indentation and sorted keys.
func prettyPrintJSON(buf *bytes.Buffer, jsonBytes []byte, indent string) error {
	var raw interface{}

	if err := sigsyaml.Unmarshal(jsonBytes, &raw); err != nil {
		return err
	}

	return jsonWriteValue(buf, raw, indent, 0)
}

// jsonWriteValue recursively writes a JSON value with indentation.
func jsonWriteValue(buf *bytes.Buffer, v interface{}, indent string, level int) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		fmt.Fprintf(buf, "%t", val)
	case float64:
		if val == float64(int64(val)) {
			fmt.Fprintf(buf, "%d", int64(val))
		} else {
			fmt.Fprintf(buf, "%g", val)
		}
	case string:
		buf.WriteString(jsonQuote(val))
	case map[string]interface{}:
		if len(val) == 0 {
			buf.WriteString("{}")

			return nil
		}

		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		buf.WriteString("{\n")

		for i, k := range keys {
			writeIndent(buf, indent, level+1)
			buf.WriteString(jsonQuote(k))
			buf.WriteString(": ")

			if err := jsonWriteValue(buf, val[k], indent, level+1); err != nil {
				return err
			}

			if i < len(keys)-1 {
				buf.WriteByte(',')
			}

			buf.WriteByte('\n')
		}

		writeIndent(buf, indent, level)
		buf.WriteByte('}')
	case []interface{}:
		if len(val) == 0 {
			buf.WriteString("[]")

			return nil
		}

		buf.WriteString("[\n")

		for i, item := range val {
			writeIndent(buf, indent, level+1)

			if err := jsonWriteValue(buf, item, indent, level+1); err != nil {
				return err
			}

			if i < len(val)-1 {
				buf.WriteByte(',')
			}

			buf.WriteByte('\n')
		}

		writeIndent(buf, indent, level)
		buf.WriteByte(']')
	default:
		fmt.Fprintf(buf, "%v", val)
	}

	return nil
}

func writeIndent(buf *bytes.Buffer, indent string, level int) {
	for range level {
		buf.WriteString(indent)
	}
}

// jsonQuote performs JSON string quoting with proper escaping.
func jsonQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)

	return `"` + s + `"`
}
