package output

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/hupe1980/kcsync/internal/catalog"
)

func testEntity(name, uid string) catalog.Entity {
	return catalog.Entity{
		APIVersion: catalog.APIVersion,
		Kind:       catalog.KindCluster,
		Metadata: catalog.Metadata{
			UID:    uid,
			Name:   name,
			Source: catalog.SourceLocal,
		},
		Spec: catalog.ClusterSpec{
			KubeconfigPath:    "/kube/" + name,
			KubeconfigContext: name,
			Server:            "https://" + name + ".example.com",
		},
		Status: catalog.Status{Phase: catalog.PhaseDisconnected},
	}
}

// ---------------------------------------------------------------------------
// YAML
// ---------------------------------------------------------------------------

func TestSerializeYAML_SortedListDocument(t *testing.T) {
	out, err := SerializeYAML([]catalog.Entity{testEntity("b", "2"), testEntity("a", "1")})
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "apiVersion: "+catalog.APIVersion+"\n"))
	assert.Contains(t, s, "kind: List")
	assert.Less(t, strings.Index(s, "name: a"), strings.Index(s, "name: b"))
	assert.True(t, strings.HasSuffix(s, "\n"))

	var list EntityList
	require.NoError(t, sigsyaml.Unmarshal(out, &list))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "1", list.Items[0].Metadata.UID)
}

func TestSerializeYAML_Deterministic(t *testing.T) {
	entities := []catalog.Entity{testEntity("x", "1"), testEntity("y", "2")}

	first, err := SerializeYAML(entities)
	require.NoError(t, err)

	second, err := SerializeYAML([]catalog.Entity{entities[1], entities[0]})
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestSerializeYAML_Empty(t *testing.T) {
	out, err := SerializeYAML(nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), "items: []")
}

func TestNewEntityList_DoesNotMutateInput(t *testing.T) {
	in := []catalog.Entity{testEntity("b", "2"), testEntity("a", "1")}

	list := NewEntityList(in)
	assert.Equal(t, "a", list.Items[0].Metadata.Name)
	assert.Equal(t, "b", in[0].Metadata.Name)
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

func TestSerializeJSON(t *testing.T) {
	out, err := SerializeJSON([]catalog.Entity{testEntity("a", "1")}, "")
	require.NoError(t, err)

	assert.True(t, json.Valid(out))
	assert.Contains(t, string(out), "\n  \"apiVersion\"")
	assert.True(t, strings.HasSuffix(string(out), "}\n"))

	var list EntityList
	require.NoError(t, json.Unmarshal(out, &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "https://a.example.com", list.Items[0].Spec.Server)
}

func TestJSONQuote(t *testing.T) {
	assert.Equal(t, `"a\"b\\c\nd\te"`, jsonQuote("a\"b\\c\nd\te"))
}

// ---------------------------------------------------------------------------
// Table
// ---------------------------------------------------------------------------

func TestSerializeTable(t *testing.T) {
	e := testEntity("prod", "0123456789abcdef")
	e.Metadata.Labels = map[string]string{catalog.LabelFile: "~/.kube/config"}

	out, err := SerializeTable([]catalog.Entity{e})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"NAME", "SERVER", "NAMESPACE", "FILE", "UID"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"prod", "https://prod.example.com", "-", "~/.kube/config", "01234567"}, strings.Fields(lines[1]))
}

func TestSerializeTable_Empty(t *testing.T) {
	out, err := SerializeTable(nil)
	require.NoError(t, err)
	assert.Equal(t, "No clusters found.\n", string(out))
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{FormatJSON, FormatTable, FormatYAML}, r.Formats())

	for _, name := range r.Formats() {
		render, err := r.Renderer(name)
		require.NoError(t, err)

		out, err := render([]catalog.Entity{testEntity("a", "1")})
		require.NoError(t, err)
		assert.NotEmpty(t, out, name)
	}
}

func TestRegistry_UnknownFormat(t *testing.T) {
	_, err := DefaultRegistry().Renderer("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output format "xml"`)
	assert.Contains(t, err.Error(), "json, table, yaml")

	assert.Equal(t, "none", NewRegistry().AvailableFormats())
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register("x", func([]catalog.Entity) ([]byte, error) { return []byte("one"), nil })
	r.Register("x", func([]catalog.Entity) ([]byte, error) { return []byte("two"), nil })

	render, err := r.Renderer("x")
	require.NoError(t, err)

	out, err := render(nil)
	require.NoError(t, err)
	assert.Equal(t, "two", string(out))
}
