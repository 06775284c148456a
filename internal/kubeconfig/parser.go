// Package kubeconfig turns raw kubeconfig files into per-context models and
// builds catalog entities from them.
package kubeconfig

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// ErrParse marks content that is not a loadable kubeconfig.
var ErrParse = errors.New("malformed kubeconfig")

// Context is one kubeconfig context, split out into a self-contained config
// that holds only that context, its cluster and its user.
type Context struct {
	Name   string
	Config *clientcmdapi.Config
}

// Cluster returns the cluster referenced by the context, or nil.
func (c Context) Cluster() *clientcmdapi.Cluster {
	ctx := c.context()
	if ctx == nil {
		return nil
	}

	return c.Config.Clusters[ctx.Cluster]
}

// Namespace returns the context's default namespace.
func (c Context) Namespace() string {
	if ctx := c.context(); ctx != nil {
		return ctx.Namespace
	}

	return ""
}

// User returns the name of the auth-info referenced by the context.
func (c Context) User() string {
	if ctx := c.context(); ctx != nil {
		return ctx.AuthInfo
	}

	return ""
}

func (c Context) context() *clientcmdapi.Context {
	if c.Config == nil {
		return nil
	}

	return c.Config.Contexts[c.Name]
}

// Parser parses kubeconfig content into contexts and validates them.
type Parser interface {
	// Parse splits content into contexts in document order. It never
	// returns partial results: on failure the error wraps ErrParse.
	Parse(content []byte) ([]Context, error)

	// Validate reports whether a context is usable on its own.
	Validate(c Context) error
}

// compile-time interface conformance check.
var _ Parser = (*DefaultParser)(nil)

// DefaultParser is the default implementation of the Parser interface.
type DefaultParser struct{}

// NewParser creates a new DefaultParser.
func NewParser() *DefaultParser {
	return &DefaultParser{}
}

// Parse loads content with clientcmd and splits it per context. Empty content
// yields no contexts. When a named list entry (cluster, user or context)
// appears more than once, the last occurrence wins.
func (p *DefaultParser) Parse(content []byte) ([]Context, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	normalized, order, err := dedupe(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	cfg, err := clientcmd.Load(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	contexts := make([]Context, 0, len(cfg.Contexts))
	seen := make(map[string]bool, len(cfg.Contexts))

	for _, name := range order {
		if _, ok := cfg.Contexts[name]; ok && !seen[name] {
			seen[name] = true
			contexts = append(contexts, Context{Name: name, Config: split(cfg, name)})
		}
	}

	var rest []string

	for name := range cfg.Contexts {
		if !seen[name] {
			rest = append(rest, name)
		}
	}

	sort.Strings(rest)

	for _, name := range rest {
		contexts = append(contexts, Context{Name: name, Config: split(cfg, name)})
	}

	return contexts, nil
}

// Validate checks that the context references an existing, usable cluster
// and user.
func (p *DefaultParser) Validate(c Context) error {
	if c.Config == nil {
		return fmt.Errorf("context %q has no config", c.Name)
	}

	return clientcmd.ConfirmUsable(*c.Config, c.Name)
}

// namedLists are the kubeconfig sections whose entries are keyed by "name".
var namedLists = map[string]bool{"clusters": true, "users": true, "contexts": true}

// dedupe drops all but the last entry per name from the named lists of a
// kubeconfig document and returns the rewritten document together with the
// context names in document order. clientcmd rejects duplicate names
// outright. JSON input is accepted since it is valid YAML.
func dedupe(content []byte) ([]byte, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return nil, nil, err
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return content, nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("expected a mapping at the document root, got %s", nodeKind(doc))
	}

	var order []string

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, value := doc.Content[i], doc.Content[i+1]
		if !namedLists[key.Value] || value.Kind != yaml.SequenceNode {
			continue
		}

		names := lastByName(value)
		if key.Value == "contexts" {
			order = names
		}
	}

	out, err := yaml.Marshal(&root)
	if err != nil {
		return nil, nil, err
	}

	return out, order, nil
}

// lastByName rewrites seq in place, keeping only the last entry for each
// name, and returns the surviving names in order.
func lastByName(seq *yaml.Node) []string {
	last := make(map[string]int, len(seq.Content))

	for i, item := range seq.Content {
		last[entryName(item)] = i
	}

	kept := seq.Content[:0:0]
	names := make([]string, 0, len(last))

	for i, item := range seq.Content {
		name := entryName(item)
		if last[name] != i {
			continue
		}

		kept = append(kept, item)
		names = append(names, name)
	}

	seq.Content = kept

	return names
}

func entryName(item *yaml.Node) string {
	if item.Kind != yaml.MappingNode {
		return ""
	}

	for i := 0; i+1 < len(item.Content); i += 2 {
		if item.Content[i].Value == "name" {
			return item.Content[i+1].Value
		}
	}

	return ""
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown node"
	}
}

// split extracts one context and the cluster and user it references.
func split(cfg *clientcmdapi.Config, name string) *clientcmdapi.Config {
	out := clientcmdapi.NewConfig()
	out.CurrentContext = name

	ctx, ok := cfg.Contexts[name]
	if !ok || ctx == nil {
		return out
	}

	out.Contexts[name] = ctx.DeepCopy()

	if cluster, ok := cfg.Clusters[ctx.Cluster]; ok && cluster != nil {
		out.Clusters[ctx.Cluster] = cluster.DeepCopy()
	}

	if user, ok := cfg.AuthInfos[ctx.AuthInfo]; ok && user != nil {
		out.AuthInfos[ctx.AuthInfo] = user.DeepCopy()
	}

	return out
}
