package kubeconfig

import (
	"fmt"
	"net/url"

	"github.com/hupe1980/kcsync/internal/catalog"
)

// Identity carries the metadata an entity is built with, independent of the
// context's content.
type Identity struct {
	// ID is the deterministic entity identifier.
	ID string
	// FilePath is the absolute path of the kubeconfig file.
	FilePath string
	// Label is the human-readable provenance of the entity.
	Label string
}

// Builder turns one validated context into a catalog entity.
type Builder interface {
	Build(id Identity, c Context) (catalog.Entity, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(id Identity, c Context) (catalog.Entity, error)

// Build calls f.
func (f BuilderFunc) Build(id Identity, c Context) (catalog.Entity, error) {
	return f(id, c)
}

// compile-time interface conformance check.
var _ Builder = (*ClusterBuilder)(nil)

// ClusterBuilder builds KubernetesCluster entities.
type ClusterBuilder struct{}

// NewClusterBuilder creates a new ClusterBuilder.
func NewClusterBuilder() *ClusterBuilder {
	return &ClusterBuilder{}
}

// Build creates the entity for c. It fails when the context's cluster has no
// server URL with a scheme and host.
func (b *ClusterBuilder) Build(id Identity, c Context) (catalog.Entity, error) {
	cluster := c.Cluster()
	if cluster == nil {
		return catalog.Entity{}, fmt.Errorf("context %q: cluster not found", c.Name)
	}

	u, err := url.Parse(cluster.Server)
	if err != nil {
		return catalog.Entity{}, fmt.Errorf("context %q: parsing server URL: %w", c.Name, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return catalog.Entity{}, fmt.Errorf("context %q: server URL %q must include scheme and host", c.Name, cluster.Server)
	}

	return catalog.Entity{
		APIVersion: catalog.APIVersion,
		Kind:       catalog.KindCluster,
		Metadata: catalog.Metadata{
			UID:    id.ID,
			Name:   c.Name,
			Source: catalog.SourceLocal,
			Labels: map[string]string{catalog.LabelFile: id.Label},
		},
		Spec: catalog.ClusterSpec{
			KubeconfigPath:    id.FilePath,
			KubeconfigContext: c.Name,
			Server:            cluster.Server,
			Namespace:         c.Namespace(),
			User:              c.User(),
		},
		Status: catalog.Status{Phase: catalog.PhaseDisconnected},
	}, nil
}
