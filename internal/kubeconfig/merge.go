package kubeconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// Merge joins split contexts back into one config. The first context becomes
// the current context. Later contexts win on name collisions.
func Merge(contexts []Context) *clientcmdapi.Config {
	merged := clientcmdapi.NewConfig()

	for _, c := range contexts {
		if c.Config == nil {
			continue
		}

		for name, ctx := range c.Config.Contexts {
			merged.Contexts[name] = ctx.DeepCopy()
		}

		for name, cluster := range c.Config.Clusters {
			merged.Clusters[name] = cluster.DeepCopy()
		}

		for name, user := range c.Config.AuthInfos {
			merged.AuthInfos[name] = user.DeepCopy()
		}

		if merged.CurrentContext == "" {
			merged.CurrentContext = c.Name
		}
	}

	return merged
}

// WriteFile writes cfg to path with owner-only permissions, creating the
// parent directory if needed.
func WriteFile(cfg *clientcmdapi.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating directory for %q: %w", path, err)
	}

	if err := clientcmd.WriteToFile(*cfg, path); err != nil {
		return fmt.Errorf("writing kubeconfig %q: %w", path, err)
	}

	return nil
}
