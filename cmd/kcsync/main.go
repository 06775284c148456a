// kcsync keeps a live catalog of Kubernetes clusters in sync with kubeconfig
// files on disk.
package main

import (
	"os"

	"github.com/hupe1980/kcsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
