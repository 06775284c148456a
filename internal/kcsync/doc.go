// Package kcsync keeps a live catalog of Kubernetes clusters in sync with
// kubeconfig files on disk.
//
// A [Manager] owns one [Source] per watched path. A Source subscribes to the
// filesystem, starts a streaming read for every added or changed child file
// and reconciles the result into that file's context map. Each map mutation
// is applied as one atomic batch; the per-source and global views recompute
// lazily from the latest maps.
package kcsync
