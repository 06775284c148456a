// Package output renders catalog entities for the terminal and for files.
//
// The package is organized around four concerns:
//
//   - Serialization (serializer.go): Deterministic YAML and JSON documents of
//     an entity list, with alphabetically sorted keys.
//
//   - Tables (table.go): A compact, column-aligned summary of entities.
//
//   - Renderers (registry.go): Output formats selectable by name through a
//     [Registry].
//
//   - Diffs (diff.go): Unified diffs between two renderings, used to show
//     how the catalog changed.
//
// Rendered bytes are delivered through a [Writer].
package output
