package output

import (
	"bytes"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hupe1980/kcsync/internal/catalog"
)

// WriteTable writes one aligned row per entity.
func WriteTable(w io.Writer, entities []catalog.Entity) error {
	items := NewEntityList(entities).Items

	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "No clusters found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSERVER\tNAMESPACE\tFILE\tUID")

	for _, e := range items {
		ns := e.Spec.Namespace
		if ns == "" {
			ns = "-"
		}

		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Metadata.Name, e.Spec.Server, ns, e.Metadata.Labels[catalog.LabelFile], shortUID(e.Metadata.UID))
	}

	return tw.Flush()
}

// SerializeTable renders WriteTable into a byte slice.
func SerializeTable(entities []catalog.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, entities); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func shortUID(uid string) string {
	const n = 8
	if len(uid) <= n {
		return uid
	}

	return uid[:n]
}
