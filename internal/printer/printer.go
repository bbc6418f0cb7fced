// Package printer renders a flattened node tree as a human-readable table,
// repurposing the teacher's resource-table printer (originally a
// kind/name/namespace column-width calculator for kubectl apply output) for
// API-path/kind/source rows instead.
package printer

import (
	"io"

	"github.com/aquasecurity/table"
)

// Row is one line of Instance.DescribeTable's output.
type Row struct {
	Path   string
	Kind   string
	Source string
}

// RenderDescribe writes rows to w as an aligned table.
func RenderDescribe(w io.Writer, rows []Row) {
	t := table.New(w)
	t.SetHeaders("Path", "Kind", "Source")
	for _, r := range rows {
		t.AddRow(r.Path, r.Kind, r.Source)
	}
	t.Render()
}
