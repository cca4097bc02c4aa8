package interview

import (
	"fmt"
	"io"
	"time"
)

// Export writes entries as plain text: one "[HH:MM:SS] Speaker: text" block
// per entry, blocks separated by a blank line.
func Export(w io.Writer, entries []Entry) error {
	for i, e := range entries {
		sep := "\n\n"
		if i == len(entries)-1 {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s: %s%s", e.At.Format(time.TimeOnly), e.Role.Label(), e.Text, sep); err != nil {
			return fmt.Errorf("interview: export entry %d: %w", e.Sequence, err)
		}
	}
	return nil
}

// ExportFilename returns the download name for a transcript exported at t.
func ExportFilename(t time.Time) string {
	return fmt.Sprintf("visa-interview-%d.txt", t.UnixMilli())
}
