package diag

import (
	"sort"
	"strings"
)

// FormatShort renders diagnostics one per line in a stable order:
//
//	warning MOD1004 id=7 order=B fainter than 25.0
//
// Notes follow their diagnostic as "note" lines.
func FormatShort(diags []Diagnostic, includeNotes bool) string {
	if len(diags) == 0 {
		return ""
	}
	sorted := append([]Diagnostic(nil), diags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i], sorted[j]
		if di.Subject.ID != dj.Subject.ID {
			return di.Subject.ID < dj.Subject.ID
		}
		if di.Subject.Order != dj.Subject.Order {
			return di.Subject.Order < dj.Subject.Order
		}
		if di.Severity != dj.Severity {
			return di.Severity > dj.Severity
		}
		return di.Code < dj.Code
	})

	var sb strings.Builder
	for i, d := range sorted {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeLine(&sb, d.Severity.String(), d.Code, d.Subject, d.Message)
		if includeNotes {
			for _, n := range d.Notes {
				sb.WriteByte('\n')
				writeLine(&sb, "note", d.Code, d.Subject, n)
			}
		}
	}
	return sb.String()
}

func writeLine(sb *strings.Builder, sev string, code Code, subject Subject, msg string) {
	sb.WriteString(sev)
	sb.WriteByte(' ')
	sb.WriteString(code.ID())
	sb.WriteByte(' ')
	sb.WriteString(subject.String())
	if msg = strings.Join(strings.Fields(msg), " "); msg != "" {
		sb.WriteByte(' ')
		sb.WriteString(msg)
	}
}
