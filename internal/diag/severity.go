package diag

// Severity orders diagnostics: a skipped template is info, an object missing
// from the segmentation is a warning, a failed build is an error.
type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)

var severityNames = [...]string{SevInfo: "info", SevWarning: "warning", SevError: "error"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "unknown"
}

// MarshalText lets reports carry severities by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
