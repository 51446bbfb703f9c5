package diag

import "fmt"

// Subject identifies what a diagnostic is about. Order is empty for
// object-level records.
type Subject struct {
	ID    int
	Order string
}

func (s Subject) String() string {
	if s.Order == "" {
		return fmt.Sprintf("id=%d", s.ID)
	}
	return fmt.Sprintf("id=%d order=%s", s.ID, s.Order)
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Subject  Subject
	Notes    []string
}

func New(sev Severity, code Code, subject Subject, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Subject:  subject,
		Message:  msg,
	}
}

func NewWarning(code Code, subject Subject, msg string) Diagnostic {
	return New(SevWarning, code, subject, msg)
}

func NewError(code Code, subject Subject, msg string) Diagnostic {
	return New(SevError, code, subject, msg)
}

func (d Diagnostic) WithNote(msg string) Diagnostic {
	d.Notes = append(d.Notes, msg)
	return d
}
