package diag

import "testing"

func TestFormatShort(t *testing.T) {
	diags := []Diagnostic{
		NewWarning(ModOrderTooFaint, Subject{ID: 9, Order: "B"}, "mag 26.1 >\n 25.0").WithNote("limit from calibration"),
		New(SevInfo, ModEdgeSkipped, Subject{ID: 3}, "touches edge"),
	}
	expected := "info MOD1002 id=3 touches edge\n" +
		"warning MOD1004 id=9 order=B mag 26.1 > 25.0\n" +
		"note MOD1004 id=9 order=B limit from calibration"
	if got := FormatShort(diags, true); got != expected {
		t.Fatalf("unexpected short diagnostics:\nwant:\n%s\n\ngot:\n%s", expected, got)
	}
}

func TestBagCapAndCounts(t *testing.T) {
	b := NewBag(2)
	r := BagReporter{Bag: b}
	ReportWarning(r, ModObjectNotFound, Subject{ID: 1}, "absent").Emit()
	ReportWarning(r, ModObjectNotFound, Subject{ID: 2}, "absent").Emit()
	ReportWarning(r, ModObjectNotFound, Subject{ID: 3}, "absent").Emit()
	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}
	if got := b.Count(ModObjectNotFound); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
	if b.HasErrors() || !b.HasWarnings() {
		t.Fatalf("severity flags wrong")
	}
}

func TestDedupReporter(t *testing.T) {
	b := NewBag(10)
	r := NewDedupReporter(BagReporter{Bag: b})
	d := NewError(ModBeamBuildFailed, Subject{ID: 4, Order: "A"}, "trace outside frame")
	r.Report(d)
	r.Report(d)
	if b.Len() != 1 {
		t.Fatalf("len = %d, want 1", b.Len())
	}
}

func TestCodeIDs(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{ModObjectNotFound, "MOD1001"},
		{FitTemplateFaint, "FIT2002"},
		{IOSnapshotStale, "IO3001"},
		{UnknownCode, "E0000"},
	}
	for _, tt := range tests {
		if got := tt.code.ID(); got != tt.want {
			t.Errorf("%d.ID() = %q, want %q", tt.code, got, tt.want)
		}
	}
}
