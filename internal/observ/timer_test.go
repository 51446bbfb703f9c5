package observ

import (
	"strings"
	"testing"
	"time"

	"grism/internal/pipeline"
)

func TestRecordStages(t *testing.T) {
	var tm pipeline.Timings
	tm.Set(pipeline.StageBuild, 3*time.Millisecond)
	tm.Set(pipeline.StageComposite, time.Millisecond)

	timer := NewTimer()
	timer.RecordStages(tm, pipeline.StageLoad, pipeline.StageBuild, pipeline.StageComposite)
	r := timer.Report()
	if len(r.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(r.Phases))
	}
	if r.Phases[0].Name != "build" || r.Phases[0].DurationMS != 3 {
		t.Errorf("first phase = %+v", r.Phases[0])
	}
	if r.TotalMS != 4 {
		t.Errorf("total = %v, want 4", r.TotalMS)
	}
}

func TestSummaryListsNotes(t *testing.T) {
	timer := NewTimer()
	i := timer.Begin("fit")
	timer.End(i, "412 redshifts")
	timer.End(7, "ignored")
	s := timer.Summary()
	if !strings.Contains(s, "fit") || !strings.Contains(s, "// 412 redshifts") || !strings.Contains(s, "total") {
		t.Fatalf("summary = %q", s)
	}
}
