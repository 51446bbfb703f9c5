package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// Model building
	ModInfo            Code = 1000
	ModObjectNotFound  Code = 1001
	ModEdgeSkipped     Code = 1002
	ModThumbTooSmall   Code = 1003
	ModOrderTooFaint   Code = 1004
	ModBeamBuildFailed Code = 1005
	ModOffDetector     Code = 1006
	ModNoBeams         Code = 1007

	// Fitting
	FitInfo             Code = 2000
	FitTemplateNoCover  Code = 2001
	FitTemplateFaint    Code = 2002
	FitUnderconstrained Code = 2003
	FitSolverFailed     Code = 2004

	// I/O
	IOInfo           Code = 3000
	IOSnapshotStale  Code = 3001
	IOSnapshotFormat Code = 3002
)

var codeDescription = map[Code]string{
	UnknownCode:         "Unknown outcome",
	ModInfo:             "Model information",
	ModObjectNotFound:   "Object not found in segmentation image",
	ModEdgeSkipped:      "Object touches the array edge",
	ModThumbTooSmall:    "Thumbnail too small after edge clamp",
	ModOrderTooFaint:    "Object fainter than the order's extraction limit",
	ModBeamBuildFailed:  "Beam construction failed",
	ModOffDetector:      "Beam footprint misses the detector",
	ModNoBeams:          "No orders computed for object",
	FitInfo:             "Fit information",
	FitTemplateNoCover:  "Template outside beam wavelength coverage",
	FitTemplateFaint:    "Template model negligible inside fit mask",
	FitUnderconstrained: "Fewer fit pixels than free parameters",
	FitSolverFailed:     "Least-squares solve failed",
	IOInfo:              "I/O information",
	IOSnapshotStale:     "Snapshot built with a different calibration",
	IOSnapshotFormat:    "Snapshot schema mismatch",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("MOD%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("FIT%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("IO%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[Code(0)]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
