package strain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSegmentListNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   SegmentList
		want SegmentList
	}{
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
		{
			name: "overlapping merged",
			in:   SegmentList{{0, 10}, {5, 20}},
			want: SegmentList{{0, 20}},
		},
		{
			name: "touching merged",
			in:   SegmentList{{0, 10}, {10, 20}},
			want: SegmentList{{0, 20}},
		},
		{
			name: "disjoint preserved and sorted",
			in:   SegmentList{{30, 40}, {0, 10}},
			want: SegmentList{{0, 10}, {30, 40}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSegmentListIntersectSubtract(t *testing.T) {
	science := SegmentList{{0, 100}, {200, 300}}
	vetoes := SegmentList{{50, 60}, {250, 400}}

	got := science.Subtract(vetoes)
	want := SegmentList{{0, 50}, {60, 100}, {200, 250}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Subtract mismatch (-want +got):\n%s", diff)
	}

	inter := science.Intersect(SegmentList{{90, 210}})
	wantInter := SegmentList{{90, 100}, {200, 210}}
	if diff := cmp.Diff(wantInter, inter); diff != "" {
		t.Errorf("Intersect mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanSegmentsMinLengthBoundary(t *testing.T) {
	const rate = 256.0
	p := PlanParams{
		SegmentLength:     64,
		StartPad:          8,
		EndPad:            8,
		MinAnalysisLength: 64,
		SampleRate:        rate,
	}

	// Exactly at the minimum: accepted.
	segs, errs := PlanSegments("H1", SegmentList{{0, 64}}, Segment{0, 1000}, p)
	if len(errs) != 0 {
		t.Fatalf("exact-length segment rejected: %v", errs)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 analysis segment, got %d", len(segs))
	}

	// One sample shorter: rejected with DataGapError.
	short := 64.0 - 1.0/rate
	segs, errs = PlanSegments("H1", SegmentList{{0, short}}, Segment{0, 1000}, p)
	if len(segs) != 0 {
		t.Fatalf("short segment produced %d analysis segments", len(segs))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	var gap *DataGapError
	if !errors.As(errs[0], &gap) {
		t.Fatalf("expected DataGapError, got %T", errs[0])
	}
	if gap.Detector != "H1" {
		t.Errorf("DataGapError detector = %q, want H1", gap.Detector)
	}
}

func TestPlanSegmentsPadsConsumingSegmentTerminate(t *testing.T) {
	p := PlanParams{
		SegmentLength:     256,
		StartPad:          300,
		EndPad:            16,
		MinAnalysisLength: 64,
		SampleRate:        256,
	}
	segs, errs := PlanSegments("H1", SegmentList{{0, 1000}}, Segment{0, 1000}, p)
	if len(segs) != 0 {
		t.Fatalf("pads exceeding the segment produced %d analysis segments", len(segs))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
}

func TestPlanSegmentsValidRegionsDoNotOverlap(t *testing.T) {
	p := PlanParams{
		SegmentLength:     256,
		StartPad:          32,
		EndPad:            32,
		MinAnalysisLength: 256,
		SampleRate:        256,
	}
	segs, errs := PlanSegments("L1", SegmentList{{1000, 2000}}, Segment{0, 4000}, p)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(segs) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segs))
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Valid.Start < segs[i-1].Valid.End {
			t.Errorf("valid regions overlap: %v then %v", segs[i-1].Valid, segs[i].Valid)
		}
	}
	// Every valid region must be inside its padded full segment.
	for _, s := range segs {
		if s.Valid.Start < s.Full.Start+p.StartPad-1e-9 || s.Valid.End > s.Full.End-p.EndPad+1e-9 {
			t.Errorf("valid region %v escapes pads of %v", s.Valid, s.Full)
		}
	}
}
