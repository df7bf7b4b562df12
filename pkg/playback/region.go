package playback

// MinLoopGap is the smallest allowed loop width, as a fraction of the total
// duration.
const MinLoopGap = 0.02

// TrackID identifies one of the two tracks of a comparison session.
type TrackID int

const (
	TrackA TrackID = iota
	TrackB
)

func (id TrackID) String() string {
	switch id {
	case TrackA:
		return "A"
	case TrackB:
		return "B"
	default:
		return "?"
	}
}

// Other returns the opposite track.
func (id TrackID) Other() TrackID {
	if id == TrackA {
		return TrackB
	}
	return TrackA
}

// Region is a [Start, End] pair of fractions of the total duration. The
// loop region always satisfies 0 <= Start < End <= 1 and
// End-Start >= MinLoopGap; a zoom region has the same shape but may be
// unset entirely.
type Region struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// FullRegion spans the whole duration.
func FullRegion() Region {
	return Region{Start: 0, End: 1}
}

// Width of the region.
func (r Region) Width() float64 {
	return r.End - r.Start
}

// Contains the given fraction.
func (r Region) Contains(f float64) bool {
	return f >= r.Start && f <= r.End
}

// Clamped returns the region forced into [0,1] with the minimum gap
// enforced. Out-of-range input is repaired, never rejected.
func (r Region) Clamped() Region {
	if r.Start > r.End {
		r.Start, r.End = r.End, r.Start
	}
	r.Start = clampFraction(r.Start)
	r.End = clampFraction(r.End)
	if r.End-r.Start < MinLoopGap {
		r.End = r.Start + MinLoopGap
		if r.End > 1 {
			r.End = 1
			r.Start = 1 - MinLoopGap
		}
	}
	return r
}

// Within forces the region into the window, keeping the minimum gap and
// repairing rather than rejecting out-of-window requests. The window must
// itself span at least the minimum gap.
func (r Region) Within(w Region) Region {
	r = r.Clamped()
	if r.Start < w.Start {
		r.Start = w.Start
	}
	if r.Start > w.End {
		r.Start = w.End
	}
	if r.End > w.End {
		r.End = w.End
	}
	if r.End < w.Start {
		r.End = w.Start
	}
	if r.End-r.Start < MinLoopGap {
		r.End = r.Start + MinLoopGap
		if r.End > w.End {
			r.End = w.End
			r.Start = r.End - MinLoopGap
			if r.Start < w.Start {
				r.Start = w.Start
			}
		}
	}
	return r
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
