package descriptor

import (
	"log"
	"math"

	"classmark/internal/division"
)

// MatchThreshold is the maximum euclidean distance accepted as a match.
// Anything above it is reported as unknown.
const MatchThreshold = 0.6

// Labeled pairs one person's matcher label with their descriptors.
type Labeled struct {
	Label       string
	Descriptors [][]float64
}

// Match is a nearest-descriptor result.
type Match struct {
	ID       string
	Name     string
	Distance float64
}

// Matcher is a nearest-descriptor classifier compiled from a record set.
type Matcher struct {
	entries []Labeled
}

// LabeledDescriptors flattens records for matcher construction, restricted to
// the given division when it is complete. With an incomplete division every
// record is used; that fallback is deliberate and logged.
func LabeledDescriptors(records []Record, t division.Tuple) []Labeled {
	filtered := records
	if t.Complete() {
		filtered = nil
		for _, r := range records {
			if r.Division.Equal(t) {
				filtered = append(filtered, r)
			}
		}
	} else {
		log.Printf("matcher: division incomplete, compiling against all %d records", len(records))
	}
	out := make([]Labeled, 0, len(filtered))
	for _, r := range filtered {
		if len(r.Descriptors) == 0 {
			continue
		}
		out = append(out, Labeled{Label: r.Label(), Descriptors: r.Descriptors})
	}
	return out
}

// NewMatcher compiles a matcher from labeled descriptors.
func NewMatcher(entries []Labeled) *Matcher {
	return &Matcher{entries: entries}
}

// Empty reports whether the matcher has nothing to match against.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.entries) == 0
}

// BestMatch returns the nearest enrolled person, or nil when the nearest
// distance exceeds the threshold (the face stays unknown and is never used
// to mark attendance).
func (m *Matcher) BestMatch(d []float64) *Match {
	if m.Empty() || len(d) != Dim {
		return nil
	}
	best := Match{Distance: math.Inf(1)}
	for _, e := range m.entries {
		for _, ref := range e.Descriptors {
			if dist := euclidean(d, ref); dist < best.Distance {
				best.Distance = dist
				best.ID, best.Name = SplitLabel(e.Label)
			}
		}
	}
	if best.Distance > MatchThreshold {
		return nil
	}
	return &best
}

func euclidean(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
