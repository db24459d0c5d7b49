package relevance

import (
	"fmt"
	"math"
	"strings"
)

// Expectation is how relevant a study query's best hit should be.
type Expectation string

const (
	ExpectHigh    Expectation = "HIGH"
	ExpectMedium  Expectation = "MEDIUM"
	ExpectLow     Expectation = "LOW"
	ExpectVeryLow Expectation = "VERYLOW"
)

// Expectations lists the groups from most to least relevant.
var Expectations = []Expectation{ExpectHigh, ExpectMedium, ExpectLow, ExpectVeryLow}

// ParseExpectation accepts the group names case-insensitively.
func ParseExpectation(s string) (Expectation, error) {
	e := Expectation(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Expectations {
		if e == known {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown expectation %q (want HIGH, MEDIUM, LOW or VERYLOW)", s)
}

// StudyCase is a query with a known expected relevance.
type StudyCase struct {
	Query    string      `json:"query"`
	Expected Expectation `json:"expected"`
}

// Observation is the best hit a study case produced.
type Observation struct {
	Case        StudyCase `json:"case"`
	TopScore    float64   `json:"top_score"`
	TopDistance float64   `json:"top_distance"`
}

// StudyGroup summarizes observations for one expectation.
type StudyGroup struct {
	Expected Expectation `json:"expected"`
	Count    int         `json:"count"`
	MinScore float64     `json:"min_score"`
	AvgScore float64     `json:"avg_score"`
	MaxScore float64     `json:"max_score"`
}

// StudyReport is the result of Study.
type StudyReport struct {
	Groups []StudyGroup `json:"groups"`

	// ObservedMin and ObservedMax span the top distances seen, a starting
	// point for choosing a range by hand.
	ObservedMin float64 `json:"observed_min_distance"`
	ObservedMax float64 `json:"observed_max_distance"`

	// Ordered is true when average scores strictly decrease from HIGH to
	// VERYLOW over the non-empty groups.
	Ordered bool `json:"ordered"`
}

// Study groups study observations by expected relevance so the current
// calibration can be checked against known-good and known-bad queries.
func Study(obs []Observation) StudyReport {
	report := StudyReport{ObservedMin: math.NaN(), ObservedMax: math.NaN(), Ordered: true}

	groups := make(map[Expectation]*StudyGroup, len(Expectations))
	for _, e := range Expectations {
		groups[e] = &StudyGroup{Expected: e}
	}

	for _, o := range obs {
		g, ok := groups[o.Case.Expected]
		if !ok {
			continue
		}
		if g.Count == 0 {
			g.MinScore, g.MaxScore = o.TopScore, o.TopScore
		}
		g.MinScore = math.Min(g.MinScore, o.TopScore)
		g.MaxScore = math.Max(g.MaxScore, o.TopScore)
		g.AvgScore += o.TopScore
		g.Count++

		if math.IsNaN(report.ObservedMin) || o.TopDistance < report.ObservedMin {
			report.ObservedMin = o.TopDistance
		}
		if math.IsNaN(report.ObservedMax) || o.TopDistance > report.ObservedMax {
			report.ObservedMax = o.TopDistance
		}
	}

	prev := math.Inf(1)
	for _, e := range Expectations {
		g := groups[e]
		if g.Count > 0 {
			g.AvgScore /= float64(g.Count)
			if g.AvgScore >= prev {
				report.Ordered = false
			}
			prev = g.AvgScore
		}
		report.Groups = append(report.Groups, *g)
	}
	if math.IsNaN(report.ObservedMin) {
		report.ObservedMin, report.ObservedMax = 0, 0
	}
	return report
}
