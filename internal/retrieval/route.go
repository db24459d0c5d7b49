package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
)

// Route selects how a query is searched.
type Route string

const (
	// RouteAuto picks a route from the query text.
	RouteAuto Route = "auto"

	// RouteHybrid searches every kind of chunk.
	RouteHybrid Route = "hybrid"

	// RouteBugs searches issues and orders the hits newest first by
	// their created time.
	RouteBugs Route = "bugs"

	// RouteTeam searches project team rosters and component records.
	RouteTeam Route = "team"
)

// ParseRoute parses a route name; empty means RouteAuto.
func ParseRoute(s string) (Route, error) {
	switch r := Route(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RouteAuto, nil
	case RouteAuto, RouteHybrid, RouteBugs, RouteTeam:
		return r, nil
	}
	return "", ragerrors.Validationf("retrieval.query", "unknown route %q (want auto, hybrid, bugs or team)", s)
}

// DetectRoute maps query wording to a route: bug or error questions go to
// RouteBugs, team or member questions to RouteTeam, anything else to
// RouteHybrid.
func DetectRoute(text string) Route {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "bug"), strings.Contains(lower, "error"):
		return RouteBugs
	case strings.Contains(lower, "team"), strings.Contains(lower, "member"):
		return RouteTeam
	}
	return RouteHybrid
}

// resolveRoute turns the requested route into a concrete one.
func resolveRoute(requested, text string) (Route, error) {
	r, err := ParseRoute(string(requested))
	if err != nil {
		return "", err
	}
	if r == RouteAuto {
		return DetectRoute(text), nil
	}
	return r, nil
}

var teamSections = []string{chunker.SectionTeam, chunker.SectionComponent}

// routed runs the search for route. Every hit is scored with one
// calibration snapshot, which is returned alongside.
func (s *Service) routed(ctx context.Context, route Route, text string, k int, filter vectorstore.Filter, category string) ([]Result, *relevance.Params, error) {
	if route == RouteHybrid {
		return s.search(ctx, text, k, filter, category)
	}

	vector, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, nil, err
	}

	var hits []vectorstore.Hit
	switch route {
	case RouteBugs:
		hits, err = s.store.Search(ctx, vector, k, narrow(filter, vectorstore.KeyKind, string(document.KindIssue)))
		if err == nil && len(hits) == 0 {
			hits, err = s.store.Search(ctx, vector, k, filter)
		}
	case RouteTeam:
		for _, section := range teamSections {
			f := narrow(filter, vectorstore.KeyKind, string(document.KindProject))
			f[chunker.MetaSection] = section
			var h []vectorstore.Hit
			if h, err = s.store.Search(ctx, vector, k, f); err != nil {
				break
			}
			hits = append(hits, h...)
		}
		hits = vectorstore.SortHits(hits, k)
	}
	if err != nil {
		return nil, nil, err
	}

	snap := s.calibrator.Snapshot()
	results := score(hits, snap, category)
	if route == RouteBugs {
		newestFirst(results)
	}
	return results, snap, nil
}

// narrow copies filter with key set to value.
func narrow(filter vectorstore.Filter, key, value string) vectorstore.Filter {
	out := make(vectorstore.Filter, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	out[key] = value
	return out
}

// newestFirst orders results by their created metadata, newest first.
// Results without a created time keep their relative order at the end.
// Created values are RFC 3339 UTC, so they compare as strings.
func newestFirst(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Metadata["created"], results[j].Metadata["created"]
		if a == "" || b == "" {
			return a != "" && b == ""
		}
		return a > b
	})
}
