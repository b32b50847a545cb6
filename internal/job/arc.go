package job

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	pairIndexPattern   = regexp.MustCompile(`(?i)_i1_(\d+)_i2_(\d+)`)
	singleIndexPattern = regexp.MustCompile(`(?i)_i1_(\d+)`)
)

// ExtractIndices pulls the sweep indices out of an arc identifier of the form
// base_i1_N_i2_M.
func ExtractIndices(arcID string) (i1, i2 int, ok bool) {
	match := pairIndexPattern.FindStringSubmatch(arcID)
	if match == nil {
		return 0, 0, false
	}
	i1, err1 := strconv.Atoi(match[1])
	i2, err2 := strconv.Atoi(match[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return i1, i2, true
}

// ExtractIndex pulls the single sweep index used by pulse-width arcs.
func ExtractIndex(arcID string) (int, bool) {
	match := singleIndexPattern.FindStringSubmatch(arcID)
	if match == nil {
		return 0, false
	}
	i, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return i, true
}

// MatchArc returns the best matching arc for a generated deck filename stem.
// Deck names are an arc's base filename plus sweep suffixes, and some arcs
// legitimately produce base names that are prefixes of other arcs', so exact
// matches win over prefix matches and longer bases win over shorter ones.
func MatchArc(stem string, arcs []Arc) *Arc {
	type candidate struct {
		exact bool
		size  int
		arcs  []*Arc
	}
	byBase := map[string][]*Arc{}
	for i := range arcs {
		byBase[arcs[i].BaseName] = append(byBase[arcs[i].BaseName], &arcs[i])
	}

	var matches []candidate
	for base, group := range byBase {
		if base == "" {
			continue
		}
		if stem == base {
			matches = append(matches, candidate{exact: true, size: len(base), arcs: group})
		} else if strings.HasPrefix(stem, base+"_") {
			matches = append(matches, candidate{exact: false, size: len(base), arcs: group})
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].exact != matches[j].exact {
			return matches[i].exact
		}
		return matches[i].size > matches[j].size
	})

	group := matches[0].arcs
	if len(group) == 1 {
		return group[0]
	}
	for _, arc := range group {
		if arc.TimingType != "" && arc.TableType != "" &&
			strings.Contains(stem, arc.TimingType) && strings.Contains(stem, arc.TableType) {
			return arc
		}
	}
	return group[0]
}
