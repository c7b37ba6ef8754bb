package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nammalakes/nodeup/pkg/color"
	"github.com/nammalakes/nodeup/pkg/model"
)

// maxSuggestions bounds the "Did you mean" list.
const maxSuggestions = 3

// suggestNodes provides a hint for an unknown node id: close matches when
// there are any, otherwise the registered ids.
func suggestNodes(id string, nodes []model.NodeRepository) string {
	if len(nodes) == 0 {
		return "No nodes are registered."
	}

	lower := strings.ToLower(id)
	type candidate struct {
		id   string
		dist int
	}
	var matches []candidate
	for _, n := range nodes {
		name := strings.ToLower(n.ID)
		d := editDistance(lower, name)
		if strings.HasPrefix(name, lower) || strings.Contains(name, lower) || d <= 2 {
			matches = append(matches, candidate{n.ID, d})
		}
	}

	if len(matches) > 0 {
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })
		if len(matches) > maxSuggestions {
			matches = matches[:maxSuggestions]
		}
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, color.NodeID(m.id))
		}
		hint := "Did you mean"
		if len(names) > 1 {
			hint += " one of"
		}
		return fmt.Sprintf("%s: %s?", hint, strings.Join(names, ", "))
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, color.NodeID(n.ID))
	}
	return fmt.Sprintf("Available nodes: %s", strings.Join(names, ", "))
}

// editDistance is the Levenshtein distance between a and b.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
