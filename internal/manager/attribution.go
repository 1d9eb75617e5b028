package manager

import (
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/oastengine/pkg/types"
)

// findActiveURL returns the most recently created ActiveUrl whose
// UniqueID is a prefix of fullID (exact equality is the degenerate case
// of an empty suffix, so a single HasPrefix check covers both). When
// several active URLs would match — which should not normally happen,
// since unique IDs are CSPRNG-derived — ties are broken most-recent-wins
// by scanning newest-created first.
func findActiveURL(urls []types.ActiveUrl, fullID string) (types.ActiveUrl, bool) {
	ordered := make([]types.ActiveUrl, len(urls))
	copy(ordered, urls)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	for _, u := range ordered {
		if strings.HasPrefix(fullID, u.UniqueID) {
			return u, true
		}
	}
	return types.ActiveUrl{}, false
}
