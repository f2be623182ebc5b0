package feed

import (
	"context"
	"strings"

	"site-ingest/pkg/models"
)

// DuplicatePredicate reports whether the walk should continue after a page with
// the given cards. A nil predicate never stops the walk.
type DuplicatePredicate func(ctx context.Context, cards []models.ListingCard) (bool, error)

// DuplicatePolicy chooses when a page counts as already known
type DuplicatePolicy int

const (
	StopOnAnyKnown DuplicatePolicy = iota // stop as soon as one card is known
	StopOnAllKnown                        // stop only when every card is known
)

// ParsePolicy maps the duplicate_policy config value onto a policy. Anything
// other than "all" is StopOnAnyKnown.
func ParsePolicy(s string) DuplicatePolicy {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return StopOnAllKnown
	}
	return StopOnAnyKnown
}

func (p DuplicatePolicy) String() string {
	if p == StopOnAllKnown {
		return "all"
	}
	return "any"
}

// KnownLookup reports which URLs already have a stored record
type KnownLookup interface {
	Known(ctx context.Context, urls []string) (map[string]bool, error)
}

// SeenChecker decides duplicates from the store and from the cards it has
// already been shown during the current walk. Not safe for concurrent use;
// build one per walk.
type SeenChecker struct {
	lookup KnownLookup // may be nil
	policy DuplicatePolicy
	seen   map[string]bool
}

// NewSeenChecker creates a SeenChecker
func NewSeenChecker(lookup KnownLookup, policy DuplicatePolicy) *SeenChecker {
	return &SeenChecker{lookup: lookup, policy: policy, seen: make(map[string]bool)}
}

// Unique reports whether the page holding cards is new enough to keep walking.
// An empty page is always unique.
func (c *SeenChecker) Unique(ctx context.Context, cards []models.ListingCard) (bool, error) {
	if len(cards) == 0 {
		return true, nil
	}

	urls := make([]string, 0, len(cards))
	for _, card := range cards {
		urls = append(urls, card.URL)
	}

	known := map[string]bool{}
	if c.lookup != nil {
		var err error
		if known, err = c.lookup.Known(ctx, urls); err != nil {
			return false, err
		}
	}

	knownCount := 0
	for _, u := range urls {
		if known[u] || c.seen[u] {
			knownCount++
		}
	}
	for _, u := range urls {
		c.seen[u] = true
	}

	if c.policy == StopOnAllKnown {
		return knownCount < len(urls), nil
	}
	return knownCount == 0, nil
}

// Predicate adapts c to a DuplicatePredicate
func (c *SeenChecker) Predicate() DuplicatePredicate {
	return c.Unique
}
