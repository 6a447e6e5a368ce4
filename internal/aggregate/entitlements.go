// Package aggregate reduces normalized installation records and concurrency samples into report groupings.
// Every function here is a deterministic function of its input; nothing is carried between calls.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"license-usage-analyzer/internal/inventory/domain"
)

// UnclassifiedPolicy decides what happens to records whose classification failed.
type UnclassifiedPolicy string

const (
	// ExcludeUnclassified leaves failed records out of entitlement grouping.
	ExcludeUnclassified UnclassifiedPolicy = "exclude"
	// RawUnclassified groups failed records under their raw name, marked Unclassified.
	RawUnclassified UnclassifiedPolicy = "raw"
)

// ParseUnclassifiedPolicy validates a policy name. Empty selects ExcludeUnclassified.
func ParseUnclassifiedPolicy(s string) (UnclassifiedPolicy, error) {
	switch UnclassifiedPolicy(s) {
	case "", ExcludeUnclassified:
		return ExcludeUnclassified, nil
	case RawUnclassified:
		return RawUnclassified, nil
	}
	return "", fmt.Errorf("aggregate: unknown unclassified policy %q", s)
}

// EntitlementKey identifies one entitlement group.
type EntitlementKey struct {
	Date         string
	SoftwareName string
	Publisher    string
	Edition      string
	Username     string
	// Unclassified marks groups keyed by a raw, un-normalized name.
	Unclassified bool
}

// EntitlementSummary is one row of the entitlement report.
type EntitlementSummary struct {
	EntitlementKey
	// ConsumedEntitlements is the number of distinct known machine names in the group.
	ConsumedEntitlements int
	// Machines are the distinct known machine names, sorted.
	Machines []string
	// Installations is the number of records in the group.
	Installations int
	// MultipleEntitlements is set by the AnomalyRule.
	MultipleEntitlements bool
}

// AnomalyRule decides whether a group consumes more entitlements than one user should.
type AnomalyRule interface {
	MultipleEntitlements(ctx context.Context, s EntitlementSummary) (bool, error)
}

// ThresholdRule flags groups with more than Max consumed entitlements.
type ThresholdRule struct {
	Max int
}

// DefaultRule flags any group whose user holds the same title on more than one machine.
var DefaultRule = ThresholdRule{Max: 1}

// MultipleEntitlements reports s.ConsumedEntitlements > r.Max.
func (r ThresholdRule) MultipleEntitlements(_ context.Context, s EntitlementSummary) (bool, error) {
	return s.ConsumedEntitlements > r.Max, nil
}

// EntitlementOptions configure GroupEntitlements. Zero values select DefaultRule and ExcludeUnclassified, and count
// every non-empty machine name.
type EntitlementOptions struct {
	Rule         AnomalyRule
	Unclassified UnclassifiedPolicy
	// SkipUnknownMachines stops the domain.Unknown machine name from counting as a machine.
	SkipUnknownMachines bool
}

// GroupEntitlements groups records by (date, normalized name, publisher, edition, username) and counts distinct
// machines per group. Empty machine names are not counted; Unknown is a machine name like any other unless
// opts.SkipUnknownMachines is set. The result is sorted by date, then the
// remaining key fields; UnknownDate sorts after every calendar date.
func GroupEntitlements(ctx context.Context, classified, unclassified []domain.InstallationRecord, opts EntitlementOptions) ([]EntitlementSummary, error) {
	rule := opts.Rule
	if rule == nil {
		rule = DefaultRule
	}
	policy, err := ParseUnclassifiedPolicy(string(opts.Unclassified))
	if err != nil {
		return nil, err
	}

	type group struct {
		installations int
		machines      map[string]struct{}
	}
	groups := map[EntitlementKey]*group{}
	add := func(r *domain.InstallationRecord, name string, raw bool) {
		k := EntitlementKey{
			Date:         domain.DateKey(r.ObservedAt),
			SoftwareName: name,
			Publisher:    r.Publisher,
			Edition:      r.Edition,
			Username:     r.Username,
			Unclassified: raw,
		}
		g, ok := groups[k]
		if !ok {
			g = &group{machines: map[string]struct{}{}}
			groups[k] = g
		}
		g.installations++
		if r.MachineName != "" && !(opts.SkipUnknownMachines && r.MachineName == domain.Unknown) {
			g.machines[r.MachineName] = struct{}{}
		}
	}

	for i := range classified {
		r := &classified[i]
		if !r.Classified || r.NormalizedSoftwareName == "" {
			continue
		}
		add(r, r.NormalizedSoftwareName, false)
	}
	if policy == RawUnclassified {
		for i := range unclassified {
			add(&unclassified[i], unclassified[i].RawSoftwareName, true)
		}
	}

	out := make([]EntitlementSummary, 0, len(groups))
	for k, g := range groups {
		machines := make([]string, 0, len(g.machines))
		for m := range g.machines {
			machines = append(machines, m)
		}
		sort.Strings(machines)
		out = append(out, EntitlementSummary{
			EntitlementKey:       k,
			ConsumedEntitlements: len(machines),
			Machines:             machines,
			Installations:        g.installations,
		})
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].EntitlementKey, out[j].EntitlementKey) })

	for i := range out {
		multiple, err := rule.MultipleEntitlements(ctx, out[i])
		if err != nil {
			return nil, fmt.Errorf("aggregate: anomaly rule for %s/%s: %w", out[i].Date, out[i].SoftwareName, err)
		}
		out[i].MultipleEntitlements = multiple
	}
	return out, nil
}

func keyLess(a, b EntitlementKey) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	if a.SoftwareName != b.SoftwareName {
		return a.SoftwareName < b.SoftwareName
	}
	if a.Publisher != b.Publisher {
		return a.Publisher < b.Publisher
	}
	if a.Edition != b.Edition {
		return a.Edition < b.Edition
	}
	if a.Username != b.Username {
		return a.Username < b.Username
	}
	return !a.Unclassified && b.Unclassified
}

// CountMultiple returns the number of summaries flagged MultipleEntitlements.
func CountMultiple(summaries []EntitlementSummary) int {
	n := 0
	for _, s := range summaries {
		if s.MultipleEntitlements {
			n++
		}
	}
	return n
}
