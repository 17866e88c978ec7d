package groupcall

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// ChangeReason is a set of reasons for a roster notification.
type ChangeReason uint8

const (
	// ReasonAdded means at least one device joined.
	ReasonAdded ChangeReason = 1 << iota
	// ReasonRemoved means at least one device left.
	ReasonRemoved
	// ReasonChanged means a demux id now carries a different opaque identity.
	ReasonChanged
	// ReasonResolved means an identity that previously failed to resolve
	// was resolved.
	ReasonResolved
	// ReasonMediaStateChanged means a device reported new media flags.
	ReasonMediaStateChanged
)

// Has reports whether r includes flag.
func (r ChangeReason) Has(flag ChangeReason) bool {
	return r&flag != 0
}

// String lists the reasons joined with "|".
func (r ChangeReason) String() string {
	var names []string
	for _, f := range []struct {
		flag ChangeReason
		name string
	}{
		{ReasonAdded, "added"},
		{ReasonRemoved, "removed"},
		{ReasonChanged, "changed"},
		{ReasonResolved, "resolved"},
		{ReasonMediaStateChanged, "media-state-changed"},
	} {
		if r.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// RosterChange explains a roster notification. The lists hold demux ids and
// are sorted.
type RosterChange struct {
	Reasons      ChangeReason
	EraChanged   bool
	Added        []DemuxID
	Removed      []DemuxID
	Changed      []DemuxID
	Resolved     []DemuxID
	MediaUpdated []DemuxID
}

// Empty reports whether nothing changed.
func (c RosterChange) Empty() bool {
	return c.Reasons == 0
}

func (c *RosterChange) add(flag ChangeReason, list *[]DemuxID, demux DemuxID) {
	c.Reasons |= flag
	*list = append(*list, demux)
}

// reconcile computes the roster that follows prev after a peek. When the era
// changed every previous device counts as removed and every new one as
// added, since demux ids are only unique within an era. Identities are
// resolved for added and changed devices, and retried for devices whose
// identity is still unresolved.
func reconcile(prevEra, nextEra EraID, prev []RemoteDeviceState, peek []PeekDevice, resolver MemberResolver, now time.Time) ([]RemoteDeviceState, RosterChange) {
	var change RosterChange

	if prevEra != nextEra && len(prev) > 0 {
		change.EraChanged = true
		for _, d := range prev {
			change.add(ReasonRemoved, &change.Removed, d.DemuxID)
		}
		prev = nil
	}

	old := make(map[DemuxID]RemoteDeviceState, len(prev))
	for _, d := range prev {
		old[d.DemuxID] = d
	}

	next := make([]RemoteDeviceState, 0, len(peek))
	seen := make(map[DemuxID]bool, len(peek))
	for _, p := range peek {
		if seen[p.DemuxID] {
			continue
		}
		seen[p.DemuxID] = true

		existing, ok := old[p.DemuxID]
		switch {
		case !ok:
			d := RemoteDeviceState{
				DemuxID:      p.DemuxID,
				OpaqueUserID: p.OpaqueUserID,
				JoinedOrder:  p.JoinedOrder,
				AddedAt:      now,
			}
			d.UserID, d.Resolved = resolver.Resolve(p.OpaqueUserID)
			change.add(ReasonAdded, &change.Added, p.DemuxID)
			next = append(next, d)
		case existing.OpaqueUserID != p.OpaqueUserID:
			d := RemoteDeviceState{
				DemuxID:      p.DemuxID,
				OpaqueUserID: p.OpaqueUserID,
				JoinedOrder:  p.JoinedOrder,
				AddedAt:      now,
			}
			d.UserID, d.Resolved = resolver.Resolve(p.OpaqueUserID)
			change.add(ReasonChanged, &change.Changed, p.DemuxID)
			next = append(next, d)
		default:
			if !existing.Resolved {
				existing.UserID, existing.Resolved = resolver.Resolve(existing.OpaqueUserID)
				if existing.Resolved {
					change.add(ReasonResolved, &change.Resolved, p.DemuxID)
				}
			}
			existing.JoinedOrder = p.JoinedOrder
			next = append(next, existing)
		}
	}

	for _, d := range prev {
		if !seen[d.DemuxID] {
			change.add(ReasonRemoved, &change.Removed, d.DemuxID)
		}
	}

	sortRoster(next)
	for _, list := range [][]DemuxID{change.Added, change.Removed, change.Changed, change.Resolved} {
		slices.Sort(list)
	}
	return next, change
}

func sortRoster(devices []RemoteDeviceState) {
	slices.SortFunc(devices, func(a, b RemoteDeviceState) int {
		return cmp.Or(cmp.Compare(a.JoinedOrder, b.JoinedOrder), cmp.Compare(a.DemuxID, b.DemuxID))
	})
}

func unresolved(devices []RemoteDeviceState) int {
	n := 0
	for _, d := range devices {
		if !d.Resolved {
			n++
		}
	}
	return n
}
