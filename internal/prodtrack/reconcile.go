package prodtrack

import "time"

// Record is the reconciliation view of an entity: a stable id plus the
// fixed-width local timestamp that orders edits.
type Record interface {
	RecordID() string
	RecordStamp() string
}

const DefaultSyncGrace = 5 * time.Minute

// Reconcile merges a local and a remote collection of the same entity type,
// keyed by id, approximating last-writer-wins:
//
//   - the remote set is seeded as tentatively authoritative;
//   - a local record replaces its remote counterpart only when its stamp is
//     strictly newer (lexicographic compare; the stamp format is fixed-width
//     and zero-padded, so string order is chronological order);
//   - a local-only record survives only while it is younger than the grace
//     period. Older local-only records are treated as deleted elsewhere and
//     dropped, which is what keeps legitimately deleted records from
//     resurrecting ("ghost data") while a record created seconds ago still
//     gets time to reach the remote store.
//
// A missing or unparsable stamp on either side resolves in favor of remote.
func Reconcile[T Record](local, remote []T, now time.Time, grace time.Duration) []T {
	if grace <= 0 {
		grace = DefaultSyncGrace
	}
	merged := make([]T, len(remote))
	copy(merged, remote)
	index := make(map[string]int, len(remote))
	for i, r := range remote {
		index[r.RecordID()] = i
	}
	for _, l := range local {
		if i, ok := index[l.RecordID()]; ok {
			if stampNewer(l.RecordStamp(), merged[i].RecordStamp()) {
				merged[i] = l
			}
			continue
		}
		stamp, ok := ParseDBTimestamp(l.RecordStamp())
		if !ok {
			continue
		}
		if now.Sub(stamp) < grace {
			merged = append(merged, l)
		}
	}
	return merged
}

// stampNewer reports whether the local stamp is strictly newer than the
// remote one. A stamp that does not parse always loses, so a damaged record
// can never win a merge.
func stampNewer(local, remote string) bool {
	if _, ok := ParseDBTimestamp(local); !ok {
		return false
	}
	if _, ok := ParseDBTimestamp(remote); !ok {
		return false
	}
	return local > remote
}
