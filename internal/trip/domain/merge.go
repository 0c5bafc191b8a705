package domain

// MergeOutcome classifies what applying an event to a record did.
type MergeOutcome int

const (
	// MergeApplied means the event's fields were new and were merged in.
	MergeApplied MergeOutcome = iota
	// MergeDuplicate means the event's kind was already applied with equal
	// fields; the record is unchanged.
	MergeDuplicate
	// MergeConflict means the event's kind was already applied with different
	// fields. First writer wins: the record is unchanged, but callers should
	// surface the conflict.
	MergeConflict
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeApplied:
		return "applied"
	case MergeDuplicate:
		return "duplicate"
	case MergeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Merge applies ev to a copy of rec and returns the result together with the
// outcome. Merge is total over (status x kind), commutative and idempotent:
// START-then-END and END-then-START produce the same record, and re-applying
// either event is a no-op. That property, not delivery order, is what makes
// the reconciliation core tolerate out-of-order and duplicate delivery.
func Merge(rec TripRecord, ev TripEvent) (TripRecord, MergeOutcome) {
	switch ev.Kind {
	case KindStart:
		if rec.HasStart() {
			if startEqual(rec, ev) {
				return rec, MergeDuplicate
			}
			return rec, MergeConflict
		}
		ts := ev.Timestamp
		rec.PickupTime = &ts
		rec.PickupLocationID = ev.PickupLocationID
		rec.DropoffLocationID = ev.DropoffLocationID
		rec.VendorID = ev.VendorID
		rec.EstimatedDropoff = ev.EstimatedDropoff
		rec.EstimatedFare = ev.EstimatedFare
	case KindEnd:
		if rec.HasEnd() {
			if endEqual(rec, ev) {
				return rec, MergeDuplicate
			}
			return rec, MergeConflict
		}
		ts := ev.Timestamp
		rec.DropoffTime = &ts
		rec.FareAmount = ev.FareAmount
		rec.TripDistance = ev.TripDistance
	default:
		return rec, MergeConflict
	}

	rec.Status = statusOf(rec)
	return rec, MergeApplied
}

// statusOf derives the status from field presence. COMPLETED iff both halves
// have been applied; monotonic because Merge never clears fields.
func statusOf(rec TripRecord) TripStatus {
	switch {
	case rec.HasStart() && rec.HasEnd():
		return StatusCompleted
	case rec.HasEnd():
		return StatusEndOnly
	default:
		return StatusStarted
	}
}

func startEqual(rec TripRecord, ev TripEvent) bool {
	return rec.PickupTime.Equal(ev.Timestamp) &&
		rec.PickupLocationID == ev.PickupLocationID &&
		rec.DropoffLocationID == ev.DropoffLocationID &&
		rec.VendorID == ev.VendorID
}

func endEqual(rec TripRecord, ev TripEvent) bool {
	if !rec.DropoffTime.Equal(ev.Timestamp) {
		return false
	}
	return floatPtrEqual(rec.FareAmount, ev.FareAmount) &&
		floatPtrEqual(rec.TripDistance, ev.TripDistance)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
