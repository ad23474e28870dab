// Package pairing links beacons to vehicles.
//
// Reconciler keeps two live sets from the store, vehicles waiting for a
// beacon and available beacons, and the user's selection over them. Each
// set goes from PhaseLoading to PhaseSynced on its first snapshot; the
// reconciler is ready once both are synced. A selection whose record leaves
// its live set is cleared as that snapshot is applied.
//
// Pairer performs the writes. With a transactional store a pairing or a
// removal is all-or-nothing. Without one, a failure between the two writes
// is returned as an *InconsistencyError describing what was applied:
//
//	res, err := reconciler.Confirm(ctx)
//	var inc *pairing.InconsistencyError
//	switch {
//	case errors.As(err, &inc):
//	    // one record was written, the other was not
//	case errors.Is(err, pairing.ErrValidation):
//	    // selection incomplete or no longer eligible
//	}
package pairing
