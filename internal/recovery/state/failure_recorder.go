package state

import "errors"

// FailureRecorder writes the failure record next to the checkpoint so a
// later run can tell why the previous one stopped.
type FailureRecorder struct {
	Store *Store
}

func (r *FailureRecorder) RecordFailure(err error) error {
	if r == nil || r.Store == nil {
		return errors.New("Store is required")
	}
	f, ferr := failureFromError(err)
	if ferr != nil {
		return ferr
	}
	return r.Store.SaveFailure(f)
}
