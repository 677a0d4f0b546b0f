package store

import (
	"errors"
	"fmt"
)

// NoRow is returned by Insert when the row was ignored because a row with
// the same (timestamp, device_id) already exists. Callers must check for
// it before treating an insert as successful.
const NoRow int64 = 0

// ErrUnknownCollection is returned for addresses that name no collection.
var ErrUnknownCollection = errors.New("unknown collection")

// TxError reports a transaction that was rolled back. No partial writes
// from the failed operation are visible.
type TxError struct {
	Op         Op
	Collection Collection
	Err        error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// IsTxFailure returns true if err is (or wraps) a *TxError.
func IsTxFailure(err error) bool {
	var te *TxError
	return errors.As(err, &te)
}
