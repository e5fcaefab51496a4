package repository

import "errors"

// ErrSerialization marks a transaction that lost a serialization or lock
// conflict race; callers surface it as a "retry shortly" condition rather
// than a hard failure.
var ErrSerialization = errors.New("serialization conflict")
