package erpauth

import "errors"

// ErrKeyNotFound is returned by Storage.Get when the key is absent. Callers
// treat it as "empty state", never as a failure.
var ErrKeyNotFound = errors.New("erpauth: storage key not found")

// ErrNoActiveUser is returned when an operation needs an active account and
// none is set (e.g. refreshing without a signed-in user).
var ErrNoActiveUser = errors.New("erpauth: no active user")

// ErrNeedLogin is returned by history activation when no cached token exists
// for the selected account and no onNeedLogin callback was provided.
var ErrNeedLogin = errors.New("erpauth: cached token missing, credential prompt required")
