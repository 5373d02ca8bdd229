// Package store persists procedure documents and notifies listeners of
// every successful write.
//
// A Store wraps a Backend (embedded SQLite by default, PostgreSQL for shared
// deployments) and owns the cross-backend rules: GUID defaults, timestamps
// and change events. Lookups by field are exact, case-sensitive and bound as
// query parameters.
package store
