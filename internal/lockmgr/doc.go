// Package lockmgr implements the lock manager: the local-then-global
// acquire/release discipline that turns a cache slot's pair of local
// mutexes and a CAS loop over the entry store into the four primitives
// every higher-level operation composes from (spec.md §4.3).
package lockmgr
