// Package verify defines the core domain types and narrow interfaces shared
// across the presence verification subsystems: businesses, signals, website
// checks, jobs and their state machine, and the scoring rules that turn a
// set of collector signals into a presence decision.
package verify
