//go:build !debug

// Package debug provides cheap, compiled-out-by-default assertions used
// throughout Graft to state invariants at the point they matter (e.g. I1-I6
// from the commit log model) without paying for them in production builds.
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
