// Package testutil provides fixtures shared by tests: a fixed clock, pull
// request builders, a scripted HTTP doer and an in-memory cache.Store.
package testutil
