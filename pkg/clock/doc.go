// Package clock supplies wall-clock time to the admission pipeline, with a
// settable fake for deterministic tests.
package clock
