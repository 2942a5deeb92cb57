// Package cli defines the process flags of the gateway binary. Every flag
// falls back to an environment variable so container deployments need no
// command line.
package cli
