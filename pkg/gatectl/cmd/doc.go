// Package cmd implements the cobra command tree of gatectl, the operator CLI
// that validates gateway configuration files and simulates admission
// decisions against them.
package cmd
