// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// resolves CLI flags against the configuration file into the final
// service configuration.
package cli
