// Package logs reads the daemon log file for the CLI, returning trailing
// lines and optionally following new output as it is written.
package logs
