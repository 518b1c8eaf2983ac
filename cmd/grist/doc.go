// Command grist is the operator CLI: it registers documents, creates and
// cancels extraction jobs, and inspects results against the same SQLite
// database the daemon uses.
package main
