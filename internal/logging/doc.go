// Package logging provides opt-in file-based logging with rotation for
// mongomaint. When the --debug flag is set, comprehensive logs are written to
// ~/.mongomaint/logs/ for troubleshooting interrupted maintenance runs.
//
// By default (without --debug), logging is minimal and goes to stderr only.
package logging
