// Package output provides output formatting for kitesync-cli.
//
// Formatters render command results as either an aligned text table
// (the default, human-oriented) or indented JSON for scripting.
// Table rendering supports a wide mode that includes extra columns
// tagged `table:"wide"`.
package output
