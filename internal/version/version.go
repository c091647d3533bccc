// Package version holds the release version stamped into audit reports.
package version

// Current is bumped by the release workflow.
const Current = "0.1.0"
