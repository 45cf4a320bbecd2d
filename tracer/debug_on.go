//go:build meshtrace_debug

package tracer

// Built with the meshtrace_debug tag: validate every freshly built index and
// check traversal stack bounds.
const debugEnabled = true
