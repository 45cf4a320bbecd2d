//go:build !meshtrace_debug

package tracer

const debugEnabled = false
