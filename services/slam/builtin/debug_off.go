//go:build !slamdebug

package builtin

const panicOnEngineReentry = false
