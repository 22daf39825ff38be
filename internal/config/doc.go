// Package config loads runtime settings from YAML or JSON files.
//
// The file has one section per runtime component (pool, reduce, threads,
// recovery, log, api). Durations are written as Go duration strings ("3s").
// ToRuntimeConfig fills unset fields with defaults; command-line flags are
// applied on top of the result by the caller.
package config
