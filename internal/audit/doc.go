// Package audit writes one JSON line per radio command and session action to
// a size-rotated audit log.
package audit
