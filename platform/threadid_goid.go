//go:build !mtstate_stackid

package platform

import "github.com/petermattis/goid"

// ThreadID returns the id of the calling goroutine. Ids are never zero.
func ThreadID() int64 {
	return goid.Get()
}
