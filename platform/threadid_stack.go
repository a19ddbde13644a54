//go:build mtstate_stackid

package platform

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// ThreadID returns the id of the calling goroutine, parsed from the header
// line of its stack trace. Ids are never zero.
func ThreadID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		panic("platform: cannot parse goroutine id from " + strconv.Quote(string(buf[:])))
	}
	return id
}
