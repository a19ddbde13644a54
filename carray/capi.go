package carray

import "github.com/wippyai/mtstate/capi"

// Key publishes the array capability table.
const Key = "_capi_carray"

// Version of the array capability table.
var Version = capi.Version{Major: -2, Minor: 0, Patch: 0}

// API is the array capability table.
type API struct {
	capi.Header

	// New creates an array and returns its zeroed element storage.
	New func(t Type, attr Attr, count int) (*Array, []byte, error)
	// NewRef creates an array over caller managed storage.
	NewRef func(t Type, attr Attr, data []byte, count int, release func([]byte, int)) (*Array, error)
	// ToReadable returns the array behind v, if any.
	ToReadable func(v any) (*Array, Info, bool)
	// ToWritable returns the array behind v if it accepts writes.
	ToWritable func(v any) (*Array, Info, bool)
	Retain     func(a *Array)
	Release    func(a *Array)
	// ReadableElements returns count elements starting at offset.
	ReadableElements func(a *Array, offset, count int) ([]byte, error)
	// WritableElements is ReadableElements for writing.
	WritableElements func(a *Array, offset, count int) ([]byte, error)
	// Resize changes the element count and returns the storage.
	Resize func(a *Array, count int, shrink bool) ([]byte, error)
}

// Impl is the array capability table of this package.
var Impl = &API{
	Header: capi.Header{Version: Version},
	New: func(t Type, attr Attr, count int) (*Array, []byte, error) {
		a, err := New(t, attr, count)
		if err != nil {
			return nil, nil, err
		}
		return a, a.data, nil
	},
	NewRef: NewRef,
	ToReadable: func(v any) (*Array, Info, bool) {
		a, ok := v.(*Array)
		if !ok || a == nil {
			return nil, Info{}, false
		}
		return a, a.Info(), true
	},
	ToWritable: func(v any) (*Array, Info, bool) {
		a, ok := v.(*Array)
		if !ok || a == nil || a.ReadOnly() {
			return nil, Info{}, false
		}
		return a, a.Info(), true
	},
	Retain:           (*Array).Retain,
	Release:          (*Array).Release,
	ReadableElements: (*Array).Elements,
	WritableElements: (*Array).WritableElements,
	Resize:           (*Array).Resize,
}
