// Package capi implements versioned capability tables.
//
// A capability table is a struct of function fields exposing a set of
// operations to code that has no compile-time dependency on the
// implementation. Every table embeds a Header carrying its version and an
// optional link to an alternate implementation of the same capability.
// A consumer requiring version R accepts a table iff
//
//	table.Major == R.Major && table.Minor >= R.Minor
//
// and otherwise walks the Next chain. Tables are published on the object
// they augment under a fixed key (see Set).
package capi

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound means no table is published under the key.
	ErrNotFound = errors.New("capi: no capability table")
	// ErrIncompatible means tables exist but none has a compatible version.
	ErrIncompatible = errors.New("capi: incompatible capability version")
)

// Version identifies a table revision.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether a table of version v satisfies a consumer
// requiring version req.
func (v Version) Compatible(req Version) bool {
	return v.Major == req.Major && v.Minor >= req.Minor
}

// Table is implemented by every capability table through its embedded Header.
type Table interface {
	Head() *Header
}

// Header is embedded first in every capability table.
type Header struct {
	Version Version
	// Next links an alternate, possibly incompatible, implementation.
	Next Table
}

// Head returns h itself so that embedding types implement Table.
func (h *Header) Head() *Header {
	return h
}

// Resolve walks the chain starting at t and returns the first table
// compatible with req. A table seen twice ends the walk.
func Resolve(t Table, req Version) (Table, error) {
	if t == nil {
		return nil, ErrNotFound
	}
	seen := make(map[Table]bool)
	for cur := t; cur != nil && !seen[cur]; cur = cur.Head().Next {
		if cur.Head().Version.Compatible(req) {
			return cur, nil
		}
		seen[cur] = true
	}
	return nil, fmt.Errorf("%w: need %d.%d, have %s", ErrIncompatible, req.Major, req.Minor, t.Head().Version)
}

// Lookup resolves the table published under key and asserts its type.
func Lookup[T Table](s *Set, key string, req Version) (T, error) {
	var zero T
	t, err := s.Resolve(key, req)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", key, err)
	}
	typed, ok := t.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %w: unexpected table type %T", key, ErrIncompatible, t)
	}
	return typed, nil
}

// Set holds capability tables attached to an object, keyed by a fixed
// string such as "_capi_receiver". Tables are often shared between sets,
// so a Set never modifies them. It is safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	tables map[string][]Table
}

// Attach publishes t under key in front of the tables already attached
// there. Attaching a table again moves it to the front.
func (s *Set) Attach(key string, t Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables == nil {
		s.tables = make(map[string][]Table)
	}
	prev := s.tables[key]
	list := make([]Table, 0, len(prev)+1)
	list = append(list, t)
	for _, p := range prev {
		if p != t {
			list = append(list, p)
		}
	}
	s.tables[key] = list
}

// Get returns the table most recently attached under key, or nil.
func (s *Set) Get(key string) Table {
	list := s.list(key)
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

// Resolve returns the first table under key compatible with req. Attached
// tables are tried newest first, each followed by its own Next chain.
func (s *Set) Resolve(key string, req Version) (Table, error) {
	list := s.list(key)
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	for _, t := range list {
		if found, err := Resolve(t, req); err == nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("%w: need %d.%d, have %s", ErrIncompatible, req.Major, req.Minor, list[0].Head().Version)
}

// list returns the tables under key. The slice is never modified in place.
func (s *Set) list(key string) []Table {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[key]
}

// Keys returns the published keys.
func (s *Set) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.tables))
	for k := range s.tables {
		keys = append(keys, k)
	}
	return keys
}
