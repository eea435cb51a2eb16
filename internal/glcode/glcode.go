// Package glcode parses composite GL codes and resolves their segments to
// ledger internal ids.
//
// A GL code is "<account>-<location>-<class>-<department>". The department is
// free text and may itself contain dashes, so everything after the third dash
// belongs to it:
//
//	1410-W-C3-Facilities-Extra -> account 1410, location W, class C3, department Facilities-Extra
package glcode

import (
	"fmt"
	"strings"
)

// SentinelAccount always resolves to SentinelAccountID, whether or not the
// account table contains it.
const (
	SentinelAccount   = "1410"
	SentinelAccountID = "229"
)

const segments = 4

// Key holds the raw segments of a GL code.
type Key struct {
	Account    string
	Location   string
	Class      string
	Department string
}

// FormatError reports a code with fewer than four segments.
type FormatError struct {
	Code     string
	Segments int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid GL code format: %q has %d segments, expected %d", e.Code, e.Segments, segments)
}

// Split breaks code into its segments. Codes with fewer than four segments
// yield the segments present, empty trailing fields and a *FormatError.
func Split(code string) (Key, error) {
	parts := strings.SplitN(code, "-", segments)

	var k Key
	fields := []*string{&k.Account, &k.Location, &k.Class, &k.Department}
	for i, p := range parts {
		*fields[i] = p
	}

	if len(parts) < segments {
		return k, &FormatError{Code: code, Segments: len(parts)}
	}
	return k, nil
}

// Lookup is the subset of the lookup cache the resolver needs.
type Lookup interface {
	Account(number string) (string, bool)
	Location(code string) (string, bool)
	Class(code string) (string, bool)
	Department(name string) (string, bool)
}

// Resolved holds internal ids. Empty fields were absent or not found.
type Resolved struct {
	Key        Key
	Account    string
	Location   string
	Class      string
	Department string
}

// ValidationError is a segment that could not be resolved.
type ValidationError struct {
	Field string
	Value string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s internal id not found for: %s", e.Field, e.Value)
}

// Resolve splits code and looks up every non-empty segment. Misses in the
// location, department and class segments are returned as validation errors;
// a missing account leaves Account empty.
func Resolve(code string, lookup Lookup) (Resolved, []ValidationError, error) {
	key, formatErr := Split(code)
	res := Resolved{Key: key}

	if key.Account == SentinelAccount {
		res.Account = SentinelAccountID
	} else if id, ok := lookup.Account(key.Account); ok {
		res.Account = id
	}

	var errs []ValidationError
	resolve := func(field, value string, find func(string) (string, bool), target *string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if id, ok := find(value); ok {
			*target = id
			return
		}
		errs = append(errs, ValidationError{Field: field, Value: value})
	}
	resolve("Location", key.Location, lookup.Location, &res.Location)
	resolve("Department", key.Department, lookup.Department, &res.Department)
	resolve("Class", key.Class, lookup.Class, &res.Class)

	return res, errs, formatErr
}

// Join renders validation errors separated by "; ".
func Join(errs []ValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
