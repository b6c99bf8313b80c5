// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrBadID is returned by ParseID for anything that is not a positive
// base-10 integer.
var ErrBadID = errors.New("id must be a positive integer")

// ParseID parses a path identifier such as the ":id" in /messages/:id.
//
// Example:
//
//	id, err := utils.ParseID("42")  // 42, nil
//	_, err = utils.ParseID("0")     // ErrBadID
//	_, err = utils.ParseID("abc")   // ErrBadID
func ParseID(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrBadID
	}
	return n, nil
}

// ParseOptionalTime parses an RFC 3339 timestamp (fractional seconds
// allowed). An empty or blank string yields (nil, nil) so callers can treat
// the bound as open.
func ParseOptionalTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
