package database

import "errors"

// ErrScanNotFound is returned when a scan id is unknown.
var ErrScanNotFound = errors.New("database: scan not found")
