// Package applog is a thin prefix-and-level wrapper over the standard
// library logger. The daemon logs little — startup, clock-skew warnings
// from telemetry, and errors worth an operator's attention — so a full
// structured-logging dependency buys nothing here.
package applog

import (
	"log"
	"os"
)

var std = log.New(os.Stderr, "auctiond: ", log.LstdFlags)

// Infof logs an informational line.
func Infof(format string, v ...any) { std.Printf("INFO "+format, v...) }

// Warnf logs a warning line.
func Warnf(format string, v ...any) { std.Printf("WARN "+format, v...) }

// Errorf logs an error line.
func Errorf(format string, v ...any) { std.Printf("ERROR "+format, v...) }
