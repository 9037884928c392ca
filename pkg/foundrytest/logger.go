// Package foundrytest holds helpers shared by package tests.
package foundrytest

import (
	"log/slog"
	"os"
)

// NewLogger returns the logger used in tests. Silent unless the DEBUG env
// var asks for more: DEBUG=1 enables info, DEBUG=2 enables debug.
func NewLogger() *slog.Logger {
	level := slog.LevelError
	switch os.Getenv("DEBUG") {
	case "1":
		level = slog.LevelInfo
	case "2":
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
