package main

import (
	"fmt"
	"time"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatProgress(percent float64) string {
	return fmt.Sprintf("%.0f%%", percent)
}

func truncate(s string, limit int) string {
	if limit <= 3 || len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
