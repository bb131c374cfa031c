package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"mediaflow/internal/workflow"
)

var timeNow = time.Now

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

var titleCaser = cases.Title(language.English)

// displayWord turns snake_case identifiers such as "movie_acquisition" into "Movie Acquisition".
func displayWord(value string) string {
	value = strings.TrimSpace(strings.ReplaceAll(value, "_", " "))
	if value == "" {
		return "-"
	}
	return titleCaser.String(value)
}

func statusColor(value string) string {
	switch value {
	case string(workflow.StatusCompleted), string(workflow.HealthHealthy):
		return ansiGreen
	case string(workflow.StatusFailed), string(workflow.StatusTimeout), string(workflow.HealthUnhealthy):
		return ansiRed
	case string(workflow.StatusCancelled), string(workflow.StepBlocked), string(workflow.HealthDegraded), string(workflow.HealthUnknown):
		return ansiYellow
	case string(workflow.StatusRunning), string(workflow.StatusRetrying):
		return ansiBlue
	default:
		return ""
	}
}

// statusLabel title-cases a status word and colors it when colorize is set.
func statusLabel(value string, colorize bool) string {
	label := displayWord(value)
	if !colorize {
		return label
	}
	if color := statusColor(value); color != "" {
		return color + label + ansiReset
	}
	return label
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatProgress(value float64) string {
	return fmt.Sprintf("%.0f%%", value)
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
