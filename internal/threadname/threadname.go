// Package threadname encodes and decodes the canonical thread name form:
// a status emoji, the task's short ID in brackets, and the task title,
// capped at the host's name-length limit.
package threadname

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/DiscoClaw/discoclaw/internal/model"
)

// MaxLength is the thread name cap imposed by the host.
const MaxLength = 100

var statusEmojis = map[model.Status]string{
	model.StatusOpen:       "🟢",
	model.StatusInProgress: "🔵",
	model.StatusBlocked:    "🔴",
	model.StatusClosed:     "✅",
}

// Emoji returns the emoji for a status, defaulting to the open marker for
// anything unrecognized.
func Emoji(status model.Status) string {
	if e, ok := statusEmojis[status]; ok {
		return e
	}
	return statusEmojis[model.StatusOpen]
}

// Encode computes the canonical thread name for a task. The name is a pure
// function of (short ID, title, status); the engine recomputes and compares
// it rather than trusting whatever the thread currently carries.
func Encode(task model.Task) string {
	prefix := fmt.Sprintf("%s [%s] ", Emoji(task.Status), task.ShortID())
	title := strings.TrimSpace(task.Title)

	runes := []rune(prefix + title)
	if len(runes) <= MaxLength {
		return string(runes)
	}
	return string(runes[:MaxLength-1]) + "…"
}

var shortIDPattern = regexp.MustCompile(`\[(?:[A-Za-z][A-Za-z0-9]*-)?([0-9]+)\]`)

// DecodeShortID extracts the embedded short ID from a thread name, or ""
// when the name does not carry one.
func DecodeShortID(name string) string {
	m := shortIDPattern.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}
