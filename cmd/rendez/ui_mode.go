package main

import (
	"fmt"
	"os"
	"strings"
)

// uiMode controls whether stress renders the interactive progress UI.
type uiMode uint8

const (
	uiAuto uiMode = iota
	uiOn
	uiOff
)

func parseUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return uiAuto, nil
	case "on":
		return uiOn, nil
	case "off":
		return uiOff, nil
	}
	return uiAuto, fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
}

// interactive resolves the mode against the terminal: auto means "only
// when stdout is a TTY".
func (m uiMode) interactive() bool {
	switch m {
	case uiOn:
		return true
	case uiOff:
		return false
	}
	return isTerminal(os.Stdout)
}
