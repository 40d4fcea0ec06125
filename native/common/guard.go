package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return &Error{Kind: KindPaused, Code: "ModulePaused", Fields: map[string]string{"module": module}, Err: ErrModulePaused}
	}
	return nil
}

// PauseSet is a fixed set of paused module names, typically loaded from the
// node configuration.
type PauseSet map[string]struct{}

// NewPauseSet builds a PauseSet from module names. Names are case-insensitive.
func NewPauseSet(modules ...string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, module := range modules {
		trimmed := strings.ToLower(strings.TrimSpace(module))
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}

func (s PauseSet) IsPaused(module string) bool {
	_, ok := s[strings.ToLower(module)]
	return ok
}
