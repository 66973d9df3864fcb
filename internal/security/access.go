package security

import (
	"errors"
	"strings"
)

var (
	// ErrMissingTarget means neither the request nor the config names a chat.
	ErrMissingTarget = errors.New("missing chat id")
	// ErrTargetNotAllowed means the resolved chat is outside the allow-list.
	ErrTargetNotAllowed = errors.New("chat not allowed")
)

// AccessControl resolves and validates the destination chat.
type AccessControl struct {
	defaultTarget string
	allowed       map[string]struct{}
}

// NewAccessControl builds the gate. An empty allow-list permits every chat.
func NewAccessControl(defaultTarget string, allowList []string) *AccessControl {
	allowed := make(map[string]struct{}, len(allowList))
	for _, id := range allowList {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &AccessControl{defaultTarget: strings.TrimSpace(defaultTarget), allowed: allowed}
}

// Authorize returns requested, or the default when requested is empty.
func (a *AccessControl) Authorize(requested string) (string, error) {
	target := strings.TrimSpace(requested)
	if target == "" {
		target = a.defaultTarget
	}
	if target == "" {
		return "", ErrMissingTarget
	}
	if len(a.allowed) > 0 {
		if _, ok := a.allowed[target]; !ok {
			return "", ErrTargetNotAllowed
		}
	}
	return target, nil
}
