package admission

import (
	"errors"
)

var (
	ErrInvalidSender         = errors.New("sender identifier must be positive")
	ErrInvalidTimeout        = errors.New("challenge timeout cannot be negative")
	ErrInvalidThreshold      = errors.New("flood threshold must be at least 1")
	ErrInvalidWindow         = errors.New("flood window must be positive")
	ErrInvalidCooldown       = errors.New("cooldown must be positive")
	ErrInvalidGroupThreshold = errors.New("common group threshold cannot be negative")
)
