// Package settingstore is a small key-value record for runtime-mutable
// engine configuration, so operator changes survive restarts.
package settingstore

import (
	"context"
	"errors"
)

var ErrSettingNotFound = errors.New("setting not defined")

type SettingStore interface {
	// Get returns the stored value for name, or ErrSettingNotFound.
	Get(ctx context.Context, name string) (string, error)
	// Set stores the value for name, replacing any previous value.
	Set(ctx context.Context, name, val string) error
	// All returns every stored setting.
	All(ctx context.Context) (map[string]string, error)
}
