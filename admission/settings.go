package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pmgate/pmgate/admission/settingstore"
)

// Settings is the runtime-mutable engine configuration. Mutations go through
// the validated Engine setters; every pipeline stage reads a consistent
// snapshot via CurrentSettings.
type Settings struct {
	// Enabled gates all new admission work. Pending challenges still resolve
	// while the engine is disabled.
	Enabled bool
	// ChallengeTimeout is how long a pending challenge waits for a reply
	// before rejecting. Zero means pending challenges never expire on their
	// own (the safety sweep still applies).
	ChallengeTimeout time.Duration
	// FloodThreshold and FloodWindow: FloodThreshold messages from one
	// sender, or messages from FloodThreshold distinct senders, inside
	// FloodWindow trip protection mode.
	FloodThreshold int
	FloodWindow    time.Duration
	// Cooldown is how long protection mode stays active once tripped.
	Cooldown time.Duration
	// CommonGroupThreshold auto-trusts senders sharing at least this many
	// group chats with the operator. Zero disables the check.
	CommonGroupThreshold int
	// BlockBots treats bot accounts as invalid senders.
	BlockBots bool
	// DestructiveReject makes rejections report, block, and erase history
	// instead of silently ignoring the sender.
	DestructiveReject bool
	// ChallengeText and SuccessText are the messages sent when a challenge
	// begins and when a sender passes. Deploy-time config, not persisted.
	ChallengeText string
	SuccessText   string
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:              true,
		ChallengeTimeout:     5 * time.Minute,
		FloodThreshold:       7,
		FloodWindow:          time.Minute,
		Cooldown:             5 * time.Minute,
		CommonGroupThreshold: 0,
		BlockBots:            false,
		DestructiveReject:    false,
		ChallengeText:        "This account screens new private messages. Reply with any sticker to continue.",
		SuccessText:          "Verified, thanks. Your messages will now be seen.",
	}
}

// validate applies the same bounds the individual setters enforce.
func (s Settings) validate() error {
	if s.ChallengeTimeout < 0 {
		return ErrInvalidTimeout
	}
	if s.FloodThreshold < 1 {
		return ErrInvalidThreshold
	}
	if s.FloodWindow <= 0 {
		return ErrInvalidWindow
	}
	if s.Cooldown <= 0 {
		return ErrInvalidCooldown
	}
	if s.CommonGroupThreshold < 0 {
		return ErrInvalidGroupThreshold
	}
	return nil
}

// persisted setting names
const (
	settingEnabled              = "enabled"
	settingChallengeTimeout     = "challenge_timeout"
	settingFloodThreshold       = "flood_threshold"
	settingFloodWindow          = "flood_window"
	settingCooldown             = "cooldown"
	settingCommonGroupThreshold = "common_group_threshold"
	settingBlockBots            = "block_bots"
	settingDestructiveReject    = "destructive_reject"
)

// LoadSettings applies any stored settings on top of base. Unknown stored
// names are ignored; unparseable values are an error, since only the
// validated setters write them.
func LoadSettings(ctx context.Context, store settingstore.SettingStore, base Settings) (Settings, error) {
	stored, err := store.All(ctx)
	if err != nil {
		return base, fmt.Errorf("reading stored settings: %w", err)
	}

	out := base
	for name, val := range stored {
		switch name {
		case settingEnabled:
			out.Enabled, err = strconv.ParseBool(val)
		case settingChallengeTimeout:
			out.ChallengeTimeout, err = time.ParseDuration(val)
		case settingFloodThreshold:
			out.FloodThreshold, err = strconv.Atoi(val)
		case settingFloodWindow:
			out.FloodWindow, err = time.ParseDuration(val)
		case settingCooldown:
			out.Cooldown, err = time.ParseDuration(val)
		case settingCommonGroupThreshold:
			out.CommonGroupThreshold, err = strconv.Atoi(val)
		case settingBlockBots:
			out.BlockBots, err = strconv.ParseBool(val)
		case settingDestructiveReject:
			out.DestructiveReject, err = strconv.ParseBool(val)
		}
		if err != nil {
			return base, fmt.Errorf("stored setting %s has bad value %q: %w", name, val, err)
		}
	}
	return out, nil
}

// CurrentSettings returns a snapshot of the engine settings.
func (eng *Engine) CurrentSettings() Settings {
	eng.settingsLk.RLock()
	defer eng.settingsLk.RUnlock()
	return eng.settings
}

// Enabled reports whether the engine is processing new admissions.
func (eng *Engine) Enabled() bool {
	eng.settingsLk.RLock()
	defer eng.settingsLk.RUnlock()
	return eng.settings.Enabled
}

func (eng *Engine) saveSetting(ctx context.Context, name, val string) error {
	if eng.SettingStore == nil {
		return nil
	}
	if err := eng.SettingStore.Set(ctx, name, val); err != nil {
		return fmt.Errorf("persisting setting %s: %w", name, err)
	}
	return nil
}

func (eng *Engine) SetEnabled(ctx context.Context, enabled bool) error {
	if err := eng.saveSetting(ctx, settingEnabled, strconv.FormatBool(enabled)); err != nil {
		return err
	}
	eng.settingsLk.Lock()
	eng.settings.Enabled = enabled
	eng.settingsLk.Unlock()
	eng.Logger.Info("engine enabled state changed", "enabled", enabled)
	return nil
}

func (eng *Engine) SetChallengeTimeout(ctx context.Context, timeout time.Duration) error {
	if timeout < 0 {
		return ErrInvalidTimeout
	}
	if err := eng.saveSetting(ctx, settingChallengeTimeout, timeout.String()); err != nil {
		return err
	}
	eng.settingsLk.Lock()
	eng.settings.ChallengeTimeout = timeout
	eng.settingsLk.Unlock()
	return nil
}

// SetFloodParams updates the flood trigger. Threshold and window move
// together so a half-applied pair can never be observed.
func (eng *Engine) SetFloodParams(ctx context.Context, threshold int, window time.Duration) error {
	if threshold < 1 {
		return ErrInvalidThreshold
	}
	if window <= 0 {
		return ErrInvalidWindow
	}
	if err := eng.saveSetting(ctx, settingFloodThreshold, strconv.Itoa(threshold)); err != nil {
		return err
	}
	if err := eng.saveSetting(ctx, settingFloodWindow, window.String()); err != nil {
		return err
	}
	eng.settingsLk.Lock()
	eng.settings.FloodThreshold = threshold
	eng.settings.FloodWindow = window
	eng.settingsLk.Unlock()
	return nil
}

func (eng *Engine) SetCooldown(ctx context.Context, cooldown time.Duration) error {
	if cooldown <= 0 {
		return ErrInvalidCooldown
	}
	if err := eng.saveSetting(ctx, settingCooldown, cooldown.String()); err != nil {
		return err
	}
	eng.settingsLk.Lock()
	eng.settings.Cooldown = cooldown
	eng.settingsLk.Unlock()
	return nil
}

func (eng *Engine) SetCommonGroupThreshold(ctx context.Context, threshold int) error {
	if threshold < 0 {
		return ErrInvalidGroupThreshold
	}
	if err := eng.saveSetting(ctx, settingCommonGroupThreshold, strconv.Itoa(threshold)); err != nil {
		return err
	}
	eng.settingsLk.Lock()
	eng.settings.CommonGroupThreshold = threshold
	eng.settingsLk.Unlock()
	return nil
}

func (eng *Engine) SetBlockBots(ctx context.Context, block bool) error {
	if err := eng.saveSetting(ctx, settingBlockBots, strconv.FormatBool(block)); err != nil {
		return err
	}
	eng.settingsLk.Lock()
	eng.settings.BlockBots = block
	eng.settingsLk.Unlock()
	return nil
}

func (eng *Engine) SetDestructiveReject(ctx context.Context, destructive bool) error {
	if err := eng.saveSetting(ctx, settingDestructiveReject, strconv.FormatBool(destructive)); err != nil {
		return err
	}
	eng.settingsLk.Lock()
	eng.settings.DestructiveReject = destructive
	eng.settingsLk.Unlock()
	return nil
}
