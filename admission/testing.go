package admission

import (
	"log/slog"
	"time"

	"github.com/pmgate/pmgate/admission/countstore"
	"github.com/pmgate/pmgate/admission/settingstore"
	"github.com/pmgate/pmgate/admission/whitelist"
	"github.com/pmgate/pmgate/platform"
)

// EngineTestFixture builds an engine on in-memory stores and a scripted
// platform client, with timers short enough for tests to wait out.
// Intentionally exported, for use in other packages.
func EngineTestFixture() (*Engine, *platform.MockClient) {
	client := platform.NewMockClient()

	settings := DefaultSettings()
	settings.ChallengeTimeout = 150 * time.Millisecond
	settings.FloodThreshold = 5
	settings.FloodWindow = 200 * time.Millisecond
	settings.Cooldown = 150 * time.Millisecond

	eng, err := NewEngine(client, whitelist.NewMemStore(), &EngineConfig{
		Logger:       slog.Default(),
		Counters:     countstore.NewMemCountStore(),
		SettingStore: settingstore.NewMemSettingStore(),
		Settings:     &settings,

		SweepInterval: 50 * time.Millisecond,
		SweepCeiling:  time.Hour,
	})
	if err != nil {
		panic(err)
	}
	return eng, client
}
