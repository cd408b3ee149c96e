package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "./flexops.db", cfg.Database.Path)
	assert.Equal(t, "", cfg.NATS.URL)
	assert.Equal(t, "auto", cfg.Auto.Source)
	assert.Equal(t, 1000, cfg.Auto.PollIntervalMs)
	assert.Equal(t, 100, cfg.Auto.BatchSize)
	assert.Equal(t, 50, cfg.Flex.PollLimit)
	assert.Equal(t, "System", cfg.Automation.Author)
	assert.True(t, cfg.Auto.IsEnabled())
	assert.True(t, cfg.Flex.ShouldCloseConversation())
	assert.True(t, cfg.Flex.ShouldCompleteTask())
	assert.Equal(t, time.Second, cfg.Auto.PollInterval())
}

func TestToggleLiteralFalseOnly(t *testing.T) {
	// Only the literal string "false" disables a toggle. Other falsy-looking
	// values leave it on.
	for _, value := range []string{"FALSE", "0", "no", "off", ""} {
		auto := AutoConfig{Enabled: value}
		assert.True(t, auto.IsEnabled(), "value %q must not disable", value)
	}
	auto := AutoConfig{Enabled: "false"}
	assert.False(t, auto.IsEnabled())

	flex := FlexConfig{CloseConversation: "false", CompleteTask: "0"}
	assert.False(t, flex.ShouldCloseConversation())
	assert.True(t, flex.ShouldCompleteTask())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TASKS_AUTO_ENABLED", "false")
	t.Setenv("TASKS_AUTO_POLL_INTERVAL_MS", "250")
	t.Setenv("TASKS_AUTO_BATCH_SIZE", "10")
	t.Setenv("TASKS_AUTO_SOURCE", "internal")
	t.Setenv("TASKS_FLEX_POLL_LIMIT", "5")
	t.Setenv("TASKS_FLEX_CLOSE_CONVERSATION", "false")
	t.Setenv("TASKS_AUTOMATION_AUTHOR", "Bot")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TASKS_DB_DRIVER", "postgres")
	t.Setenv("TASKS_DB_DSN", "host=localhost user=flexops dbname=flexops")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.False(t, cfg.Auto.IsEnabled())
	assert.Equal(t, 250, cfg.Auto.PollIntervalMs)
	assert.Equal(t, 10, cfg.Auto.BatchSize)
	assert.Equal(t, "internal", cfg.Auto.Source)
	assert.Equal(t, 5, cfg.Flex.PollLimit)
	assert.False(t, cfg.Flex.ShouldCloseConversation())
	assert.True(t, cfg.Flex.ShouldCompleteTask())
	assert.Equal(t, "Bot", cfg.Automation.Author)
	assert.Equal(t, "AC123", cfg.Twilio.AccountSid)
	assert.True(t, cfg.Twilio.Configured())
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("TASKS_AUTO_SOURCE", "both")
	_, err := LoadWithPath(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auto.source")

	t.Setenv("TASKS_AUTO_SOURCE", "auto")
	t.Setenv("TASKS_DB_DRIVER", "mysql")
	_, err = LoadWithPath(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.driver")
}

func TestTwilioConfigured(t *testing.T) {
	cfg := TwilioConfig{}
	assert.False(t, cfg.Configured())
	cfg.AccountSid = "AC1"
	assert.False(t, cfg.Configured())
	cfg.AuthToken = "tok"
	assert.True(t, cfg.Configured())
}
