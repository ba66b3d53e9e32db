package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("IP_SALT", "pepper")
	t.Setenv("DISCORD_CLIENT_ID", "client")
	t.Setenv("DISCORD_CLIENT_SECRET", "secret")
	t.Setenv("DISCORD_BOT_TOKEN", "bot")
	t.Setenv("GUILD_ID", "guild")
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, "dynamo", cfg.LedgerBackend)
	assert.Equal(t, 3*time.Second, cfg.IPAPITimeout)
	assert.Equal(t, 45, cfg.IPAPIRatePerMinute)
	assert.Equal(t, 10*time.Minute, cfg.CorrelationTTL)
	assert.Equal(t, "verifications", cfg.DynamoTables.Verifications)
	assert.Nil(t, cfg.MemberRoleIDs)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MEMBER_ROLE_IDS", " 1, ,2,3 ")
	t.Setenv("IPAPI_TIMEOUT", "750ms")
	t.Setenv("IPAPI_RATE_PER_MINUTE", "not-a-number")
	t.Setenv("DISCORD_TOKEN", "legacy")

	cfg := Load()
	assert.Equal(t, []string{"1", "2", "3"}, cfg.MemberRoleIDs)
	assert.Equal(t, 750*time.Millisecond, cfg.IPAPITimeout)
	assert.Equal(t, 45, cfg.IPAPIRatePerMinute)
	assert.Equal(t, "legacy", cfg.DiscordBotToken)
}

func TestValidate(t *testing.T) {
	setRequired(t)
	require.NoError(t, Load().Validate())

	t.Setenv("LEDGER_BACKEND", "postgres")
	assert.Error(t, Load().Validate(), "postgres needs DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/verify")
	assert.NoError(t, Load().Validate())

	t.Setenv("LEDGER_BACKEND", "sqlite")
	assert.Error(t, Load().Validate())
}

func TestValidate_MissingSalt(t *testing.T) {
	setRequired(t)
	t.Setenv("IP_SALT", "")
	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IPSalt")
}

func TestCallbackURL(t *testing.T) {
	cfg := &Config{PublicBaseURL: "https://verify.example/"}
	assert.Equal(t, "https://verify.example/callback", cfg.CallbackURL())
}
