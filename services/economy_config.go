package services

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"dgt-economy-system/utils"
)

// EconomyConfig is an immutable snapshot of the tunable economy numbers.
// Services take a snapshot per operation so a reload mid-flight never mixes
// old and new values inside one distribution.
type EconomyConfig struct {
	Version  int       `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`

	// Distribution splits, in whole percent. BurnPercent + RecipientPercent
	// must not exceed 100; anything left over stays with the sender.
	TipBurnPercent       int `json:"tip_burn_percent"`
	TipRecipientPercent  int `json:"tip_recipient_percent"`
	RainBurnPercent      int `json:"rain_burn_percent"`
	RainRecipientPercent int `json:"rain_recipient_percent"`

	TipMinAmount      int64 `json:"tip_min_amount"`
	TipMaxAmount      int64 `json:"tip_max_amount"`
	RainMinAmount     int64 `json:"rain_min_amount"`
	RainMaxAmount     int64 `json:"rain_max_amount"`
	RainMaxRecipients int   `json:"rain_max_recipients"`

	// Cooldown windows per action key.
	CooldownWindows map[string]time.Duration `json:"-"`

	// Roles that skip the cooldown gate entirely, parsed from a
	// comma-separated env list at the boundary.
	CooldownBypassRoles map[string]struct{} `json:"-"`

	// Progression knobs.
	XPMultiplier  int            `json:"xp_multiplier"`
	XPDailyCaps   map[string]int `json:"xp_daily_caps"`  // awards per day per action
	XPDefaultCap  int            `json:"xp_default_cap"` // used when an action has no explicit cap
	ReferralBonus int64          `json:"referral_bonus"` // DGT credited to the referrer on first deposit
	ReferralXP    int64          `json:"referral_xp"`
}

// ConfigService owns the live config snapshot and its controlled reload.
type ConfigService struct {
	mu      sync.RWMutex
	current EconomyConfig
	log     *utils.Logger
}

func NewConfigService() *ConfigService {
	s := &ConfigService{log: utils.NewLogger("economy_config")}
	s.current = loadFromEnv(1)
	s.log.WithField("version", 1).Info("economy config loaded")
	return s
}

// Snapshot returns the current config by value.
func (s *ConfigService) Snapshot() EconomyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Reload re-reads the environment and swaps in a new versioned snapshot.
// In-flight operations keep the snapshot they started with.
func (s *ConfigService) Reload() EconomyConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = loadFromEnv(s.current.Version + 1)
	s.log.WithField("version", s.current.Version).Info("economy config reloaded")
	return s.current
}

func loadFromEnv(version int) EconomyConfig {
	cfg := EconomyConfig{
		Version:  version,
		LoadedAt: time.Now().UTC(),

		TipBurnPercent:       envInt("TIP_BURN_PERCENT", 10),
		TipRecipientPercent:  envInt("TIP_RECIPIENT_PERCENT", 90),
		RainBurnPercent:      envInt("RAIN_BURN_PERCENT", 0),
		RainRecipientPercent: envInt("RAIN_RECIPIENT_PERCENT", 100),

		TipMinAmount:      envInt64("TIP_MIN_AMOUNT", 10),
		TipMaxAmount:      envInt64("TIP_MAX_AMOUNT", 1_000_000),
		RainMinAmount:     envInt64("RAIN_MIN_AMOUNT", 100),
		RainMaxAmount:     envInt64("RAIN_MAX_AMOUNT", 10_000_000),
		RainMaxRecipients: envInt("RAIN_MAX_RECIPIENTS", 50),

		CooldownWindows: map[string]time.Duration{
			"tip":  time.Duration(envInt("TIP_COOLDOWN_SECONDS", 10)) * time.Second,
			"rain": time.Duration(envInt("RAIN_COOLDOWN_SECONDS", 300)) * time.Second,
		},
		CooldownBypassRoles: parseRoleSet(os.Getenv("COOLDOWN_BYPASS_ROLES"), "moderator", "admin"),

		XPMultiplier: envInt("XP_MULTIPLIER", 1),
		XPDailyCaps: map[string]int{
			"post_created":    envInt("XP_CAP_POST_CREATED", 10),
			"comment_created": envInt("XP_CAP_COMMENT_CREATED", 20),
			"tip_sent":        envInt("XP_CAP_TIP_SENT", 5),
		},
		XPDefaultCap:  envInt("XP_DEFAULT_DAILY_CAP", 10),
		ReferralBonus: envInt64("REFERRAL_BONUS_DGT", 500),
		ReferralXP:    envInt64("REFERRAL_BONUS_XP", 250),
	}

	// Keep the splits sane even if the env is not.
	if cfg.TipBurnPercent+cfg.TipRecipientPercent > 100 {
		cfg.TipBurnPercent, cfg.TipRecipientPercent = 10, 90
	}
	if cfg.RainBurnPercent+cfg.RainRecipientPercent > 100 {
		cfg.RainBurnPercent, cfg.RainRecipientPercent = 0, 100
	}

	return cfg
}

// BurnAndRecipientPercent returns the split for a distribution kind.
func (c EconomyConfig) BurnAndRecipientPercent(kind string) (int, int) {
	if kind == "rain" {
		return c.RainBurnPercent, c.RainRecipientPercent
	}
	return c.TipBurnPercent, c.TipRecipientPercent
}

// AmountBounds returns the min/max for a distribution kind.
func (c EconomyConfig) AmountBounds(kind string) (int64, int64) {
	if kind == "rain" {
		return c.RainMinAmount, c.RainMaxAmount
	}
	return c.TipMinAmount, c.TipMaxAmount
}

// DailyCap returns the per-day XP award cap for an action.
func (c EconomyConfig) DailyCap(action string) int {
	if cap, ok := c.XPDailyCaps[action]; ok {
		return cap
	}
	return c.XPDefaultCap
}

// HasBypassRole reports whether any of the caller's roles skips the gate.
func (c EconomyConfig) HasBypassRole(roles []string) bool {
	for _, r := range roles {
		if _, ok := c.CooldownBypassRoles[r]; ok {
			return true
		}
	}
	return false
}

func parseRoleSet(raw string, defaults ...string) map[string]struct{} {
	set := make(map[string]struct{})
	if raw == "" {
		for _, d := range defaults {
			set[d] = struct{}{}
		}
		return set
	}
	for _, r := range strings.Split(raw, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
