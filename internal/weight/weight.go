package weight

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/charpoll/backend/internal/chat"
)

// Base is the weight of every participant before bonuses.
const Base = 1.0

// MemberSource resolves guild members and their roles.
type MemberSource interface {
	Member(ctx context.Context, guildID, userID string) (*chat.Member, error)
}

// LevelSource returns a participant's XP level; a missing record is level 0.
type LevelSource interface {
	Level(ctx context.Context, guildID, userID string) (int, error)
}

// Rules configures how roles and levels translate into weight.
type Rules struct {
	TierRoles       map[string]float64 // role ID -> multiplier, best one wins
	SupporterRoleID string
	SupporterBonus  float64
	LevelBonus      float64 // added per level
}

// Calculator computes a participant's vote weight.
type Calculator struct {
	members MemberSource
	levels  LevelSource
	rules   Rules
	logger  *zap.Logger
}

// NewCalculator creates a weight calculator.
func NewCalculator(members MemberSource, levels LevelSource, rules Rules, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{members: members, levels: levels, rules: rules, logger: logger}
}

// Weight returns the participant's weight. It never fails and never returns
// less than Base: unresolvable members count as Base, and a failed level
// lookup only drops the level component.
func (c *Calculator) Weight(ctx context.Context, guildID, userID string) float64 {
	m, err := c.members.Member(ctx, guildID, userID)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownMember) {
			c.logger.Debug("member left guild, using base weight", zap.String("user_id", userID))
		} else {
			c.logger.Warn("member lookup failed, using base weight", zap.String("user_id", userID), zap.Error(err))
		}
		return Base
	}
	if m == nil {
		return Base
	}

	w := Base
	for roleID, mult := range c.rules.TierRoles {
		if mult > w && m.HasRole(roleID) {
			w = mult
		}
	}
	if c.rules.SupporterRoleID != "" && m.HasRole(c.rules.SupporterRoleID) && c.rules.SupporterBonus > 0 {
		w += c.rules.SupporterBonus
	}

	if c.levels != nil && c.rules.LevelBonus > 0 {
		level, err := c.levels.Level(ctx, guildID, userID)
		if err != nil {
			c.logger.Warn("level lookup failed, ignoring level bonus", zap.String("user_id", userID), zap.Error(err))
		} else if level > 0 {
			w += float64(level) * c.rules.LevelBonus
		}
	}
	return w
}
