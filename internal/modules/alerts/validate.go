package alerts

import (
	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/metrics"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/portfolio"
	"github.com/aristath/meridian/internal/modules/ratings"
)

// Validator rejects malformed alerts at creation time. Every vocabulary is
// enumerated: metric columns, configured macro series, rating names, the
// security universe, and active portfolios.
type Validator struct {
	portfolio   *portfolio.Repository
	packs       *packs.Repository
	macroSeries []string
}

// NewValidator creates a condition validator over the given macro series
// vocabulary.
func NewValidator(portfolioRepo *portfolio.Repository, packsRepo *packs.Repository, macroSeries []string) *Validator {
	return &Validator{
		portfolio:   portfolioRepo,
		packs:       packsRepo,
		macroSeries: macroSeries,
	}
}

// ValidateAlert checks the whole definition: condition shape, channels and
// cooldown. Returns a domain.ValidationError on the first problem.
func (v *Validator) ValidateAlert(a *Alert) error {
	if a.UserID == "" {
		return domain.Validation("user_id", "user id is required")
	}
	if a.CooldownHours < 0 {
		return domain.Validation("cooldown_hours", "cooldown must not be negative")
	}
	if len(a.Channels) == 0 {
		return domain.Validation("channels", "at least one delivery channel is required")
	}
	for _, ch := range a.Channels {
		if ch != ChannelInApp && ch != ChannelEmail {
			return domain.Validation("channels", "unknown channel %q", ch)
		}
	}
	return v.ValidateCondition(&a.Condition)
}

// ValidateCondition checks one condition against the enumerated
// vocabularies.
func (v *Validator) ValidateCondition(c *Condition) error {
	if !IsOperator(c.Operator) {
		return domain.Validation("operator", "unknown operator %q", c.Operator)
	}

	switch c.Type {
	case ConditionMacro:
		if !v.knownSeries(c.Series) {
			return domain.Validation("series", "unknown macro series %q", c.Series)
		}

	case ConditionMetric:
		if !metrics.IsMetricName(c.Metric) {
			return domain.Validation("metric", "unknown metric %q", c.Metric)
		}
		pf, err := v.portfolio.GetPortfolio(c.PortfolioID)
		if err != nil {
			return err
		}
		if pf == nil {
			return domain.Validation("portfolio_id", "unknown portfolio %q", c.PortfolioID)
		}

	case ConditionRating:
		if !ratings.IsRatingName(c.Rating) {
			return domain.Validation("rating", "unknown rating %q", c.Rating)
		}
		if err := v.requireSecurity(c.SecurityID); err != nil {
			return err
		}

	case ConditionPrice:
		if c.Mode != "" && c.Mode != PriceModeLevel && c.Mode != PriceModePercentChange {
			return domain.Validation("mode", "unknown price mode %q", c.Mode)
		}
		if err := v.requireSecurity(c.SecurityID); err != nil {
			return err
		}

	case ConditionNewsSentiment:
		if c.Threshold < -1 || c.Threshold > 1 {
			return domain.Validation("threshold", "sentiment threshold must be in [-1, 1]")
		}
		if err := v.requireSecurity(c.SecurityID); err != nil {
			return err
		}

	default:
		return domain.Validation("type", "unknown condition type %q", c.Type)
	}
	return nil
}

func (v *Validator) knownSeries(series string) bool {
	for _, s := range v.macroSeries {
		if s == series {
			return true
		}
	}
	return false
}

func (v *Validator) requireSecurity(id string) error {
	if id == "" {
		return domain.Validation("security_id", "security id is required")
	}
	s, err := v.packs.GetSecurity(id)
	if err != nil {
		return err
	}
	if s == nil {
		return domain.Validation("security_id", "unknown security %q", id)
	}
	return nil
}
