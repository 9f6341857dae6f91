// Package alerts evaluates user-defined conditions against each night's
// derived data and delivers notifications in-app and over email. Failed
// deliveries land in a dead letter queue replayed on an hourly cadence.
package alerts

// Condition types. Each type reads a different derived table.
const (
	ConditionMacro         = "macro"
	ConditionMetric        = "metric"
	ConditionRating        = "rating"
	ConditionPrice         = "price"
	ConditionNewsSentiment = "news_sentiment"
)

// Price condition modes.
const (
	PriceModeLevel         = "level"
	PriceModePercentChange = "percent_change"
)

// Delivery channels.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
)

// DLQ job statuses.
const (
	DLQPending   = "pending"
	DLQDelivered = "delivered"
	DLQFailed    = "failed"
)

// Operators supported in conditions.
var Operators = []string{">", "<", ">=", "<=", "==", "!="}

// IsOperator reports whether op is a supported comparison.
func IsOperator(op string) bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Condition is the typed shape persisted in alerts.condition_json. Which
// fields apply depends on Type; validation enforces the shape at creation.
type Condition struct {
	Type      string  `json:"type"`
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`

	Series      string `json:"series,omitempty"`       // macro
	PortfolioID string `json:"portfolio_id,omitempty"` // metric
	Metric      string `json:"metric,omitempty"`       // metric
	SecurityID  string `json:"security_id,omitempty"`  // rating, price, news_sentiment
	Rating      string `json:"rating,omitempty"`       // rating
	Mode        string `json:"mode,omitempty"`         // price: level (default) or percent_change
}

// Subject names what the condition watches, for messages and logs.
func (c *Condition) Subject() string {
	switch c.Type {
	case ConditionMacro:
		return c.Series
	case ConditionMetric:
		return c.Metric + " of " + c.PortfolioID
	case ConditionRating:
		return c.Rating + " of " + c.SecurityID
	case ConditionPrice:
		if c.Mode == PriceModePercentChange {
			return c.SecurityID + " daily change"
		}
		return c.SecurityID + " price"
	case ConditionNewsSentiment:
		return c.SecurityID + " news sentiment"
	}
	return c.Type
}

// Alert is one persisted alert definition.
type Alert struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Condition     Condition `json:"condition"`
	Channels      []string  `json:"channels"`
	CooldownHours int       `json:"cooldown_hours"`
	LastFiredAt   *int64    `json:"last_fired_at,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     int64     `json:"created_at"`
	UpdatedAt     int64     `json:"updated_at"`
}

// Notification is one in-app message. The (user, alert, delivered_day)
// uniqueness makes delivery idempotent within a day.
type Notification struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	AlertID      string `json:"alert_id"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Playbook     string `json:"playbook,omitempty"`
	DeliveredDay string `json:"delivered_day"`
	CreatedAt    int64  `json:"created_at"`
}

// DeliveryPayload carries everything a channel needs to deliver, and is
// what the DLQ persists for replay.
type DeliveryPayload struct {
	AlertID  string `json:"alert_id"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Playbook string `json:"playbook,omitempty"`
	Day      string `json:"day"`
}

// DLQJob is one failed delivery awaiting replay. Kind names the channel
// that failed.
type DLQJob struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	PayloadJSON   string `json:"payload_json"`
	Error         string `json:"error"`
	RetryCount    int    `json:"retry_count"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	LastAttemptAt int64  `json:"last_attempt_at"`
}
