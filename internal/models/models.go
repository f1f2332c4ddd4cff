package models

import "time"

// User is a telegram guest known to the bot.
type User struct {
	ID          int64      `db:"user_id"`
	FirstSeen   time.Time  `db:"first_seen"`
	AccessUntil *time.Time `db:"access_until"` // nil -> never authorized
}

// Authorized reports whether the user currently has content access.
func (u *User) Authorized(now time.Time) bool {
	return u != nil && u.AccessUntil != nil && u.AccessUntil.After(now)
}

// CodeUsage is one redemption of an access code. Codes are reusable, so the
// log can hold many rows per code.
type CodeUsage struct {
	ID     int64     `db:"id"`
	Code   int64     `db:"code"`
	UserID int64     `db:"user_id"`
	UsedAt time.Time `db:"used_at"`
}

// House is the per-deployment content namespace metadata (house.yaml).
type House struct {
	ID            string `yaml:"-"`
	Name          string `yaml:"name"`
	ConciergeText string `yaml:"concierge_text"`
}

// Guide is a markdown how-to page under guides/.
type Guide struct {
	ID      string
	Title   string
	Content string
}

// Activity is one entry of activities.yaml.
type Activity struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description_md"`
	GuideID     string   `yaml:"link_guide_id"`
	Links       []string `yaml:"links"`
	Months      []int    `yaml:"months"` // 1..12; empty -> offered year-round
}

// Offered reports whether the activity is on offer in the given month.
func (a Activity) Offered(month time.Month) bool {
	if len(a.Months) == 0 {
		return true
	}
	for _, m := range a.Months {
		if time.Month(m) == month {
			return true
		}
	}
	return false
}
