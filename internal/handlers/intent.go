package handlers

import (
	"strconv"
	"strings"
)

// IntentKind tags the decoded meaning of a callback payload. Payloads are
// decoded once at the boundary and matched on the tag afterwards, so the
// router never branches on raw strings.
type IntentKind int

const (
	IntentUnknown IntentKind = iota
	IntentBackMain
	IntentConcierge
	IntentConciergeDone
	IntentSection
	IntentGuides
	IntentGuide
	IntentActivities
	IntentActivity
	IntentAdminList
	IntentAdminReply
	IntentMailingConfirm
	IntentMailingCancel
)

// Intent is a decoded callback payload.
type Intent struct {
	Kind   IntentKind
	Slug   string // section / guide / activity id
	UserID int64  // admin reply target
}

// sectionPaths maps section slugs from the main menu to their content file.
var sectionPaths = map[string]string{
	"rules_house":     "texts/rules_house.md",
	"rules_inventory": "texts/rules_inventory.md",
	"map":             "texts/map.md",
	"feedback":        "texts/feedback.md",
	"specials":        "texts/specials.md",
	"buy_house":       "texts/buy_house.md",
	"buy_furniture":   "texts/buy_furniture.md",
	"about":           "texts/about.md",
}

// ParseIntent decodes one callback data string.
func ParseIntent(data string) Intent {
	switch data {
	case "back_main":
		return Intent{Kind: IntentBackMain}
	case "concierge":
		return Intent{Kind: IntentConcierge}
	case "concierge_done":
		return Intent{Kind: IntentConciergeDone}
	case "howto":
		return Intent{Kind: IntentGuides}
	case "activities":
		return Intent{Kind: IntentActivities}
	case "admin_ls":
		return Intent{Kind: IntentAdminList}
	case "mailing_yes":
		return Intent{Kind: IntentMailingConfirm}
	case "mailing_no":
		return Intent{Kind: IntentMailingCancel}
	}

	if slug, ok := strings.CutPrefix(data, "section:"); ok {
		if _, known := sectionPaths[slug]; known {
			return Intent{Kind: IntentSection, Slug: slug}
		}
		return Intent{Kind: IntentUnknown}
	}
	if id, ok := strings.CutPrefix(data, "guide:"); ok {
		return Intent{Kind: IntentGuide, Slug: id}
	}
	if id, ok := strings.CutPrefix(data, "activity:"); ok {
		return Intent{Kind: IntentActivity, Slug: id}
	}
	if raw, ok := strings.CutPrefix(data, "admin_reply:"); ok {
		uid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Intent{Kind: IntentUnknown}
		}
		return Intent{Kind: IntentAdminReply, UserID: uid}
	}
	return Intent{Kind: IntentUnknown}
}

func intentAdminReply(userID int64) string {
	return "admin_reply:" + strconv.FormatInt(userID, 10)
}
