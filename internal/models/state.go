package models

// State is the guest-side conversation state.
type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingCode
	StateMainMenu
	StateGuidesMenu
	StateActivitiesMenu
	StateConciergeAwaitingMessage
	StateConciergeAwaitingMore
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateMainMenu:
		return "main_menu"
	case StateGuidesMenu:
		return "guides_menu"
	case StateActivitiesMenu:
		return "activities_menu"
	case StateConciergeAwaitingMessage:
		return "concierge_awaiting_message"
	case StateConciergeAwaitingMore:
		return "concierge_awaiting_more"
	}
	return "unknown"
}
