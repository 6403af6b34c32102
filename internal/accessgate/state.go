// Package accessgate decides whether a request may see a protected route:
// authentication first, then the entitlement check for subscription routes.
package accessgate

type State string

const (
	StateCheckingAuth            State = "CHECKING_AUTH"
	StateAuthenticated           State = "AUTHENTICATED"
	StateUnauthenticated         State = "UNAUTHENTICATED"
	StateCheckingSubscription    State = "CHECKING_SUBSCRIPTION"
	StateEntitled                State = "ENTITLED"
	StateNotEntitled             State = "NOT_ENTITLED"
	StateSubscriptionCheckFailed State = "SUBSCRIPTION_CHECK_FAILED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateUnauthenticated, StateEntitled, StateNotEntitled, StateSubscriptionCheckFailed:
		return true
	}
	return false
}

// Rendering is what the page shows in a given state.
type Rendering string

const (
	RenderChildren Rendering = "children"
	RenderSpinner  Rendering = "spinner"
	RenderWarning  Rendering = "warning"
	RenderNothing  Rendering = "nothing"
)

func (s State) Rendering() Rendering {
	switch s {
	case StateEntitled:
		return RenderChildren
	case StateCheckingAuth, StateCheckingSubscription, StateAuthenticated:
		return RenderSpinner
	case StateSubscriptionCheckFailed:
		return RenderWarning
	default:
		// UNAUTHENTICATED and NOT_ENTITLED are waiting on a redirect.
		return RenderNothing
	}
}

const (
	RedirectUnauthenticated = "/"
	RedirectNotEntitled     = "/account?subscription_required=true"

	WarningSubscriptionCheckFailed = "We couldn't verify your subscription right now. Please refresh the page or try again shortly."
)

// Transition is reported to the transition hook on every state change.
type Transition struct {
	From State
	To   State
}

// Outcome is the final result of one gate evaluation.
type Outcome struct {
	Path      string    `json:"path"`
	State     State     `json:"state"`
	Trail     []State   `json:"trail"`
	Rendering Rendering `json:"rendering"`
	Redirect  string    `json:"redirect,omitempty"`
	Warning   string    `json:"warning,omitempty"`
	Bypass    string    `json:"bypass,omitempty"`
	Identity  string    `json:"-"`
}

func (o Outcome) Entitled() bool {
	return o.State == StateEntitled
}
