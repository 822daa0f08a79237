package session

// Access is the decision of a route guard for a snapshot of the session.
type Access int

const (
	// AccessPending means the initial session check has not settled yet.
	// Render a neutral placeholder and do not redirect.
	AccessPending Access = iota
	// AccessGranted means a credential is present.
	AccessGranted
	// AccessDenied means the check has settled without a credential.
	AccessDenied
)

func (a Access) String() string {
	switch a {
	case AccessPending:
		return "pending"
	case AccessGranted:
		return "granted"
	case AccessDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Guard decides whether protected content may be shown.
func Guard(s Snapshot) Access {
	switch {
	case s.Loading:
		return AccessPending
	case s.Authenticated():
		return AccessGranted
	default:
		return AccessDenied
	}
}
