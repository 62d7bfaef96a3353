package model

// RoleAdmin is the role flag that puts a principal on the support roster.
const RoleAdmin = "admin"

// UnknownUserName is shown when an owner's profile cannot be read.
const UnknownUserName = "Unknown User"

// Principal is the authenticated identity handed to us by the identity service.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	// VisitorSessionID is set for an anonymous visitor holding a valid visitor token.
	VisitorSessionID string `json:"-"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Anonymous returns the principal of a visitor admitted to one intake session.
func Anonymous(sessionID string) Principal {
	return Principal{ID: AnonymousOwnerID, DisplayName: "Anonymous", VisitorSessionID: sessionID}
}

// Profile is the read-only part of a user profile the support console shows.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}
