package domain

// RoleAdmin is the operator role required by the /v1/admin routes.
const RoleAdmin = "admin"

// RoleSettings names the guild roles the verification flow reads and grants.
// An empty role ID disables the corresponding check or grant.
type RoleSettings struct {
	MutedRoleID   string
	AltRoleID     string
	MemberRoleIDs []string
}
