package client

import "github.com/veridict/dispute-chat-api/models"

// Policy is the client-side write/delete gate derived from a participant's
// role. It is a UX convenience only; the server enforces the same table
// authoritatively. Reading is always permitted.
type Policy struct {
	CanWrite  bool
	CanDelete bool
}

// PolicyFor returns the policy for a role. Write and delete are granted to
// the four courtroom roles; every other role (admin, community, unknown)
// is read-only. Deletion additionally requires self-authorship, which the
// caller checks against the message's author.
func PolicyFor(role models.Role) Policy {
	switch role {
	case models.RolePlaintiff, models.RoleDefendant, models.RoleWitness, models.RoleJudge:
		return Policy{CanWrite: true, CanDelete: true}
	default:
		return Policy{}
	}
}
