package guard

import "slices"

// Entity names a family of protected fields
type Entity string

const (
	EntityUser    Entity = "user"
	EntityFacture Entity = "facture"
	EntityClient  Entity = "client"
)

var protectedFields = map[Entity][]string{
	EntityUser:    {"id", "id_user", "role", "enabled", "accountLocked", "lockoutTime", "failedAttempts", "verificationCode"},
	EntityFacture: {"id", "id_facture", "ref_facture", "vendeur", "date_facture"},
	EntityClient:  {"id", "id_client", "user"},
}

// CheckMassAssignment rejects any update touching a protected field
func CheckMassAssignment(actor Actor, entity Entity, fields []string) *Violation {
	protected := protectedFields[entity]
	for _, f := range fields {
		if slices.Contains(protected, f) {
			return &Violation{
				Kind:   KindMassAssignment,
				Actor:  actor.Name(),
				Field:  f,
				Reason: "protected " + string(entity) + " field",
			}
		}
	}
	return nil
}

// CheckRoleModification allows a role change only from an admin. Setting
// the current value again is not a change.
func CheckRoleModification(actor Actor, currentRole, newRole string) *Violation {
	if currentRole == newRole || actor.IsAdmin() {
		return nil
	}
	return &Violation{
		Kind:   KindMassAssignment,
		Actor:  actor.Name(),
		Field:  "role",
		Reason: "privilege escalation from " + currentRole + " to " + newRole,
	}
}

// CheckEnabledModification allows toggling enablement only from an admin
func CheckEnabledModification(actor Actor) *Violation {
	if actor.IsAdmin() {
		return nil
	}
	return &Violation{
		Kind:   KindMassAssignment,
		Actor:  actor.Name(),
		Field:  "enabled",
		Reason: "unauthorized enablement change",
	}
}

// CheckWhitelist rejects a field that is not explicitly allowed
func CheckWhitelist(actor Actor, field string, allowed []string) *Violation {
	if slices.Contains(allowed, field) {
		return nil
	}
	return &Violation{
		Kind:   KindMassAssignment,
		Actor:  actor.Name(),
		Field:  field,
		Reason: "field not whitelisted",
	}
}
