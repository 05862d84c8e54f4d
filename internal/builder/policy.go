package builder

// Action names an operation guarded by CanAccess.
type Action string

const (
	ActionRead      Action = "read"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionDuplicate Action = "duplicate"
	ActionResults   Action = "results"
)

// CanAccess decides whether p may perform action on item.
//
// Unpublished items are invisible to everyone but their owner and admins, and
// the refusal is reported as not found so their existence does not leak.
// Every action other than read additionally requires ownership or admin
// rights.
func CanAccess(p Principal, item Item, action Action) error {
	privileged := ownsOrAdmin(p, item.OwnerID)
	if item.Status != StatusPublished && !privileged {
		return notFoundf("item %s not found", item.ID)
	}
	switch action {
	case ActionRead:
		return nil
	case ActionUpdate, ActionDelete, ActionDuplicate, ActionResults:
		if !privileged {
			return authorizationf("%s item %s: caller is neither owner nor admin", action, item.ID)
		}
		return nil
	}
	return validationf("unknown action %q", action)
}

// CanManageConfiguration decides whether p may delete cfg.
func CanManageConfiguration(p Principal, cfg Configuration) error {
	if ownsOrAdmin(p, cfg.OwnerID) {
		return nil
	}
	return authorizationf("configuration %s: caller is neither owner nor admin", cfg.ID)
}

// CanManageKnowledge decides whether p may delete entry. Reading entries
// needs no check.
func CanManageKnowledge(p Principal, entry KnowledgeEntry) error {
	if ownsOrAdmin(p, entry.OwnerID) {
		return nil
	}
	return authorizationf("knowledge entry %s: caller is neither owner nor admin", entry.ID)
}

func ownsOrAdmin(p Principal, ownerID string) bool {
	return p.Admin || (!p.Anonymous() && p.UserID == ownerID)
}

func requireAuthenticated(p Principal, op string) error {
	if p.Anonymous() {
		return authorizationf("%s requires an authenticated user", op)
	}
	return nil
}
