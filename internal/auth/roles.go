package auth

// permissions are strings like "batch:dispatch", "status:read", "admin:*"
const (
	PermBatchDispatch = "batch:dispatch"
	PermQueueCancel   = "queue:cancel"
	PermStatusRead    = "status:read"
	PermJobRead       = "job:read"
	PermAdminAll      = "admin:*"
)

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
	RoleAdmin    = "admin"
)

var roleToPerms = map[string][]string{
	RoleViewer:   {PermStatusRead, PermJobRead},
	RoleOperator: {PermBatchDispatch, PermQueueCancel, PermStatusRead, PermJobRead},
	RoleAdmin:    {PermAdminAll},
}

func PermsForRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	for _, r := range roles {
		if perms, ok := roleToPerms[r]; ok {
			for _, p := range perms {
				out[p] = struct{}{}
			}
		}
	}
	return out
}

// KnownRole reports whether r grants any permission.
func KnownRole(r string) bool {
	_, ok := roleToPerms[r]
	return ok
}
