package auth

const (
	RoleAdmin   = "admin"
	RoleUser    = "user"
	RoleService = "service"
)

const (
	PermUsersRead        = "users:read"
	PermUsersWrite       = "users:write"
	PermRolesRead        = "roles:read"
	PermRolesWrite       = "roles:write"
	PermPermissionsRead  = "permissions:read"
	PermPermissionsWrite = "permissions:write"
	PermAdminManage      = "role:admin_manage"
	PermSuperIDGenerate  = "super_id:generate"
)
