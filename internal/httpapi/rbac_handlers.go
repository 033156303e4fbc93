package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paservices.dev/internal/audit"
	"paservices.dev/internal/auth"
)

const adminPrefix = "/api/v1/admin/"

type createClientRequest struct {
	Name         string   `json:"client_name"`
	Description  string   `json:"description"`
	CallbackURLs []string `json:"allowed_callback_urls"`
}

type createClientResponse struct {
	Client       auth.Client `json:"client"`
	ClientSecret string      `json:"client_secret"`
}

type updateClientRequest struct {
	Active *bool `json:"is_active"`
}

type createNamedRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type assignPermissionRequest struct {
	PermissionID string `json:"permission_id"`
}

func (a *API) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if a.rbac == nil {
		writeError(w, r, http.StatusServiceUnavailable, "rbac service unavailable")
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, adminPrefix), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	switch parts[0] {
	case "clients":
		a.routeClients(w, r, parts[1:])
	case "roles":
		a.routeRoles(w, r, parts[1:])
	case "permissions":
		if len(parts) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handlePermissions(w, r)
	case "users":
		if len(parts) < 3 || parts[2] != "roles" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.routeUserRoles(w, r, parts[1], parts[3:])
	case "bootstrap":
		if len(parts) != 1 {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleBootstrap(w, r)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) routeClients(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0:
		a.handleClientsCollection(w, r)
	case len(parts) == 1:
		a.handleClientResource(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "secret":
		a.handleClientSecret(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "roles":
		a.handleClientRoles(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "roles":
		a.handleClientRoleRevoke(w, r, parts[0], parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) routeRoles(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0:
		a.handleRoles(w, r)
	case len(parts) == 2 && parts[1] == "permissions":
		a.handleRolePermissions(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "permissions":
		a.handleRolePermissionRevoke(w, r, parts[0], parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) routeUserRoles(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch len(rest) {
	case 0:
		a.handleUserRoles(w, r, userID)
	case 1:
		a.handleUserRoleRevoke(w, r, userID, rest[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleClientsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesRead) {
			return
		}
		clients, err := a.rbac.ListClients(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeList(w, clients)
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesWrite) {
			return
		}
		var req createClientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			rejectBody(w, r, err)
			return
		}
		client, secret, err := a.rbac.CreateClient(r.Context(), auth.NewClientInput{
			Name:         req.Name,
			Description:  req.Description,
			CallbackURLs: req.CallbackURLs,
		})
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.client.create", "client", client.ID, map[string]string{
			"client_name": client.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("%sclients/%s", adminPrefix, client.ID))
		writeJSON(w, http.StatusCreated, createClientResponse{Client: client, ClientSecret: secret})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClientResource(w http.ResponseWriter, r *http.Request, clientID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesRead) {
			return
		}
		client, err := a.rbac.GetClient(r.Context(), clientID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, client)
	case http.MethodPatch:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesWrite) {
			return
		}
		var req updateClientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			rejectBody(w, r, err)
			return
		}
		if req.Active == nil {
			writeError(w, r, http.StatusBadRequest, "is_active is required")
			return
		}
		client, err := a.rbac.SetClientActive(r.Context(), clientID, *req.Active)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		event := "rbac.client.deactivate"
		if client.Active {
			event = "rbac.client.activate"
		}
		a.audit(r.Context(), event, "client", client.ID, nil)
		writeJSON(w, http.StatusOK, client)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleClientSecret(w http.ResponseWriter, r *http.Request, clientID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesWrite) {
		return
	}
	secret, err := a.rbac.RotateClientSecret(r.Context(), clientID)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.client.rotate_secret", "client", clientID, nil)
	writeJSON(w, http.StatusOK, map[string]string{
		"client_id":     clientID,
		"client_secret": secret,
	})
}

func (a *API) handleClientRoles(w http.ResponseWriter, r *http.Request, clientID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesRead) {
			return
		}
		roles, err := a.rbac.ListClientRoles(r.Context(), clientID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeList(w, roles)
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesWrite) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			rejectBody(w, r, err)
			return
		}
		assignment, err := a.rbac.AssignClientRole(r.Context(), clientID, req.RoleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.client.assign_role", "client", clientID, map[string]string{
			"role_id": assignment.RoleID,
		})
		writeJSON(w, http.StatusCreated, assignment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClientRoleRevoke(w http.ResponseWriter, r *http.Request, clientID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesWrite) {
		return
	}
	if err := a.rbac.RevokeClientRole(r.Context(), clientID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.client.revoke_role", "client", clientID, map[string]string{
		"role_id": roleID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesRead) {
			return
		}
		roles, err := a.rbac.ListRoles(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeList(w, roles)
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermRolesWrite) {
			return
		}
		var req createNamedRequest
		if err := decodeJSON(w, r, &req); err != nil {
			rejectBody(w, r, err)
			return
		}
		role, err := a.rbac.CreateRole(r.Context(), req.Name, req.Description)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.role.create", "role", role.ID, map[string]string{
			"name": role.Name,
		})
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermPermissionsRead) {
			return
		}
		perms, err := a.rbac.ListPermissions(r.Context())
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeList(w, perms)
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermPermissionsWrite) {
			return
		}
		var req createNamedRequest
		if err := decodeJSON(w, r, &req); err != nil {
			rejectBody(w, r, err)
			return
		}
		perm, err := a.rbac.CreatePermission(r.Context(), req.Name, req.Description)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.permission.create", "permission", perm.ID, map[string]string{
			"name": perm.Name,
		})
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermPermissionsRead) {
			return
		}
		perms, err := a.rbac.ListRolePermissions(r.Context(), roleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeList(w, perms)
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermPermissionsWrite) {
			return
		}
		var req assignPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			rejectBody(w, r, err)
			return
		}
		grant, err := a.rbac.AssignRolePermission(r.Context(), roleID, req.PermissionID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.role.assign_permission", "role", roleID, map[string]string{
			"permission_id": grant.PermissionID,
		})
		writeJSON(w, http.StatusCreated, grant)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRolePermissionRevoke(w http.ResponseWriter, r *http.Request, roleID, permissionID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermPermissionsWrite) {
		return
	}
	if err := a.rbac.RevokeRolePermission(r.Context(), roleID, permissionID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.revoke_permission", "role", roleID, map[string]string{
		"permission_id": permissionID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermUsersRead) {
			return
		}
		roles, err := a.rbac.ListUserRoles(r.Context(), userID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		writeList(w, roles)
	case http.MethodPost:
		if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermUsersWrite) {
			return
		}
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			rejectBody(w, r, err)
			return
		}
		assignment, err := a.rbac.AssignUserRole(r.Context(), userID, req.RoleID)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		a.audit(r.Context(), "rbac.user.assign_role", "user", userID, map[string]string{
			"role_id": assignment.RoleID,
		})
		writeJSON(w, http.StatusCreated, assignment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserRoleRevoke(w http.ResponseWriter, r *http.Request, userID, roleID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermAdminManage, auth.PermUsersWrite) {
		return
	}
	if err := a.rbac.RevokeUserRole(r.Context(), userID, roleID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.user.revoke_role", "user", userID, map[string]string{
		"role_id": roleID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (a *API) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermissions(w, r, auth.PermAdminManage) {
		return
	}
	baseline, err := a.currentBaseline()
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	report, err := a.rbac.Bootstrap(r.Context(), baseline)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.bootstrap", "baseline", "", map[string]string{
		"roles_created":       fmt.Sprint(report.RolesCreated),
		"permissions_created": fmt.Sprint(report.PermissionsCreated),
		"grants_created":      fmt.Sprint(report.GrantsCreated),
	})
	writeJSON(w, http.StatusOK, report)
}

func (a *API) currentBaseline() (auth.Baseline, error) {
	if a.baseline != nil {
		return *a.baseline, nil
	}
	b, err := auth.DefaultBaseline()
	if err != nil {
		return auth.Baseline{}, errors.Join(auth.ErrUnavailable, err)
	}
	return b, nil
}

func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, attrs map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
	}
	if resourceID != "" {
		fields["resource_id"] = resourceID
	}
	for k, v := range attrs {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}
