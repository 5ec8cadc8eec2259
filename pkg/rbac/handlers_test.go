package rbac

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/restoreassist/pkg/contextkeys"
)

type handlerFixture struct {
	router  *mux.Router
	orgID   uuid.UUID
	checker *PermissionChecker
}

func setupHandlers(t *testing.T) *handlerFixture {
	t.Helper()
	db := setupTestDB(t)
	orgID := createOrg(t, db)
	addMember(t, db, orgID, "admin-1", RoleAdmin)
	addMember(t, db, orgID, "viewer-1", RoleViewer)

	checker := NewPermissionChecker(NewStore(db), 100, time.Minute)
	handlers := NewHandlers(NewStore(db), checker, nil)

	pm := NewPermissionMiddleware(checker)
	router := mux.NewRouter()
	router.Handle("/organizations/{orgID}/roles",
		pm.RequirePermission(ResourceRoles, ActionRead)(http.HandlerFunc(handlers.ListRoles))).Methods("GET")
	router.Handle("/organizations/{orgID}/roles",
		pm.RequirePermission(ResourceRoles, ActionCreate)(http.HandlerFunc(handlers.CreateRole))).Methods("POST")
	router.Handle("/organizations/{orgID}/roles/{roleName}",
		pm.RequirePermission(ResourceRoles, ActionDelete)(http.HandlerFunc(handlers.DeleteRole))).Methods("DELETE")
	router.HandleFunc("/organizations/{orgID}/permissions/me", handlers.MyPermissions).Methods("GET")
	return &handlerFixture{router: router, orgID: orgID, checker: checker}
}

func (f *handlerFixture) do(t *testing.T, userID, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = req.WithContext(contextkeys.WithUserID(req.Context(), userID))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHandlers_ListRoles(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, "viewer-1", "GET", "/organizations/"+f.orgID.String()+"/roles", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var roles []Role
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roles))
	assert.Len(t, roles, 4)
}

func TestHandlers_CreateAndDeleteRole(t *testing.T) {
	f := setupHandlers(t)
	base := "/organizations/" + f.orgID.String() + "/roles"

	w := f.do(t, "admin-1", "POST", base, CreateRoleRequest{
		Name:        "estimator",
		Permissions: []string{"files:read", "integrations:read"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var role Role
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &role))
	assert.Equal(t, "estimator", role.Name)

	w = f.do(t, "admin-1", "POST", base, CreateRoleRequest{Name: "estimator", Permissions: []string{"files:read"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, "admin-1", "DELETE", base+"/estimator", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, "admin-1", "DELETE", base+"/owner", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlers_PermissionDenied(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, "viewer-1", "POST", "/organizations/"+f.orgID.String()+"/roles",
		CreateRoleRequest{Name: "x", Permissions: []string{"files:read"}})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "PERMISSION_DENIED")
	assert.Contains(t, w.Body.String(), "roles:create")
}

func TestHandlers_Unauthenticated(t *testing.T) {
	f := setupHandlers(t)

	w := f.do(t, "", "GET", "/organizations/"+f.orgID.String()+"/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "admin-1", "GET", "/organizations/not-a-uuid/roles", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_MyPermissions(t *testing.T) {
	f := setupHandlers(t)
	path := "/organizations/" + f.orgID.String() + "/permissions/me"

	w := f.do(t, "viewer-1", "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, RoleViewer, body.Role)
	assert.Equal(t, []string{"*:read"}, body.Permissions)

	w = f.do(t, "stranger", "GET", path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
