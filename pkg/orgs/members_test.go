package orgs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/restoreassist/pkg/apierrors"
	"github.com/platinummonkey/restoreassist/pkg/audit"
)

var memberCols = []string{"id", "organization_id", "user_id", "email", "role", "invited_by", "joined_at"}

func memberRow(orgID uuid.UUID, userID, role string) *sqlmock.Rows {
	return sqlmock.NewRows(memberCols).
		AddRow(uuid.NewString(), orgID.String(), userID, userID+"@example.com", role, nil, testNow)
}

func TestListMembers(t *testing.T) {
	f := setupService(t)
	orgID := uuid.New()

	rows := sqlmock.NewRows(memberCols).
		AddRow(uuid.NewString(), orgID.String(), "owner-1", "", "owner", nil, testNow).
		AddRow(uuid.NewString(), orgID.String(), "user-2", "u2@example.com", "viewer", "owner-1", testNow)
	f.mock.ExpectQuery("SELECT (.+) FROM organization_members").WithArgs(orgID).WillReturnRows(rows)

	members, err := f.svc.ListMembers(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Nil(t, members[0].InvitedBy)
	require.NotNil(t, members[1].InvitedBy)
	assert.Equal(t, "owner-1", *members[1].InvitedBy)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestGetMember(t *testing.T) {
	f := setupService(t)
	f.mock.ExpectQuery("SELECT (.+) FROM organization_members").WillReturnError(sql.ErrNoRows)

	_, err := f.svc.GetMember(context.Background(), uuid.New(), "ghost")
	assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestIsMember(t *testing.T) {
	f := setupService(t)
	orgID := uuid.New()
	f.mock.ExpectQuery("SELECT EXISTS").
		WithArgs(orgID, "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := f.svc.IsMember(context.Background(), orgID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAddMember(t *testing.T) {
	t.Run("built-in role", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()

		f.mock.ExpectQuery("SELECT (.+) FROM organizations").WithArgs(orgID).WillReturnRows(orgRow(orgID, "acme"))
		f.mock.ExpectExec("INSERT INTO organization_members").
			WithArgs(sqlmock.AnyArg(), orgID, "user-2", "u2@example.com", "member", "admin-1", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		member, err := f.svc.AddMember(context.Background(), orgID,
			AddMemberRequest{UserID: "user-2", Email: " U2@Example.com ", Role: "member"}, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, "member", member.Role)
		assert.Equal(t, []string{orgID.String() + ":user-2"}, f.invalidator.users)
		assert.Equal(t, []audit.EventType{audit.EventTypeMemberAdd}, f.audit.actions())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("custom role", func(t *testing.T) {
		f := setupService(t, WithRoleValidator(fakeRoles{"adjuster": true}))
		orgID := uuid.New()

		f.mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnRows(orgRow(orgID, "acme"))
		f.mock.ExpectExec("INSERT INTO organization_members").WillReturnResult(sqlmock.NewResult(0, 1))

		member, err := f.svc.AddMember(context.Background(), orgID,
			AddMemberRequest{UserID: "user-3", Role: "adjuster"}, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, "adjuster", member.Role)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("duplicate member", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()

		f.mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnRows(orgRow(orgID, "acme"))
		f.mock.ExpectExec("INSERT INTO organization_members").WillReturnError(&pq.Error{Code: "23505"})

		_, err := f.svc.AddMember(context.Background(), orgID,
			AddMemberRequest{UserID: "user-2", Role: "viewer"}, "admin-1")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeConflict))
		assert.Empty(t, f.invalidator.users)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("organization missing", func(t *testing.T) {
		f := setupService(t)
		f.mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnError(sql.ErrNoRows)

		_, err := f.svc.AddMember(context.Background(), uuid.New(),
			AddMemberRequest{UserID: "user-2", Role: "viewer"}, "admin-1")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	roleTests := []struct {
		name string
		role string
	}{
		{"empty role", ""},
		{"owner role", "owner"},
		{"unknown role without validator", "adjuster"},
	}
	for _, tt := range roleTests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t)
			_, err := f.svc.AddMember(context.Background(), uuid.New(),
				AddMemberRequest{UserID: "user-2", Role: tt.role}, "admin-1")
			assert.True(t, apierrors.HasCode(err, apierrors.CodeBadRequest))
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}

	t.Run("missing user", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.AddMember(context.Background(), uuid.New(), AddMemberRequest{Role: "viewer"}, "admin-1")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeBadRequest))
	})
}

func TestUpdateMemberRole(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()

		f.mock.ExpectQuery("SELECT (.+) FROM organization_members").
			WithArgs(orgID, "user-2").
			WillReturnRows(memberRow(orgID, "user-2", "viewer"))
		f.mock.ExpectExec("UPDATE organization_members SET role").
			WithArgs("admin", orgID, "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		member, err := f.svc.UpdateMemberRole(context.Background(), orgID, "user-2", "admin")
		require.NoError(t, err)
		assert.Equal(t, "admin", member.Role)
		assert.Equal(t, []string{orgID.String() + ":user-2"}, f.invalidator.users)
		require.Len(t, f.audit.events, 1)
		assert.Equal(t, "viewer", f.audit.events[0].Details["old_role"])
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("same role is a no-op", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()
		f.mock.ExpectQuery("SELECT (.+) FROM organization_members").WillReturnRows(memberRow(orgID, "user-2", "viewer"))

		_, err := f.svc.UpdateMemberRole(context.Background(), orgID, "user-2", "viewer")
		require.NoError(t, err)
		assert.Empty(t, f.invalidator.users)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("owner is immutable", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()
		f.mock.ExpectQuery("SELECT (.+) FROM organization_members").WillReturnRows(memberRow(orgID, "owner-1", "owner"))

		_, err := f.svc.UpdateMemberRole(context.Background(), orgID, "owner-1", "viewer")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeForbidden))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("cannot promote to owner", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.UpdateMemberRole(context.Background(), uuid.New(), "user-2", "owner")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeBadRequest))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestRemoveMember(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()

		f.mock.ExpectQuery("SELECT (.+) FROM organization_members").WillReturnRows(memberRow(orgID, "user-2", "member"))
		f.mock.ExpectExec("DELETE FROM organization_members").
			WithArgs(orgID, "user-2").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.svc.RemoveMember(context.Background(), orgID, "user-2"))
		assert.Equal(t, []string{orgID.String() + ":user-2"}, f.invalidator.users)
		assert.Equal(t, []audit.EventType{audit.EventTypeMemberRemove}, f.audit.actions())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("owner cannot be removed", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()
		f.mock.ExpectQuery("SELECT (.+) FROM organization_members").WillReturnRows(memberRow(orgID, "owner-1", "owner"))

		err := f.svc.RemoveMember(context.Background(), orgID, "owner-1")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeForbidden))
		assert.Empty(t, f.invalidator.users)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("not a member", func(t *testing.T) {
		f := setupService(t)
		f.mock.ExpectQuery("SELECT (.+) FROM organization_members").WillReturnError(sql.ErrNoRows)

		err := f.svc.RemoveMember(context.Background(), uuid.New(), "ghost")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestCreateInvitation(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := setupService(t, WithInvitationTTL(48*time.Hour))
		orgID := uuid.New()

		f.mock.ExpectQuery("SELECT (.+) FROM organizations").WithArgs(orgID).WillReturnRows(orgRow(orgID, "acme"))
		f.mock.ExpectExec("INSERT INTO organization_invitations").
			WithArgs(sqlmock.AnyArg(), orgID, "new@example.com", "member", sqlmock.AnyArg(), "admin-1",
				testNow.Add(48*time.Hour), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		inv, err := f.svc.CreateInvitation(context.Background(), orgID, " New@Example.com", "member", "admin-1")
		require.NoError(t, err)
		assert.Len(t, inv.Token, 64)
		assert.Equal(t, "new@example.com", inv.Email)
		assert.Equal(t, InvitationPending, inv.Status(testNow))
		require.Len(t, f.audit.events, 1)
		assert.NotContains(t, f.audit.events[0].Details, "token")
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("default ttl is seven days", func(t *testing.T) {
		f := setupService(t)
		orgID := uuid.New()

		f.mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnRows(orgRow(orgID, "acme"))
		f.mock.ExpectExec("INSERT INTO organization_invitations").WillReturnResult(sqlmock.NewResult(0, 1))

		inv, err := f.svc.CreateInvitation(context.Background(), orgID, "a@b.co", "viewer", "admin-1")
		require.NoError(t, err)
		assert.Equal(t, testNow.Add(7*24*time.Hour), inv.ExpiresAt)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("invalid email", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.CreateInvitation(context.Background(), uuid.New(), "not-an-email", "viewer", "admin-1")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeBadRequest))
	})

	t.Run("owner role", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.CreateInvitation(context.Background(), uuid.New(), "a@b.co", "owner", "admin-1")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeBadRequest))
	})
}

func TestListInvitations(t *testing.T) {
	f := setupService(t)
	orgID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "organization_id", "email", "role", "invited_by", "expires_at", "created_at"}).
		AddRow(uuid.NewString(), orgID.String(), "a@b.co", "viewer", "admin-1", testNow.Add(time.Hour), testNow)
	f.mock.ExpectQuery("SELECT (.+) FROM organization_invitations (.+) expires_at > \\$2").
		WithArgs(orgID, testNow).
		WillReturnRows(rows)

	invs, err := f.svc.ListInvitations(context.Background(), orgID)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Empty(t, invs[0].Token)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRevokeInvitation(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := setupService(t)
		orgID, invID := uuid.New(), uuid.New()

		f.mock.ExpectExec("UPDATE organization_invitations SET revoked_at").
			WithArgs(testNow, invID, orgID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, f.svc.RevokeInvitation(context.Background(), orgID, invID))
		assert.Equal(t, []audit.EventType{audit.EventTypeInvitationRevoke}, f.audit.actions())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("other organization or already used", func(t *testing.T) {
		f := setupService(t)
		f.mock.ExpectExec("UPDATE organization_invitations").WillReturnResult(sqlmock.NewResult(0, 0))

		err := f.svc.RevokeInvitation(context.Background(), uuid.New(), uuid.New())
		assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})
}

var invitationCols = []string{"id", "organization_id", "email", "role", "invited_by", "expires_at", "accepted_at", "revoked_at"}

func TestAcceptInvitation(t *testing.T) {
	token := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	invitationRow := func(invID, orgID uuid.UUID, expiresAt time.Time, acceptedAt, revokedAt interface{}) *sqlmock.Rows {
		return sqlmock.NewRows(invitationCols).
			AddRow(invID.String(), orgID.String(), "new@example.com", "member", "admin-1", expiresAt, acceptedAt, revokedAt)
	}

	t.Run("success", func(t *testing.T) {
		f := setupService(t)
		orgID, invID := uuid.New(), uuid.New()

		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM organization_invitations i (.+) FOR UPDATE OF i").
			WithArgs(token).
			WillReturnRows(invitationRow(invID, orgID, testNow.Add(time.Hour), nil, nil))
		f.mock.ExpectQuery("SELECT EXISTS").
			WithArgs(orgID, "user-9").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		f.mock.ExpectExec("INSERT INTO organization_members").
			WithArgs(sqlmock.AnyArg(), orgID, "user-9", "new@example.com", "member", "admin-1", testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectExec("UPDATE organization_invitations SET accepted_at").
			WithArgs(testNow, "user-9", invID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		f.mock.ExpectCommit()

		member, err := f.svc.AcceptInvitation(context.Background(), token, "user-9")
		require.NoError(t, err)
		assert.Equal(t, orgID, member.OrganizationID)
		assert.Equal(t, "member", member.Role)
		assert.Equal(t, []string{orgID.String() + ":user-9"}, f.invalidator.users)
		assert.Equal(t, []audit.EventType{audit.EventTypeInvitationAccept}, f.audit.actions())
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	failures := []struct {
		name       string
		acceptedAt interface{}
		revokedAt  interface{}
		expiresAt  time.Time
		isMember   bool
		code       apierrors.Code
	}{
		{"already accepted", testNow.Add(-time.Minute), nil, testNow.Add(time.Hour), false, apierrors.CodeConflict},
		{"revoked", nil, testNow.Add(-time.Minute), testNow.Add(time.Hour), false, apierrors.CodeNotFound},
		{"expired", nil, nil, testNow.Add(-time.Second), false, apierrors.CodeInvitationExpired},
		{"already a member", nil, nil, testNow.Add(time.Hour), true, apierrors.CodeConflict},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			f := setupService(t)
			orgID, invID := uuid.New(), uuid.New()

			f.mock.ExpectBegin()
			f.mock.ExpectQuery("SELECT (.+) FROM organization_invitations").
				WillReturnRows(invitationRow(invID, orgID, tt.expiresAt, tt.acceptedAt, tt.revokedAt))
			if tt.isMember {
				f.mock.ExpectQuery("SELECT EXISTS").
					WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
			}
			f.mock.ExpectRollback()

			_, err := f.svc.AcceptInvitation(context.Background(), token, "user-9")
			assert.True(t, apierrors.HasCode(err, tt.code), "got %v", err)
			assert.Empty(t, f.invalidator.users)
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}

	t.Run("unknown token", func(t *testing.T) {
		f := setupService(t)
		f.mock.ExpectBegin()
		f.mock.ExpectQuery("SELECT (.+) FROM organization_invitations").WillReturnError(sql.ErrNoRows)
		f.mock.ExpectRollback()

		_, err := f.svc.AcceptInvitation(context.Background(), token, "user-9")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeNotFound))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := setupService(t)
		_, err := f.svc.AcceptInvitation(context.Background(), token, "")
		assert.True(t, apierrors.HasCode(err, apierrors.CodeUnauthorized))
	})
}

func TestInvitationStatus(t *testing.T) {
	now := testNow
	past := now.Add(-time.Minute)
	user := "u"

	assert.Equal(t, InvitationPending, (&Invitation{ExpiresAt: now.Add(time.Hour)}).Status(now))
	assert.Equal(t, InvitationExpired, (&Invitation{ExpiresAt: now}).Status(now))
	assert.Equal(t, InvitationRevoked, (&Invitation{ExpiresAt: now.Add(time.Hour), RevokedAt: &past}).Status(now))
	assert.Equal(t, InvitationAccepted, (&Invitation{ExpiresAt: past, AcceptedAt: &past, AcceptedBy: &user}).Status(now))
}
