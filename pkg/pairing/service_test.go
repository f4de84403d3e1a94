package pairing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couple-sync-backend/pkg/database"
	"couple-sync-backend/pkg/models"
)

func newTestService(t *testing.T) (*Service, database.DatabaseInterface) {
	t.Helper()
	db := database.NewLocalDatabaseAt(t.TempDir())
	return NewService(db), db
}

func mustAccount(t *testing.T, svc *Service, subject, email string) *models.Account {
	t.Helper()
	acct, err := svc.ResolveAccount(subject, email)
	require.NoError(t, err)
	return acct
}

func TestResolveAccountIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.ResolveAccount("idp|alice", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Equal(t, "idp|alice", first.ExternalSubject)
	assert.Equal(t, "alice", first.DisplayName)

	second, err := svc.ResolveAccount("idp|alice", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveAccountEmptySubject(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveAccount("  ", "x@example.com")
	assert.ErrorIs(t, err, models.ErrInvalidSubject)
}

func TestCreateCoupleAndStatus(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")

	couple, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCoupleName, couple.DisplayName)

	status, err := svc.Status(alice.ID)
	require.NoError(t, err)
	assert.True(t, status.InCouple)
	assert.Equal(t, couple.ID, status.CoupleID)
	assert.Equal(t, 1, status.MemberCount)
}

func TestCreateCoupleTwiceFails(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")

	_, err := svc.CreateCouple(alice.ID, "us")
	require.NoError(t, err)

	_, err = svc.CreateCouple(alice.ID, "again")
	assert.ErrorIs(t, err, models.ErrAlreadyPaired)
}

func TestStatusUnpaired(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")

	status, err := svc.Status(alice.ID)
	require.NoError(t, err)
	assert.False(t, status.InCouple)
	assert.Empty(t, status.CoupleID)
}

func TestLinkByContact(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	mustAccount(t, svc, "idp|bob", "bob@example.com")

	couple, err := svc.LinkByContact(alice.ID, "bob@example.com", "Us two")
	require.NoError(t, err)
	assert.Equal(t, "Us two", couple.DisplayName)

	status, err := svc.Status(alice.ID)
	require.NoError(t, err)
	assert.True(t, status.InCouple)
	assert.Equal(t, 2, status.MemberCount)
}

func TestLinkByContactUnknownPartner(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")

	_, err := svc.LinkByContact(alice.ID, "ghost@example.com", "")
	assert.ErrorIs(t, err, models.ErrPartnerNotFound)
}

func TestLinkByContactSelf(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")

	_, err := svc.LinkByContact(alice.ID, "alice@example.com", "")
	assert.ErrorIs(t, err, models.ErrSelfRedemption)
}

func TestLinkByContactPartnerAlreadyPaired(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	bob := mustAccount(t, svc, "idp|bob", "bob@example.com")
	mustAccount(t, svc, "idp|carol", "carol@example.com")

	_, err := svc.CreateCouple(bob.ID, "")
	require.NoError(t, err)

	_, err = svc.LinkByContact(alice.ID, "bob@example.com", "")
	assert.ErrorIs(t, err, models.ErrAlreadyPaired)

	// Caller already paired fails as well.
	_, err = svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)
	_, err = svc.LinkByContact(alice.ID, "carol@example.com", "")
	assert.ErrorIs(t, err, models.ErrAlreadyPaired)
}

func TestCreateInvitation(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	_, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)

	inv, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)
	assert.Len(t, inv.Code, 5)
	assert.Equal(t, inv.Code, strings.ToUpper(inv.Code))
	assert.WithinDuration(t, time.Now().Add(models.InvitationTTL), inv.ExpiresAt, time.Minute)
}

func TestCreateInvitationRequiresMembership(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")

	_, err := svc.CreateInvitation(alice.ID)
	assert.ErrorIs(t, err, models.ErrNotAMember)
}

func TestCreateInvitationOnlyOneActive(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	_, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)

	_, err = svc.CreateInvitation(alice.ID)
	require.NoError(t, err)

	_, err = svc.CreateInvitation(alice.ID)
	assert.ErrorIs(t, err, models.ErrActiveInviteExists)
}

func TestCreateInvitationFullCouple(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	mustAccount(t, svc, "idp|bob", "bob@example.com")

	_, err := svc.LinkByContact(alice.ID, "bob@example.com", "")
	require.NoError(t, err)

	_, err = svc.CreateInvitation(alice.ID)
	assert.ErrorIs(t, err, models.ErrCoupleFull)
}

func TestCreateInvitationAfterExpiry(t *testing.T) {
	svc, db := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	couple, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)

	// An expired code no longer blocks issuing a fresh one.
	expired := &models.Invitation{
		Code:      "OLDAB",
		CoupleID:  couple.ID,
		CreatedBy: alice.ID,
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}
	require.NoError(t, db.InsertInvitation(expired))

	inv, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "OLDAB", inv.Code)
}

func TestActiveInvitation(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	_, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)

	_, err = svc.ActiveInvitation(alice.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	issued, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)

	active, err := svc.ActiveInvitation(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, issued.Code, active.Code)
}

func TestRedeemFlow(t *testing.T) {
	svc, db := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	bob := mustAccount(t, svc, "idp|bob", "bob@example.com")

	created, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)
	inv, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)

	couple, err := svc.Redeem(bob.ID, inv.Code)
	require.NoError(t, err)
	assert.Equal(t, created.ID, couple.ID)

	// Both accounts now report the same couple.
	aliceStatus, err := svc.Status(alice.ID)
	require.NoError(t, err)
	bobStatus, err := svc.Status(bob.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceStatus.CoupleID, bobStatus.CoupleID)
	assert.Equal(t, 2, aliceStatus.MemberCount)

	// Redemption is terminal.
	stored, err := db.GetInvitationByCode(inv.Code)
	require.NoError(t, err)
	require.NotNil(t, stored.RedeemedAt)
	assert.Equal(t, bob.ID, *stored.RedeemedBy)
}

func TestRedeemCaseInsensitive(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	bob := mustAccount(t, svc, "idp|bob", "bob@example.com")

	_, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)
	inv, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)

	lower := "  " + strings.ToLower(inv.Code) + " "
	_, err = svc.Redeem(bob.ID, lower)
	assert.NoError(t, err)
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, _ := newTestService(t)
	bob := mustAccount(t, svc, "idp|bob", "bob@example.com")

	_, err := svc.Redeem(bob.ID, "ZZZZZ")
	assert.ErrorIs(t, err, models.ErrInviteNotFound)

	_, err = svc.Redeem(bob.ID, "")
	assert.ErrorIs(t, err, models.ErrInviteNotFound)
}

func TestRedeemSelf(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")

	_, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)
	inv, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)

	_, err = svc.Redeem(alice.ID, inv.Code)
	assert.ErrorIs(t, err, models.ErrSelfRedemption)
}

func TestRedeemTwice(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	bob := mustAccount(t, svc, "idp|bob", "bob@example.com")
	carol := mustAccount(t, svc, "idp|carol", "carol@example.com")

	_, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)
	inv, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)

	_, err = svc.Redeem(bob.ID, inv.Code)
	require.NoError(t, err)

	_, err = svc.Redeem(carol.ID, inv.Code)
	assert.ErrorIs(t, err, models.ErrInviteRedeemed)
}

func TestRedeemExpired(t *testing.T) {
	svc, db := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	bob := mustAccount(t, svc, "idp|bob", "bob@example.com")

	couple, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)

	expired := &models.Invitation{
		Code:      "GONE2",
		CoupleID:  couple.ID,
		CreatedBy: alice.ID,
		CreatedAt: time.Now().Add(-8 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.InsertInvitation(expired))

	_, err = svc.Redeem(bob.ID, "GONE2")
	assert.ErrorIs(t, err, models.ErrInviteExpired)

	// Expired stays expired: no membership was created.
	status, err := svc.Status(bob.ID)
	require.NoError(t, err)
	assert.False(t, status.InCouple)
}

func TestRedeemWhileAlreadyPaired(t *testing.T) {
	svc, _ := newTestService(t)
	alice := mustAccount(t, svc, "idp|alice", "alice@example.com")
	bob := mustAccount(t, svc, "idp|bob", "bob@example.com")

	_, err := svc.CreateCouple(alice.ID, "")
	require.NoError(t, err)
	inv, err := svc.CreateInvitation(alice.ID)
	require.NoError(t, err)

	_, err = svc.CreateCouple(bob.ID, "")
	require.NoError(t, err)

	_, err = svc.Redeem(bob.ID, inv.Code)
	assert.ErrorIs(t, err, models.ErrAlreadyPaired)
}
