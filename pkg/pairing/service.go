package pairing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"couple-sync-backend/pkg/database"
	"couple-sync-backend/pkg/models"
	"couple-sync-backend/pkg/utils"
)

// codeGenAttempts 邀请码碰撞重试次数
const codeGenAttempts = 5

// Service 配对核心服务
// All privileged store access flows through the db handle injected here; the
// handlers never touch the database directly.
type Service struct {
	db database.DatabaseInterface
}

// NewService 创建配对服务
func NewService(db database.DatabaseInterface) *Service {
	return &Service{db: db}
}

// ResolveAccount 根据外部subject解析或创建账户（幂等）
// The login service owns credentials; this app only records the stable subject
// identifier it hands us. Calling twice with the same subject returns the same
// account.
func (s *Service) ResolveAccount(subject, email string) (*models.Account, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, models.ErrInvalidSubject
	}

	acct, err := s.db.GetAccountBySubject(subject)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return nil, err
	}

	newAcct := &models.Account{
		ExternalSubject: subject,
		Email:           email,
		DisplayName:     displayNameFromEmail(email),
	}
	if createErr := s.db.CreateAccount(newAcct); createErr != nil {
		// A concurrent request may have created the account between our read
		// and write. Re-read once before giving up.
		if acct, getErr := s.db.GetAccountBySubject(subject); getErr == nil {
			return acct, nil
		}
		return nil, createErr
	}

	fmt.Printf("👤 Created account %s for subject %s\n", newAcct.ID, subject)
	return newAcct, nil
}

// displayNameFromEmail 从邮箱推导默认昵称
func displayNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return "Partner"
}

// CreateCouple 创建情侣空间，创建者成为第一个成员
func (s *Service) CreateCouple(accountID, displayName string) (*models.Couple, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = models.DefaultCoupleName
	}

	couple := &models.Couple{DisplayName: displayName}
	if err := s.db.CreateCouple(couple, accountID); err != nil {
		return nil, err
	}

	fmt.Printf("💑 Couple %s created by account %s\n", couple.ID, accountID)
	return couple, nil
}

// LinkByContact 通过邮箱或手机号直接配对
// Both sides must be unpaired. The partner's membership is checked up front to
// give a precise error; the store's uniqueness constraint still closes the race
// if the partner pairs concurrently.
func (s *Service) LinkByContact(accountID, contact, displayName string) (*models.Couple, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, models.ErrPartnerNotFound
	}

	if _, err := s.db.GetMembership(accountID); err == nil {
		return nil, models.ErrAlreadyPaired
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	partner, err := s.db.FindAccountByContact(contact)
	if err != nil {
		return nil, err
	}
	if partner.ID == accountID {
		return nil, models.ErrSelfRedemption
	}

	if _, err := s.db.GetMembership(partner.ID); err == nil {
		return nil, models.ErrAlreadyPaired
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	couple, err := s.CreateCouple(accountID, displayName)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.AddCoupleMember(couple.ID, partner.ID); err != nil {
		// The caller keeps the fresh couple and can still invite someone else.
		return nil, err
	}

	fmt.Printf("💑 Linked accounts %s and %s into couple %s\n", accountID, partner.ID, couple.ID)
	return couple, nil
}

// Status 查询账户的配对状态
func (s *Service) Status(accountID string) (*models.CoupleStatus, error) {
	membership, err := s.db.GetMembership(accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.CoupleStatus{InCouple: false}, nil
		}
		return nil, err
	}

	couple, err := s.db.GetCouple(membership.CoupleID)
	if err != nil {
		return nil, err
	}
	members, err := s.db.ListCoupleMembers(membership.CoupleID)
	if err != nil {
		return nil, err
	}

	return &models.CoupleStatus{
		InCouple:    true,
		CoupleID:    couple.ID,
		DisplayName: couple.DisplayName,
		MemberCount: len(members),
	}, nil
}

// RequireMembership 获取账户的成员关系，未配对返回ErrNotAMember
func (s *Service) RequireMembership(accountID string) (*models.Membership, error) {
	membership, err := s.db.GetMembership(accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotAMember
		}
		return nil, err
	}
	return membership, nil
}

// CreateInvitation 为呼叫者所在的情侣空间签发邀请码
// 同一情侣空间同时只能有一个有效邀请码；码在已兑换或过期后永久作废。
func (s *Service) CreateInvitation(accountID string) (*models.Invitation, error) {
	membership, err := s.RequireMembership(accountID)
	if err != nil {
		return nil, err
	}

	// Creating a code only makes sense with a free seat.
	members, err := s.db.ListCoupleMembers(membership.CoupleID)
	if err != nil {
		return nil, err
	}
	if len(members) >= models.MaxCoupleMembers {
		return nil, models.ErrCoupleFull
	}

	now := time.Now().UTC()
	for attempt := 0; attempt < codeGenAttempts; attempt++ {
		code, err := utils.GenerateInviteCode()
		if err != nil {
			return nil, err
		}

		inv := &models.Invitation{
			Code:      code,
			CoupleID:  membership.CoupleID,
			CreatedBy: accountID,
			CreatedAt: now,
			ExpiresAt: now.Add(models.InvitationTTL),
		}
		err = s.db.InsertInvitation(inv)
		if err == nil {
			fmt.Printf("🎟️  Invitation %s issued for couple %s\n", inv.Code, membership.CoupleID)
			return inv, nil
		}
		if errors.Is(err, models.ErrCodeTaken) {
			continue // collision with a live code elsewhere, roll again
		}
		return nil, err
	}

	return nil, fmt.Errorf("could not generate a unique invite code after %d attempts", codeGenAttempts)
}

// ActiveInvitation 查询当前有效的邀请码
// 未配对返回ErrNotAMember，没有有效邀请码返回ErrNotFound。
func (s *Service) ActiveInvitation(accountID string) (*models.Invitation, error) {
	membership, err := s.RequireMembership(accountID)
	if err != nil {
		return nil, err
	}
	return s.db.GetActiveInvitation(membership.CoupleID)
}

// Redeem 兑换邀请码并加入对方的情侣空间
// Code matching is case-insensitive; validation order and the membership write
// are enforced atomically by the store.
func (s *Service) Redeem(accountID, code string) (*models.Couple, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, models.ErrInviteNotFound
	}

	couple, err := s.db.RedeemInvitation(code, accountID)
	if err != nil {
		return nil, err
	}

	fmt.Printf("💞 Account %s joined couple %s via invite\n", accountID, couple.ID)
	return couple, nil
}
