package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/validation"
	"github.com/rl1809/stockroom/internal/port"
)

// MembershipService resolves the tenant scope of an authenticated caller. It holds no state.
type MembershipService struct {
	repo   port.MembershipRepository
	logger *zap.Logger
}

func NewMembershipService(repo port.MembershipRepository, opts ...Option) *MembershipService {
	o := buildOptions(opts)
	return &MembershipService{repo: repo, logger: o.logger}
}

// Resolve returns the caller's org, default warehouse and role.
func (s *MembershipService) Resolve(ctx context.Context, caller domain.Caller) (domain.AuthContext, error) {
	userID := validation.Text(caller.UserID)
	if userID == "" {
		return domain.AuthContext{}, domain.ErrUnauthenticated
	}

	m, err := s.repo.FindMembership(ctx, userID, validation.Text(caller.OrgID))
	if err != nil {
		return domain.AuthContext{}, fmt.Errorf("find membership: %w", err)
	}
	if m == nil || !m.Role.Valid() {
		return domain.AuthContext{}, fmt.Errorf("%w: no membership", domain.ErrForbidden)
	}

	wh, err := s.repo.FindDefaultWarehouse(ctx, m.OrgID)
	if err != nil {
		return domain.AuthContext{}, fmt.Errorf("find default warehouse: %w", err)
	}
	if wh == nil {
		s.logger.Warn("organization has no default warehouse", zap.String("org_id", m.OrgID))
		return domain.AuthContext{}, fmt.Errorf("%w: no default warehouse", domain.ErrForbidden)
	}

	return domain.AuthContext{
		UserID:      userID,
		OrgID:       m.OrgID,
		WarehouseID: wh.ID,
		Role:        m.Role,
	}, nil
}

// ResolveWriter is Resolve restricted to owner and editor roles.
func (s *MembershipService) ResolveWriter(ctx context.Context, caller domain.Caller) (domain.AuthContext, error) {
	auth, err := s.Resolve(ctx, caller)
	if err != nil {
		return domain.AuthContext{}, err
	}
	if !auth.Role.CanWrite() {
		return domain.AuthContext{}, fmt.Errorf("%w: role %s is read-only", domain.ErrForbidden, auth.Role)
	}
	return auth, nil
}

// ResolveOwner is Resolve restricted to the owner role.
func (s *MembershipService) ResolveOwner(ctx context.Context, caller domain.Caller) (domain.AuthContext, error) {
	auth, err := s.Resolve(ctx, caller)
	if err != nil {
		return domain.AuthContext{}, err
	}
	if auth.Role != domain.RoleOwner {
		return domain.AuthContext{}, fmt.Errorf("%w: owner role required", domain.ErrForbidden)
	}
	return auth, nil
}
