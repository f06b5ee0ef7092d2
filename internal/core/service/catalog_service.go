package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/validation"
	"github.com/rl1809/stockroom/internal/port"
)

const defaultWarehouseName = "Main"

// CatalogService manages the descriptive records around batches: organizations, members,
// items, storage locations and tags. It never touches quantities.
type CatalogService struct {
	repo    port.CatalogRepository
	members *MembershipService
	opts    options
}

func NewCatalogService(repo port.CatalogRepository, members *MembershipService, opts ...Option) *CatalogService {
	return &CatalogService{repo: repo, members: members, opts: buildOptions(opts)}
}

// Bootstrap creates an organization owned by userID together with its default warehouse.
func (s *CatalogService) Bootstrap(ctx context.Context, userID, orgName string) (domain.Organization, domain.Warehouse, error) {
	userID = validation.Text(userID)
	if userID == "" {
		return domain.Organization{}, domain.Warehouse{}, domain.ErrUnauthenticated
	}
	name, err := validation.Name(orgName)
	if err != nil {
		return domain.Organization{}, domain.Warehouse{}, err
	}

	now := s.opts.now().UTC()
	org := domain.Organization{ID: s.opts.newID(), Name: name, OwnerID: userID, CreatedAt: now}
	owner := domain.Membership{OrgID: org.ID, UserID: userID, Role: domain.RoleOwner, CreatedAt: now}
	wh := domain.Warehouse{ID: s.opts.newID(), OrgID: org.ID, Name: defaultWarehouseName, IsDefault: true, CreatedAt: now}

	if err := s.repo.CreateOrganization(ctx, org, owner, wh); err != nil {
		return domain.Organization{}, domain.Warehouse{}, fmt.Errorf("create organization: %w", err)
	}
	s.opts.logger.Info("organization bootstrapped", zap.String("org_id", org.ID), zap.String("owner_id", userID))
	return org, wh, nil
}

// AddMember grants userID a role in the caller's organization. Owner only.
func (s *CatalogService) AddMember(ctx context.Context, caller domain.Caller, userID string, role domain.Role) (domain.Membership, error) {
	auth, err := s.members.ResolveOwner(ctx, caller)
	if err != nil {
		return domain.Membership{}, err
	}
	userID = validation.Text(userID)
	if userID == "" {
		return domain.Membership{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if role == domain.RoleOwner || !role.Valid() {
		return domain.Membership{}, fmt.Errorf("%w: role must be editor or viewer", domain.ErrInvalidInput)
	}
	if userID == auth.UserID {
		return domain.Membership{}, fmt.Errorf("%w: owner role cannot be changed", domain.ErrInvalidInput)
	}

	m := domain.Membership{OrgID: auth.OrgID, UserID: userID, Role: role, CreatedAt: s.opts.now().UTC()}
	if err := s.repo.UpsertMembership(ctx, m); err != nil {
		return domain.Membership{}, fmt.Errorf("upsert membership: %w", err)
	}
	return m, nil
}

func (s *CatalogService) CreateItem(ctx context.Context, caller domain.Caller, in domain.CreateItemInput) (domain.Item, error) {
	item, err := validation.CreateItem(in)
	if err != nil {
		return domain.Item{}, err
	}
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return domain.Item{}, err
	}

	if item.DefaultTagID != "" {
		ok, err := s.repo.TagExists(ctx, auth.OrgID, item.DefaultTagID)
		if err != nil {
			return domain.Item{}, fmt.Errorf("check tag: %w", err)
		}
		if !ok {
			return domain.Item{}, fmt.Errorf("%w: default tag", domain.ErrReferenceNotFound)
		}
	}

	now := s.opts.now().UTC()
	item.ID = s.opts.newID()
	item.OrgID = auth.OrgID
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := s.repo.CreateItem(ctx, item); err != nil {
		if errors.Is(err, port.ErrDuplicateKey) {
			return domain.Item{}, fmt.Errorf("%w: %q", domain.ErrItemNameTaken, item.Name)
		}
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}
	return item, nil
}

// ArchiveItem soft-deletes an item. Its batches and ledger rows are kept.
func (s *CatalogService) ArchiveItem(ctx context.Context, caller domain.Caller, itemID string) error {
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return err
	}
	ok, err := s.repo.ArchiveItem(ctx, auth.OrgID, validation.Text(itemID))
	if err != nil {
		return fmt.Errorf("archive item: %w", err)
	}
	if !ok {
		return domain.ErrItemNotFound
	}
	return nil
}

func (s *CatalogService) CreateLocation(ctx context.Context, caller domain.Caller, name string) (domain.StorageLocation, error) {
	name, err := validation.Name(name)
	if err != nil {
		return domain.StorageLocation{}, err
	}
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return domain.StorageLocation{}, err
	}
	loc := domain.StorageLocation{ID: s.opts.newID(), OrgID: auth.OrgID, Name: name, CreatedAt: s.opts.now().UTC()}
	if err := s.repo.CreateLocation(ctx, loc); err != nil {
		return domain.StorageLocation{}, fmt.Errorf("create location: %w", err)
	}
	return loc, nil
}

func (s *CatalogService) CreateTag(ctx context.Context, caller domain.Caller, name string) (domain.Tag, error) {
	name, err := validation.Name(name)
	if err != nil {
		return domain.Tag{}, err
	}
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return domain.Tag{}, err
	}
	tag := domain.Tag{ID: s.opts.newID(), OrgID: auth.OrgID, Name: name, CreatedAt: s.opts.now().UTC()}
	if err := s.repo.CreateTag(ctx, tag); err != nil {
		return domain.Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}
