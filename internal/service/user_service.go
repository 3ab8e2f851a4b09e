package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/noah-isme/classroom-api/internal/models"
	appErrors "github.com/noah-isme/classroom-api/pkg/errors"
	"github.com/noah-isme/classroom-api/pkg/response"
	"github.com/noah-isme/classroom-api/pkg/validation"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id models.ID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id models.ID) error
}

// UserService handles profile and account administration workflows.
type UserService struct {
	repo      userRepository
	validator *validator.Validate
	audit     *AuditService
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, validate *validator.Validate, audit *AuditService, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	return &UserService{repo: repo, validator: validate, audit: audit, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *response.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list users")
	}
	return users, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id models.ID) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// UpdateProfile lets a user change their own name or email.
func (s *UserService) UpdateProfile(ctx context.Context, id models.ID, req models.UpdateProfileRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid profile payload")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email != user.Email {
			if existing, err := s.repo.FindByEmail(ctx, email); err == nil && !existing.ID.Equal(user.ID) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
			} else if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
				return nil, appErrors.Internal(err, "failed to check email uniqueness")
			}
			user.Email = email
		}
	}

	if err := s.persist(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateRole changes a user's role. Admins cannot demote themselves.
func (s *UserService) UpdateRole(ctx context.Context, actor models.Actor, id models.ID, req models.UpdateRoleRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid role payload")
	}
	if actor.ID.Equal(id) && req.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admins cannot change their own role")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := user.Role
	user.Role = req.Role
	if err := s.persist(ctx, user); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionUserUpdate, Resource: "user", ResourceID: user.ID,
		Details: map[string]interface{}{"role_from": previous, "role_to": user.Role}})
	return user, nil
}

// SetActive enables or disables an account.
func (s *UserService) SetActive(ctx context.Context, actor models.Actor, id models.ID, req models.SetActiveRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid activation payload")
	}
	if actor.ID.Equal(id) && !*req.Active {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admins cannot deactivate themselves")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	user.Active = *req.Active
	if err := s.persist(ctx, user); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionUserUpdate, Resource: "user", ResourceID: user.ID,
		Details: map[string]interface{}{"active": user.Active}})
	return user, nil
}

// Delete removes a user. Course memberships referencing the user are left for the
// owning teacher to clean up.
func (s *UserService) Delete(ctx context.Context, actor models.Actor, id models.ID) error {
	if actor.ID.Equal(id) {
		return appErrors.Clone(appErrors.ErrForbidden, "admins cannot delete themselves")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to delete user")
	}
	s.audit.Record(ctx, models.AuditEntry{ActorID: actor.ID, Action: models.AuditActionUserDelete, Resource: "user", ResourceID: id})
	return nil
}

func (s *UserService) persist(ctx context.Context, user *models.User) error {
	if err := s.repo.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		case mongo.IsDuplicateKeyError(err):
			return appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return appErrors.Internal(err, "failed to update user")
	}
	return nil
}

func pagination(page, pageSize, total int) *response.Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &response.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}
