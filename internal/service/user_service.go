package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/jamroom/internal/domain"
	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/internal/validation"
	"github.com/immxrtalbeast/jamroom/lib/logger/sl"
)

type UserService struct {
	users repository.UserRepository
	log   *slog.Logger
}

func NewUserService(users repository.UserRepository, log *slog.Logger) *UserService {
	if log == nil {
		log = slog.Default()
	}
	return &UserService{users: users, log: log}
}

func (s *UserService) CreateUser(ctx context.Context, name string, email string) (*domain.User, error) {
	const op = "service.user.create"
	log := s.log.With(slog.String("op", op))

	log.Info("creating user")
	name = strings.TrimSpace(name)
	if err := invalid(ErrInvalidInput, validation.DisplayName(name)); err != nil {
		log.Info("invalid user name", sl.Err(err))
		return nil, err
	}

	user := domain.NewUser(name, strings.TrimSpace(email))
	if err := s.users.Create(ctx, user); err != nil {
		log.Error("failed to create user", sl.Err(err))
		return nil, storeErr(err)
	}
	return user, nil
}

func (s *UserService) CreateGuest(ctx context.Context, name string) (*domain.User, error) {
	const op = "service.user.create_guest"
	log := s.log.With(slog.String("op", op))

	name = strings.TrimSpace(name)
	if err := invalid(ErrInvalidInput, validation.DisplayName(name)); err != nil {
		return nil, err
	}

	user := domain.NewGuestUser(name)
	if err := s.users.Create(ctx, user); err != nil {
		log.Error("failed to create guest", sl.Err(err))
		return nil, storeErr(err)
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "service.user.get"
	log := s.log.With(slog.String("op", op))

	log.Debug("getting user", slog.String("user_id", id.String()))
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return user, nil
}

func (s *UserService) UpdateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return invalidf("user is required")
	}
	if err := invalid(ErrInvalidInput, validation.DisplayName(user.Name)); err != nil {
		return err
	}
	user.UpdatedAt = time.Now().UTC()
	return storeErr(s.users.Update(ctx, user))
}
