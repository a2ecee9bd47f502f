package domain

import (
	"context"
	"errors"
	"fmt"
)

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUserRequest carries only the fields to change.
type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

type ListUserRequest struct {
	Name   string
	Limit  int64
	Offset int64
}

type ListUserResponse struct {
	Count  int64  `json:"count"`
	Limit  int64  `json:"limit"`
	Offset int64  `json:"offset"`
	Data   []User `json:"data"`
}

type Service interface {
	Create(ctx context.Context, req CreateUserRequest) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
	List(ctx context.Context, req ListUserRequest) (ListUserResponse, error)
	Update(ctx context.Context, id string, req UpdateUserRequest) (User, error)
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidEmail    = errors.New("invalid_email")
	ErrInvalidPassword = errors.New("invalid_password")
	ErrNotFound        = errors.New("user_not_found")
)

// NotFoundError reports a missing user. It matches ErrNotFound.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("user %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
