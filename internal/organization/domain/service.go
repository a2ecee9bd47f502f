package domain

import (
	"context"
	"errors"
	"fmt"
)

type CreateOrganizationRequest struct {
	Name string `json:"name"`
}

type ListOrganizationRequest struct {
	Name   string
	Limit  int64
	Offset int64
}

type ListOrganizationResponse struct {
	Count  int64          `json:"count"`
	Limit  int64          `json:"limit"`
	Offset int64          `json:"offset"`
	Data   []Organization `json:"data"`
}

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (Organization, error)
	GetByID(ctx context.Context, id string) (Organization, error)
	List(ctx context.Context, req ListOrganizationRequest) (ListOrganizationResponse, error)
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrDuplicateName = errors.New("organization_already_exists")
	ErrNotFound      = errors.New("organization_not_found")
)

// NotFoundError reports a missing organization. It matches ErrNotFound.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("organization %s not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
