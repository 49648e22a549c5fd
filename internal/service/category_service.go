package service

import (
	"context"

	"taskplanner/internal/model"
	"taskplanner/internal/repository"
)

// CategoryService provides helpers around categories.
type CategoryService struct {
	repo *repository.CategoryRepository
}

func NewCategoryService(repo *repository.CategoryRepository) *CategoryService {
	return &CategoryService{repo: repo}
}

func (s *CategoryService) List(ctx context.Context, user *model.User) ([]model.Category, error) {
	return s.repo.ListByUser(ctx, user.ID)
}

func (s *CategoryService) Names(ctx context.Context, user *model.User) (map[uint]string, error) {
	return s.repo.Names(ctx, user.ID)
}
