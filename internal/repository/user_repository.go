package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskplanner/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram stores the Telegram profile and returns the user row.
// The profile fields are refreshed on every call.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error) {
	db := r.db.WithContext(ctx)
	profile := model.User{
		TelegramID: &telegramID,
		FirstName:  firstName,
		LastName:   lastName,
		Username:   username,
	}
	err := retryBusy(ctx, func() error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "telegram_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "username", "updated_at"}),
		}).Create(&profile).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	var user model.User
	if err := db.Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// Create stores a user without a Telegram identity.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListTelegram returns users reachable through the bot.
func (r *UserRepository) ListTelegram(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("telegram_id IS NOT NULL").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
