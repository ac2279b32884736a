package repository

import (
	"gorm.io/gorm"

	"github.com/triagebox/mailsync/internal/models"
)

type Repositories struct {
	AccountRepository AccountRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		AccountRepository: NewAccountRepository(db),
	}
}

func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
	)
}
