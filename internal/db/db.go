package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/hyunsoo-dev/persona-chat/internal/billing"
	"github.com/hyunsoo-dev/persona-chat/internal/catalog"
	"github.com/hyunsoo-dev/persona-chat/internal/chat"
	"github.com/hyunsoo-dev/persona-chat/internal/memory"
	"github.com/hyunsoo-dev/persona-chat/internal/models"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	if err := Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&catalog.Character{},
		&catalog.World{},
		&catalog.PersonaPreset{},
		&chat.Session{},
		&chat.Message{},
		&memory.Summary{},
		&memory.UserNote{},
		&billing.CreatorEarning{},
	)
}
