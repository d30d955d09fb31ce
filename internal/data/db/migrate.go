package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/docstack/docstack-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Document{},
		&types.ChatThread{},
		&types.ChatMessage{},
	)
}

func EnsureIndexes(db *gorm.DB) error {
	// Fast message pagination per thread.
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_message_thread_seq
		ON chat_message (thread_id, seq);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_message_thread_seq: %w", err)
	}

	// Fast thread listing per user.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chat_thread_user_last
		ON chat_thread (user_id, last_message_at DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chat_thread_user_last: %w", err)
	}

	// Document dashboards filter by owner and status.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_document_user_status
		ON document (user_id, processing_status)
		WHERE deleted_at IS NULL;
	`).Error; err != nil {
		return fmt.Errorf("create idx_document_user_status: %w", err)
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureIndexes(s.db); err != nil {
		s.log.Error("Index migration failed", "error", err)
		return err
	}
	return nil
}
