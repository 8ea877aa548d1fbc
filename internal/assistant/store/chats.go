package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Chat 广播订阅者。
type Chat struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Type      string    `gorm:"size:32" json:"type"`
	Title     string    `gorm:"size:255" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名。
func (Chat) TableName() string {
	return "chats"
}

// ChatStore 基于 sqlite 的订阅者存储。
type ChatStore struct {
	db *gorm.DB
}

// OpenChatStore 打开（必要时创建）订阅者数据库。
func OpenChatStore(path string) (*ChatStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: newGormLogger(gormlogger.Warn, 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open chat store %s: %w", path, err)
	}

	// sqlite 只允许单个写连接
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Chat{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate chat store: %w", err)
	}
	return &ChatStore{db: db}, nil
}

// Add 记录订阅者，已存在时返回 false。
func (s *ChatStore) Add(ctx context.Context, chat Chat) (bool, error) {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&chat)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Remove 删除订阅者。
func (s *ChatStore) Remove(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&Chat{}, id).Error
}

// List 按加入顺序返回全部订阅者。
func (s *ChatStore) List(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	err := s.db.WithContext(ctx).Order("created_at, id").Find(&chats).Error
	return chats, err
}

// Count 返回订阅者数量。
func (s *ChatStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Chat{}).Count(&n).Error
	return n, err
}

// Close 关闭数据库连接。
func (s *ChatStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
