// Package store 是顾问子系统的 gorm 持久层。
package store

import (
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound 表示记录不存在或不属于当前用户。
var ErrNotFound = errors.New("not found")

// Store 封装数据库访问，并在可嵌入记录写入后通知生命周期追踪器。
type Store struct {
	DB         *gorm.DB
	dimensions int
	tracker    *lifecycle.Tracker
}

// New 创建 Store。dimensions 为配置的向量维度，为 0 时不校验维度；tracker 可为 nil。
func New(db *gorm.DB, dimensions int, tracker *lifecycle.Tracker) *Store {
	return &Store{DB: db, dimensions: dimensions, tracker: tracker}
}

// Dimensions 返回写入向量时校验的维度。
func (s *Store) Dimensions() int {
	return s.dimensions
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
