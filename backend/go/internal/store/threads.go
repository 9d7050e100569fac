package store

import (
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/models"
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// --- Threads ---

// CreateThread 为用户创建一个新线程。
func (s *Store) CreateThread(ctx context.Context, userID uint, title string) (*models.AdvisoryThread, error) {
	thread := &models.AdvisoryThread{UserID: userID, Title: title}
	if err := s.DB.WithContext(ctx).Create(thread).Error; err != nil {
		return nil, err
	}
	return thread, nil
}

// GetThread 读取属于 userID 的线程。
func (s *Store) GetThread(ctx context.Context, userID, threadID uint) (*models.AdvisoryThread, error) {
	var thread models.AdvisoryThread
	err := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", threadID, userID).First(&thread).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &thread, nil
}

// ListThreads 按最近活跃时间倒序列出用户的线程。
func (s *Store) ListThreads(ctx context.Context, userID uint) ([]models.AdvisoryThread, error) {
	var threads []models.AdvisoryThread
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_message_at IS NULL, last_message_at DESC").
		Order("id DESC").
		Find(&threads).Error
	return threads, err
}

// SetTitle 仅在标题为空时设置标题，返回是否写入。
func (s *Store) SetTitle(ctx context.Context, threadID uint, title string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.AdvisoryThread{}).
		Where("id = ? AND (title = '' OR title IS NULL)", threadID).
		Update("title", title)
	return res.RowsAffected > 0, res.Error
}

// DeleteThread 在一个事务中删除线程及其消息和快照。
func (s *Store) DeleteThread(ctx context.Context, userID, threadID uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", threadID, userID).Delete(&models.AdvisoryThread{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("thread_id = ?", threadID).Delete(&models.AdvisoryMessage{}).Error; err != nil {
			return err
		}
		return tx.Where("thread_id = ?", threadID).Delete(&models.ContextSnapshotRecord{}).Error
	})
}

// --- Messages ---

// AppendMessage 追加一条消息、刷新线程的 last_message_at，并安排生成向量。
// 线程已被删除时返回 ErrNotFound，不写入任何内容。
func (s *Store) AppendMessage(ctx context.Context, msg *models.AdvisoryMessage) error {
	return lifecycle.Create(ctx, s.tracker, MessageCapability, msg, func(ctx context.Context, m *models.AdvisoryMessage) error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := threadExists(tx, m.ThreadID); err != nil {
				return err
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			return tx.Model(&models.AdvisoryThread{}).
				Where("id = ?", m.ThreadID).
				Update("last_message_at", m.CreatedAt).Error
		})
	})
}

// Messages 按时间顺序返回线程内的全部消息。
func (s *Store) Messages(ctx context.Context, threadID uint) ([]models.AdvisoryMessage, error) {
	var msgs []models.AdvisoryMessage
	err := s.DB.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}

// RecentMessages 返回线程最近的 n 条消息，按时间顺序排列。
func (s *Store) RecentMessages(ctx context.Context, threadID uint, n int) ([]models.AdvisoryMessage, error) {
	var msgs []models.AdvisoryMessage
	err := s.DB.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at DESC").Order("id DESC").
		Limit(n).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// --- Snapshots ---

// SaveSnapshot 把快照写入线程列并追加一条历史记录。历史记录写入后不再修改。
func (s *Store) SaveSnapshot(ctx context.Context, threadID, messageID uint, data []byte) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := threadExists(tx, threadID); err != nil {
			return err
		}
		record := &models.ContextSnapshotRecord{
			ThreadID:  threadID,
			MessageID: messageID,
			Data:      datatypes.JSON(data),
			CreatedAt: time.Now(),
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return tx.Model(&models.AdvisoryThread{}).
			Where("id = ?", threadID).
			Update("context_snapshot", datatypes.JSON(data)).Error
	})
}

func threadExists(tx *gorm.DB, threadID uint) error {
	var n int64
	if err := tx.Model(&models.AdvisoryThread{}).Where("id = ?", threadID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Snapshots 按写入顺序返回线程的快照历史。
func (s *Store) Snapshots(ctx context.Context, threadID uint) ([]models.ContextSnapshotRecord, error) {
	var records []models.ContextSnapshotRecord
	err := s.DB.WithContext(ctx).Where("thread_id = ?", threadID).Order("id ASC").Find(&records).Error
	return records, err
}
