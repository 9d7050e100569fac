package store

import (
	"BizAdvisor/backend/go/internal/embedding/lifecycle"
	"BizAdvisor/backend/go/internal/models"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// --- Business data ---

// LatestCashPosition 返回最新的一条现金余额记录，没有记录时返回 nil。
func (s *Store) LatestCashPosition(ctx context.Context, userID uint) (*models.CashPosition, error) {
	var pos models.CashPosition
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_on DESC").Order("id DESC").
		First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// ActiveContracts 返回进行中的合同，按结束日期升序，无结束日期的排最后。
func (s *Store) ActiveContracts(ctx context.Context, userID uint) ([]models.Contract, error) {
	var contracts []models.Contract
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.ContractActive).
		Order("end_date IS NULL, end_date ASC").Order("id ASC").
		Find(&contracts).Error
	return contracts, err
}

// ExpensesBetween 返回 [from, to) 区间内的支出。
func (s *Store) ExpensesBetween(ctx context.Context, userID uint, from, to time.Time) ([]models.Expense, error) {
	var expenses []models.Expense
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND incurred_on >= ? AND incurred_on < ?", userID, from, to).
		Order("incurred_on ASC").Order("id ASC").
		Find(&expenses).Error
	return expenses, err
}

// RevenueBetween 返回 [from, to) 区间内的收入总额。
func (s *Store) RevenueBetween(ctx context.Context, userID uint, from, to time.Time) (float64, error) {
	var total float64
	err := s.DB.WithContext(ctx).Model(&models.Revenue{}).
		Where("user_id = ? AND received_on >= ? AND received_on < ?", userID, from, to).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// ActiveProductCount 返回在售产品数量。
func (s *Store) ActiveProductCount(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.Product{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&n).Error
	return n, err
}

// --- Events, insights & news ---

// CreateBusinessEvent 写入业务事件并安排生成向量。
func (s *Store) CreateBusinessEvent(ctx context.Context, ev *models.BusinessEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	return lifecycle.Create(ctx, s.tracker, EventCapability, ev, createIn[*models.BusinessEvent](s.DB))
}

// UpdateBusinessEvent 对事件应用 patch 并保存非向量列，仅当可嵌入列变化时重新生成向量。
func (s *Store) UpdateBusinessEvent(ctx context.Context, userID, id uint, patch func(*models.BusinessEvent)) (*models.BusinessEvent, error) {
	var before models.BusinessEvent
	if err := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&before).Error; err != nil {
		return nil, notFound(err)
	}
	after := before
	patch(&after)
	after.ID, after.UserID = before.ID, before.UserID

	err := lifecycle.Update(ctx, s.tracker, EventCapability, &before, &after, func(ctx context.Context, ev *models.BusinessEvent) error {
		return s.DB.WithContext(ctx).Model(ev).
			Select("event_type", "title", "description", "significance", "occurred_at").
			Updates(ev).Error
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

// RecentBusinessEvents 返回 since 之后发生的事件，最新的在前。
func (s *Store) RecentBusinessEvents(ctx context.Context, userID uint, since time.Time, limit int) ([]models.BusinessEvent, error) {
	var events []models.BusinessEvent
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND occurred_at >= ?", userID, since).
		Order("occurred_at DESC").Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// CreateInsight 写入主动建议并安排生成向量。
func (s *Store) CreateInsight(ctx context.Context, in *models.ProactiveInsight) error {
	return lifecycle.Create(ctx, s.tracker, InsightCapability, in, createIn[*models.ProactiveInsight](s.DB))
}

// CreateNews 写入一条新闻并安排生成向量。
func (s *Store) CreateNews(ctx context.Context, item *models.NewsItem) error {
	return lifecycle.Create(ctx, s.tracker, NewsCapability, item, createIn[*models.NewsItem](s.DB))
}

// UpdateNews 对新闻应用 patch，仅当标题或摘要变化时重新生成向量。
func (s *Store) UpdateNews(ctx context.Context, id uint, patch func(*models.NewsItem)) (*models.NewsItem, error) {
	var before models.NewsItem
	if err := s.DB.WithContext(ctx).First(&before, id).Error; err != nil {
		return nil, notFound(err)
	}
	after := before
	patch(&after)
	after.ID = before.ID

	err := lifecycle.Update(ctx, s.tracker, NewsCapability, &before, &after, func(ctx context.Context, item *models.NewsItem) error {
		return s.DB.WithContext(ctx).Model(item).
			Select("title", "snippet", "url", "source", "published_at").
			Updates(item).Error
	})
	if err != nil {
		return nil, err
	}
	return &after, nil
}

func createIn[T any](db *gorm.DB) func(context.Context, T) error {
	return func(ctx context.Context, rec T) error {
		return db.WithContext(ctx).Create(rec).Error
	}
}
