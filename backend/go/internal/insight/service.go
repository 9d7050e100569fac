package insight

import (
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"time"
)

// Service runs detection followed by generation.
type Service struct {
	detector  *Detector
	generator *Generator
	logger    *logger.Logger
}

func NewService(detector *Detector, generator *Generator, log *logger.Logger) *Service {
	return &Service{detector: detector, generator: generator, logger: log}
}

// ScanResult lists what one scan produced.
type ScanResult struct {
	Events   []*models.BusinessEvent    `json:"events"`
	Insights []*models.ProactiveInsight `json:"insights"`
}

// Scan detects month-over-month changes for userID and generates insights for
// the new events. Generation failures are logged and do not stop the scan.
func (s *Service) Scan(ctx context.Context, userID uint, now time.Time) (*ScanResult, error) {
	events, err := s.detector.MonthOverMonth(ctx, userID, now)
	res := &ScanResult{Events: events, Insights: []*models.ProactiveInsight{}}
	if err != nil {
		return res, err
	}
	for _, ev := range events {
		in, err := s.generator.ForEvent(ctx, ev)
		if err != nil {
			s.logger.WithError(models.NewErrorInfo(err, "insight_error")).
				WithPayload(map[string]interface{}{"event_id": ev.ID}).
				Warn("insight generation failed")
			continue
		}
		if in != nil {
			res.Insights = append(res.Insights, in)
		}
	}
	return res, nil
}
