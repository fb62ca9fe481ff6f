package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
	"gorm.io/gorm"
)

// CaseServicer — интерфейс для handler и store.Local (Dependency Inversion).
type CaseServicer interface {
	Create(ctx context.Context, c *model.Case) error
	GetByID(ctx context.Context, id string) (*model.Case, error)
	List(ctx context.Context, q model.CaseQuery) ([]model.Case, int64, error)
	Update(ctx context.Context, id string, patch model.CasePatch) (*model.Case, error)
	Delete(ctx context.Context, id string) error
}

// Publisher receives one ChangeEvent per successful write, in commit order.
type Publisher interface {
	Publish(e model.ChangeEvent)
}

type CaseService struct {
	db         *gorm.DB
	publishers []Publisher
	now        func() time.Time

	// writes serializes write+publish so events leave in commit order.
	writes sync.Mutex
}

func NewCaseService(db *gorm.DB, publishers ...Publisher) *CaseService {
	return &CaseService{db: db, publishers: publishers, now: time.Now}
}

func (s *CaseService) Create(ctx context.Context, c *model.Case) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	}
	c.UpdatedAt = c.CreatedAt
	s.writes.Lock()
	defer s.writes.Unlock()
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	full, err := s.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	*c = *full
	s.publish(model.Inserted(full.Clone()))
	return nil
}

func (s *CaseService) GetByID(ctx context.Context, id string) (*model.Case, error) {
	var c model.Case
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *CaseService) List(ctx context.Context, q model.CaseQuery) ([]model.Case, int64, error) {
	var items []model.Case
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Case{})
	if q.ID != "" {
		tx = tx.Where("id = ?", q.ID)
	}
	if q.CreatedFrom != nil {
		tx = tx.Where("created_at >= ?", q.CreatedFrom.UTC())
	}
	if q.CreatedTo != nil {
		tx = tx.Where("created_at <= ?", q.CreatedTo.UTC())
	}
	if q.OpenOnly {
		tx = tx.Where("closed_at IS NULL")
	}
	// Count total before pagination
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	if err := tx.Order("created_at ASC").Order("id ASC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update applies patch and publishes the full post-image.
func (s *CaseService) Update(ctx context.Context, id string, patch model.CasePatch) (*model.Case, error) {
	changes, err := patch.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	s.writes.Lock()
	defer s.writes.Unlock()
	var c model.Case
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrCaseNotFound
		}
		return nil, err
	}
	updates := map[string]interface{}(changes)
	updates["updated_at"] = s.now().UTC().Truncate(time.Microsecond)
	if err := s.db.WithContext(ctx).Model(&c).Updates(updates).Error; err != nil {
		return nil, err
	}
	// Re-fetch: Updates does not refresh every field of c.
	full, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(model.Updated(full.Clone()))
	return full, nil
}

func (s *CaseService) Delete(ctx context.Context, id string) error {
	s.writes.Lock()
	defer s.writes.Unlock()
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Case{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrCaseNotFound
	}
	s.publish(model.Deleted(id))
	return nil
}

func (s *CaseService) publish(e model.ChangeEvent) {
	for _, p := range s.publishers {
		p.Publish(e)
	}
}

// ErrInvalidPatch wraps patch validation failures.
var ErrInvalidPatch = errors.New("invalid patch")
