package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/psds-microservice/walkin-service/internal/errs"
	"github.com/psds-microservice/walkin-service/internal/model"
	"gorm.io/gorm"
)

type AgentService struct {
	db *gorm.DB
}

func NewAgentService(db *gorm.DB) *AgentService {
	return &AgentService{db: db}
}

func (s *AgentService) List(ctx context.Context) ([]model.Agent, error) {
	var agents []model.Agent
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&agents).Error; err != nil {
		return nil, err
	}
	return agents, nil
}

// Create adds an agent. Usernames are unique.
func (s *AgentService) Create(ctx context.Context, a *model.Agent) error {
	a.Name = strings.TrimSpace(a.Name)
	a.Username = strings.TrimSpace(a.Username)
	if a.Name == "" || a.Username == "" {
		return fmt.Errorf("%w: name and username are required", ErrInvalidAgent)
	}
	var existing int64
	if err := s.db.WithContext(ctx).Model(&model.Agent{}).Where("username = ?", a.Username).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return errs.ErrAgentExists
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(a).Error
}

// Delete removes an agent. Cases keep their assignee username; it simply
// stops resolving.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Agent{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrAgentNotFound
	}
	return nil
}

var ErrInvalidAgent = errors.New("invalid agent")
