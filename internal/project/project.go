// Package project holds the server's active-project pointer and the project
// store operations behind the /projects routes.
package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a project id has no row.
var ErrNotFound = errors.New("project not found")

// ErrNameRequired is returned by Create for a blank name.
var ErrNameRequired = errors.New("project name is required")

type ctxKey struct{}

// WithID returns a copy of ctx carrying the active project id.
func WithID(ctx context.Context, id uint) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the project id carried by ctx.
func FromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(ctxKey{}).(uint)
	return id, ok
}

// Selector owns the active project id. The zero value is not usable; use
// NewSelector.
type Selector struct {
	db *gorm.DB

	mu sync.RWMutex
	id uint
}

// NewSelector creates a Selector starting at initial.
func NewSelector(db *gorm.DB, initial uint) (*Selector, error) {
	if db == nil {
		return nil, fmt.Errorf("project: selector: db is required")
	}
	return &Selector{db: db, id: initial}, nil
}

// ActiveID returns the active project id.
func (s *Selector) ActiveID() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Context returns ctx carrying the active project id.
func (s *Selector) Context(ctx context.Context) context.Context {
	return WithID(ctx, s.ActiveID())
}

// Active loads the active project row.
func (s *Selector) Active(ctx context.Context) (*models.Project, error) {
	return Get(ctx, s.db, s.ActiveID())
}

// Activate makes id the active project after checking it exists.
func (s *Selector) Activate(ctx context.Context, id uint) (*models.Project, error) {
	p, err := Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	return p, nil
}

// Create inserts a project with the given name.
func Create(ctx context.Context, db *gorm.DB, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project: create: %w", ErrNameRequired)
	}
	p := models.Project{Name: name}
	if err := db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("project: create %q: %w", name, err)
	}
	return &p, nil
}

// Get loads one project.
func Get(ctx context.Context, db *gorm.DB, id uint) (*models.Project, error) {
	var p models.Project
	if err := db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project: get %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("project: get %d: %w", id, err)
	}
	return &p, nil
}

// List returns all projects ordered by id.
func List(ctx context.Context, db *gorm.DB) ([]models.Project, error) {
	projects := []models.Project{}
	if err := db.WithContext(ctx).Order("id").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("project: list: %w", err)
	}
	return projects, nil
}
