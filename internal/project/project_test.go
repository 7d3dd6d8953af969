package project

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err, "connect")
	require.NoError(t, db.AutoMigrate(gdb), "auto-migrate")
	return gdb
}

func mustCreate(t *testing.T, gdb *gorm.DB, name string) *models.Project {
	t.Helper()
	p, err := Create(context.Background(), gdb, name)
	require.NoError(t, err)
	return p
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok, "empty context should carry no project")

	id, ok := FromContext(WithID(context.Background(), 7))
	assert.True(t, ok)
	assert.EqualValues(t, 7, id)
}

func TestNewSelector_RequiresDB(t *testing.T) {
	_, err := NewSelector(nil, 1)
	assert.Error(t, err)
}

func TestCreate(t *testing.T) {
	gdb := testDB(t)
	ctx := context.Background()

	p, err := Create(ctx, gdb, "  Alpha ")
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, "Alpha", p.Name)

	_, err = Create(ctx, gdb, "   ")
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestList(t *testing.T) {
	gdb := testDB(t)
	ctx := context.Background()

	projects, err := List(ctx, gdb)
	require.NoError(t, err)
	assert.NotNil(t, projects)
	assert.Empty(t, projects)

	mustCreate(t, gdb, "A")
	mustCreate(t, gdb, "B")
	projects, err = List(ctx, gdb)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "A", projects[0].Name)
	assert.Equal(t, "B", projects[1].Name)
}

// Activating an existing project switches the pointer; a missing id leaves it
// unchanged.
func TestSelector_Activate(t *testing.T) {
	gdb := testDB(t)
	ctx := context.Background()
	def := mustCreate(t, gdb, "Default")
	b := mustCreate(t, gdb, "B")

	s, err := NewSelector(gdb, def.ID)
	require.NoError(t, err)
	_, err = s.Activate(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, def.ID, s.ActiveID(), "failed activate must not switch")

	got, err := s.Activate(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Name)
	assert.Equal(t, b.ID, s.ActiveID())

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, active.ID)

	id, _ := FromContext(s.Context(ctx))
	assert.Equal(t, b.ID, id)
}

func TestSelector_ActiveMissing(t *testing.T) {
	s, err := NewSelector(testDB(t), 42)
	require.NoError(t, err)
	_, err = s.Active(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelector_ConcurrentReads(t *testing.T) {
	gdb := testDB(t)
	ctx := context.Background()
	p := mustCreate(t, gdb, "A")
	s, err := NewSelector(gdb, p.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.ActiveID()
		}()
		go func() {
			defer wg.Done()
			s.Activate(ctx, p.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, p.ID, s.ActiveID())
}
