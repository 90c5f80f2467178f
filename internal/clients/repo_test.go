package clients

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/pkg/db/models"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
)

func setupClientsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE clients (
  client_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  phone TEXT,
  company TEXT,
  address TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`).Error)
	require.NoError(t, db.Exec(`CREATE TABLE id_sequences (
  name TEXT PRIMARY KEY,
  value BIGINT NOT NULL
);`).Error)
	return db
}

func TestFindByEmailNormalizes(t *testing.T) {
	db := setupClientsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Client{
		ClientID: "CUST1000",
		Name:     "Ana Torres",
		Email:    "ana@ferreteria.es",
	}).Error)

	got, err := repo.FindByEmail(ctx, "  ANA@Ferreteria.es ")
	require.NoError(t, err)
	assert.Equal(t, "CUST1000", got.ClientID)

	_, err = repo.FindByEmail(ctx, "nadie@example.com")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestGetOrCreateAssignsSequentialIDs(t *testing.T) {
	db := setupClientsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, models.Client{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "CUST1000", first.ClientID)

	second, err := repo.GetOrCreate(ctx, models.Client{Name: "Luis", Email: "luis@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "CUST1001", second.ClientID)
}

func TestGetOrCreateReturnsExistingByEmail(t *testing.T) {
	db := setupClientsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, models.Client{Name: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)

	again, err := repo.GetOrCreate(ctx, models.Client{Name: "Ana Maria", Email: "ANA@example.com"})
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, again.ClientID)
	assert.Equal(t, "Ana", again.Name)

	var count int64
	require.NoError(t, db.Model(&models.Client{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetOrCreateAdoptsRaceWinner(t *testing.T) {
	db := setupClientsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	// Sneak a concurrent winner in between the lookup miss and the insert.
	// The winner already committed with its own sequence value, so only the
	// email constraint can fire on our insert.
	injected := false
	err := db.Callback().Create().Before("gorm:create").Register("race_winner", func(tx *gorm.DB) {
		if injected {
			return
		}
		injected = true
		tx.Session(&gorm.Session{NewDB: true, SkipHooks: true}).
			Exec("INSERT INTO clients (client_id, name, email) VALUES (?, ?, ?)",
				"CUST1001", "Winner", "race@example.com")
	})
	require.NoError(t, err)

	got, err := repo.GetOrCreate(ctx, models.Client{Name: "Loser", Email: "race@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "CUST1001", got.ClientID)
	assert.Equal(t, "Winner", got.Name)

	var count int64
	require.NoError(t, db.Model(&models.Client{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetOrCreateRequiresEmail(t *testing.T) {
	db := setupClientsTestDB(t)
	repo := NewRepository(db)

	_, err := repo.GetOrCreate(context.Background(), models.Client{Name: "Sin Correo"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestNextClientIDNeverRepeats(t *testing.T) {
	db := setupClientsTestDB(t)
	repo := NewRepository(db).(*repository)
	ctx := context.Background()

	first, err := repo.nextClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CUST1000", first)

	second, err := repo.nextClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CUST1001", second)
	assert.NotEqual(t, first, second)
}

func TestNextClientIDResumesFromCounter(t *testing.T) {
	db := setupClientsTestDB(t)
	repo := NewRepository(db).(*repository)
	ctx := context.Background()

	require.NoError(t, db.Exec(`INSERT INTO id_sequences (name, value) VALUES ('client_id', 1041)`).Error)

	next, err := repo.nextClientID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CUST1042", next)
}
