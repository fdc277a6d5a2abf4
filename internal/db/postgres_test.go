package db

import (
	"context"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/hospital-booking/internal/db/migrations"
)

func TestValueOr(t *testing.T) {
	assert.Equal(t, int32(10), valueOr(int32(0), 10))
	assert.Equal(t, int32(4), valueOr(int32(4), 10))
	assert.Equal(t, time.Hour, valueOr(time.Duration(0), time.Hour))
}

func TestConnectPostgresRejectsBadDSN(t *testing.T) {
	_, err := ConnectPostgres(context.Background(), "postgres://%zz", PoolOptions{})
	assert.ErrorContains(t, err, "parse postgres dsn")
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestInitMigrationHasActiveSlotIndex(t *testing.T) {
	data, err := fs.ReadFile(migrations.FS, "0001_init.up.sql")
	require.NoError(t, err)

	sql := string(data)
	assert.Contains(t, sql, "appointments_active_slot_uidx")
	assert.Contains(t, sql, "WHERE status IN ('Booked', 'Completed')")
	assert.Contains(t, sql, "UNIQUE (doctor_id, slot_date, slot_time)")
}
