package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketrefresh/internal/models"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "defaults",
			cfg:  Config{Host: "localhost"},
			want: "clickhouse://localhost:9000/default?dial_timeout=5s&read_timeout=30s",
		},
		{
			name: "credentials",
			cfg:  Config{Host: "ch", Port: 9440, Database: "market", User: "svc", Password: "p@ss"},
			want: "clickhouse://svc:p%40ss@ch:9440/market?dial_timeout=5s&read_timeout=30s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchema(t *testing.T) {
	ddl := Schema("bars")
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS bars")
	assert.Contains(t, ddl, "ReplacingMergeTree(version)")
	assert.Contains(t, ddl, "ORDER BY (instrument_id, date, data_source_id)")
	assert.Contains(t, ddl, "adj_close Nullable(Decimal(38, 10))")
	assert.Equal(t, defaultTable, Config{}.table())
}

func bar(id uuid.UUID, hash string) models.OHLCVBar {
	return models.OHLCVBar{
		ID:          id,
		Date:        time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
		Close:       decimal.RequireFromString("185.92"),
		Volume:      40_444_700,
		PayloadHash: hash,
	}
}

func TestPlan(t *testing.T) {
	earlier := time.Date(2024, 1, 10, 22, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 15, 22, 30, 0, 0, time.UTC)

	same, changed, fresh := uuid.New(), uuid.New(), uuid.New()
	stored := bar(same, "h1")
	stored.CreatedAt, stored.UpdatedAt = earlier, earlier
	storedChanged := bar(changed, "old")
	storedChanged.CreatedAt, storedChanged.UpdatedAt = earlier, earlier

	existing := map[uuid.UUID]models.OHLCVBar{same: stored, changed: storedChanged}
	out, pending := plan([]models.OHLCVBar{bar(same, "h1"), bar(changed, "new"), bar(fresh, "h3")}, existing, now)

	require.Len(t, out, 3)
	assert.Equal(t, []int{1, 2}, pending)

	assert.Equal(t, stored, out[0])
	assert.Equal(t, earlier, out[1].CreatedAt)
	assert.Equal(t, now, out[1].UpdatedAt)
	assert.Equal(t, "new", out[1].PayloadHash)
	assert.Equal(t, now, out[2].CreatedAt)
	assert.Equal(t, now, out[2].UpdatedAt)
}

func TestPlan_NothingChanged(t *testing.T) {
	id := uuid.New()
	_, pending := plan([]models.OHLCVBar{bar(id, "h")}, map[uuid.UUID]models.OHLCVBar{id: bar(id, "h")}, time.Now())
	assert.Empty(t, pending)
}

func TestOpen_RequiresHost(t *testing.T) {
	_, err := Open(context.Background(), Config{}, zerolog.Nop())
	assert.ErrorContains(t, err, "host is required")
}

func TestOpen_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Open(ctx, Config{Host: "127.0.0.1", Port: 1}, zerolog.Nop())
	assert.ErrorContains(t, err, "clickhouse ping")
}
