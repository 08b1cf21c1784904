package reports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/pkg/errors"
)

func TestSaveGetList(t *testing.T) {
	repo := NewReportRepository(t.TempDir())
	ctx := context.Background()

	older := &model.ImportReport{
		Timestamp:  time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
		Filename:   "ledger-2023.xlsx",
		SourceKind: model.SourceSpreadsheet,
		Results:    model.ImportCounters{InsertedMoneyPayments: 3},
	}
	require.NoError(t, repo.Save(ctx, older))
	assert.Equal(t, "import-20240102-100000", older.Name)

	newer := &model.ImportReport{
		Timestamp:  time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Filename:   "export.csv",
		SourceKind: model.SourceCSV,
	}
	require.NoError(t, repo.Save(ctx, newer))

	got, err := repo.Get(ctx, older.Name)
	require.NoError(t, err)
	assert.Equal(t, "ledger-2023.xlsx", got.Filename)
	assert.Equal(t, 3, got.Results.InsertedMoneyPayments)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.Name, list[0].Name)
	assert.Equal(t, older.Name, list[1].Name)
}

func TestGetMissing(t *testing.T) {
	repo := NewReportRepository(t.TempDir())

	_, err := repo.Get(context.Background(), "import-nope")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestListEmptyDirectory(t *testing.T) {
	repo := NewReportRepository(t.TempDir() + "/never-created")

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}
