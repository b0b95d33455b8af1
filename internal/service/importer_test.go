package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

type importerFixture struct {
	importer *Importer
	txs      *mockTransactionRepo
	insts    *mockInstrumentRepo
	rates    *mockFxRateRepo
	table    *mockFxTable
}

func newImporterFixture(t *testing.T, fingerprintDedupe bool) *importerFixture {
	t.Helper()
	f := &importerFixture{
		txs:   &mockTransactionRepo{},
		insts: newMockInstrumentRepo(),
		rates: &mockFxRateRepo{rates: []models.FxRate{
			{Currency: "USD", Date: day("2026-01-02"), Rate: 23.5, Amount: 1, Source: types.SourceCNB},
			{Currency: "JPY", Date: day("2026-01-02"), Rate: 15.0, Amount: 100, Source: types.SourceCNB},
		}},
		table: &mockFxTable{},
	}
	fx := NewFxResolver(f.rates, f.table, "CZK", 0)
	f.importer = NewImporter(f.txs, f.insts, fx, fingerprintDedupe)
	f.importer.newBatchID = func() string { return "batch-1" }
	return f
}

func buy(id string, amount, price float64, currency string) models.ImportRecord {
	return models.ImportRecord{
		Date:        "2026-01-05",
		ID:          id,
		Amount:      amount,
		Price:       models.Float64(price),
		AmountCur:   -amount * price,
		Currency:    currency,
		Platform:    "Revolut",
		ProductType: "Stock",
		TransType:   "Buy",
	}
}

func TestImportBatch_SecondRunIsAllDuplicates(t *testing.T) {
	f := newImporterFixture(t, true)
	records := []models.ImportRecord{buy("AAPL", 2, 190, "USD"), buy("MSFT", 1, 400, "USD")}

	first, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", records)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	second, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", records)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 2, second.Skipped.Duplicate)
	assert.Len(t, f.txs.rows, 2)

	other, err := f.importer.ImportBatch(context.Background(), "user-2", "revolut", records)
	require.NoError(t, err)
	assert.Equal(t, 2, other.Inserted, "fingerprints are unique per user")
}

func TestImportBatch_ResultExtras(t *testing.T) {
	f := newImporterFixture(t, true)

	res, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", nil)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", res.BatchID)
	assert.Equal(t, "user-1", res.UserID)
	assert.Equal(t, "revolut", res.Provider)
	assert.Equal(t, "fingerprint", res.DedupeMode)
	assert.NotNil(t, res.Errors)
}

func TestImportBatch_InvalidIDs(t *testing.T) {
	f := newImporterFixture(t, true)
	crypto := func(id string) models.ImportRecord {
		r := buy(id, 1, 10, "USD")
		r.ProductType = "Crypto"
		return r
	}
	cash := buy("CASH_USD", 100, 1, "USD")
	cash.ProductType = "Cash"
	cash.CompanyName = "should not create an instrument"

	res, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", []models.ImportRecord{
		crypto("300"),
		crypto("1INCH"),
		buy("1INCH", 1, 10, "USD"),
		buy("TOO-LONG-TICKER-NAME-X", 1, 1, "USD"),
		cash,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 3, res.Skipped.InvalidID)
	assert.Len(t, res.Errors, 3)
	assert.Empty(t, f.insts.upserts)
}

func TestImportBatch_FxConversion(t *testing.T) {
	f := newImporterFixture(t, true)
	czk := buy("CEZ", 10, 1000, "CZK")
	czk.ExRate = models.Float64(3)
	czk.AmountBase = models.Float64(1)

	res, err := f.importer.ImportBatch(context.Background(), "user-1", "fio", []models.ImportRecord{
		buy("AAPL", 2, 190.5, "USD"),
		czk,
		buy("7203", 100, 2500, "JPY"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Skipped.InvalidID)

	usd := f.txs.rows[0]
	assert.Equal(t, 23.5, *usd.ExRate)
	assert.InDelta(t, -381*23.5, usd.AmountBase, 0.005)

	base := f.txs.rows[1]
	assert.Equal(t, 1.0, *base.ExRate, "base currency always converts at 1.0")
	assert.Equal(t, base.AmountCur, base.AmountBase)
}

func TestImportBatch_MissingRateDegradesToZero(t *testing.T) {
	f := newImporterFixture(t, true)

	res, err := f.importer.ImportBatch(context.Background(), "user-1", "ibkr", []models.ImportRecord{buy("SAP", 1, 180, "EUR")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "EUR")
	assert.Equal(t, 1, f.table.calls, "a missing rate triggers one table download")

	tx := f.txs.rows[0]
	assert.Nil(t, tx.ExRate)
	assert.Zero(t, tx.AmountBase)
}

func TestImportBatch_SuppliedRateIsUsed(t *testing.T) {
	f := newImporterFixture(t, true)
	r := buy("SAP", 1, 180, "EUR")
	r.ExRate = models.Float64(25)

	_, err := f.importer.ImportBatch(context.Background(), "user-1", "ibkr", []models.ImportRecord{r})
	require.NoError(t, err)
	assert.Equal(t, -4500.0, f.txs.rows[0].AmountBase)
	assert.Zero(t, f.table.calls)
}

func TestImportBatch_SellIsStoredNonNegative(t *testing.T) {
	f := newImporterFixture(t, true)
	sell := models.ImportRecord{
		Date:        "2026-01-05",
		ID:          "AAPL",
		Amount:      -2,
		Price:       models.Float64(-190),
		AmountCur:   -380,
		Currency:    "USD",
		AmountBase:  models.Float64(-8930),
		ProductType: "Stock",
		TransType:   "sell",
	}

	_, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", []models.ImportRecord{sell})
	require.NoError(t, err)

	tx := f.txs.rows[0]
	assert.Equal(t, types.TxSell, tx.Type)
	assert.Equal(t, 2.0, tx.Quantity)
	assert.Equal(t, 190.0, *tx.Price)
	assert.Equal(t, 380.0, tx.AmountCur)
	assert.Equal(t, 8930.0, tx.AmountBase)
	assert.Equal(t, "revolut", tx.Platform, "platform defaults to the provider")
	assert.Equal(t, "import: revolut", tx.Notes)
}

func TestImportBatch_ExternalIDFingerprint(t *testing.T) {
	f := newImporterFixture(t, true)
	a := buy("AAPL", 1, 190, "USD")
	a.ExternalID = "T-1"
	b := a
	b.ExternalID = "T-2"

	res, err := f.importer.ImportBatch(context.Background(), "user-1", "Revolut", []models.ImportRecord{a, b, a})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted, "repeated content with distinct external ids is kept")
	assert.Equal(t, 1, res.Skipped.Duplicate)
	assert.Equal(t, "ext:revolut:T-1", f.txs.rows[0].Fingerprint)
}

func TestImportBatch_FallbackDedupe(t *testing.T) {
	f := newImporterFixture(t, false)
	records := []models.ImportRecord{buy("AAPL", 2, 190, "USD")}

	first, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", records)
	require.NoError(t, err)
	assert.Equal(t, "fallback", first.DedupeMode)
	assert.Equal(t, 1, first.Inserted)
	assert.Empty(t, f.txs.rows[0].Fingerprint)

	second, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", records)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped.Duplicate)
}

func TestImportBatch_InstrumentMetadata(t *testing.T) {
	f := newImporterFixture(t, true)
	r := buy("cbk", 10, 15, "CZK")
	r.CompanyName = "Commerzbank AG"
	r.ISIN = "de000cbk1001"

	_, err := f.importer.ImportBatch(context.Background(), "user-1", "degiro", []models.ImportRecord{r, buy("AAPL", 1, 1, "CZK")})
	require.NoError(t, err)

	require.Len(t, f.insts.upserts, 1)
	assert.Equal(t, "CBK", f.insts.upserts[0].ID)
	assert.Equal(t, "DE000CBK1001", f.insts.upserts[0].ISIN)
	assert.Equal(t, types.InstrumentNeedsReview, f.insts.instruments["CBK"].Status)
}

func TestImportBatch_BadRecordsDoNotAbort(t *testing.T) {
	f := newImporterFixture(t, true)
	noDate := buy("AAPL", 1, 1, "USD")
	noDate.Date = ""
	badDate := buy("AAPL", 1, 1, "USD")
	badDate.Date = "05.01.2026"

	res, err := f.importer.ImportBatch(context.Background(), "user-1", "revolut", []models.ImportRecord{
		noDate, badDate, buy("MSFT", 1, 400, "USD"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 1, res.Inserted)
	assert.True(t, strings.HasPrefix(res.Errors[0], "record 0:"))
}

func TestImportBatch_RequiresUser(t *testing.T) {
	f := newImporterFixture(t, true)
	_, err := f.importer.ImportBatch(context.Background(), " ", "revolut", nil)
	assert.True(t, errors.IsUserError(err))
}

func TestImportBatch_CancelledContext(t *testing.T) {
	f := newImporterFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.importer.ImportBatch(ctx, "user-1", "revolut", []models.ImportRecord{buy("AAPL", 1, 1, "USD"), buy("MSFT", 1, 1, "USD")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Inserted)
	assert.Len(t, f.txs.rows, 0)
}
