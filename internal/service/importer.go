package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/storage"
	"github.com/portfolio-tracker/internal/types"
)

// RateSource converts a currency to the base currency on a date
type RateSource interface {
	BaseCurrency() string
	Rate(ctx context.Context, currency string, date time.Time) (float64, bool, error)
}

// Importer writes normalized statement records to the transaction ledger
type Importer struct {
	transactions      TransactionStore
	instruments       InstrumentStore
	rates             RateSource
	fingerprintDedupe bool
	newBatchID        func() string
}

// NewImporter creates an importer. fingerprintDedupe comes from the schema
// capability check done at startup; without it duplicates are detected by
// content matching.
func NewImporter(transactions TransactionStore, instruments InstrumentStore, rates RateSource, fingerprintDedupe bool) *Importer {
	return &Importer{
		transactions:      transactions,
		instruments:       instruments,
		rates:             rates,
		fingerprintDedupe: fingerprintDedupe,
		newBatchID:        uuid.NewString,
	}
}

// DedupeMode reports which duplicate detection this importer uses
func (i *Importer) DedupeMode() types.DedupeMode {
	if i.fingerprintDedupe {
		return types.DedupeFingerprint
	}
	return types.DedupeFallback
}

// recordOutcome is how one record ended up
type recordOutcome int

const (
	outcomeInserted recordOutcome = iota
	outcomeDuplicate
	outcomeInvalidID
	outcomeFailed
)

// ImportBatch imports records for userID. Every record is handled on its
// own: a bad record is counted and reported in Errors while the batch goes
// on. The result is returned even when nothing was inserted; an error is
// returned only for an unusable call.
func (i *Importer) ImportBatch(ctx context.Context, userID, provider string, records []models.ImportRecord) (*models.ImportResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.NewInvalidParameterError("user_id", "must not be empty")
	}
	provider = strings.TrimSpace(provider)

	result := &models.ImportResult{
		BatchID:    i.newBatchID(),
		UserID:     userID,
		Provider:   provider,
		DedupeMode: string(i.DedupeMode()),
		Errors:     []string{},
	}
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		logging.FieldUser:     userID,
		logging.FieldProvider: provider,
		logging.FieldBatch:    result.BatchID,
	})

	for idx := range records {
		if err := ctx.Err(); err != nil {
			remaining := len(records) - idx
			result.Failed += remaining
			result.Errors = append(result.Errors, fmt.Sprintf("import interrupted, %d records not processed: %v", remaining, err))
			break
		}

		outcome, notes := i.importRecord(ctx, userID, provider, &records[idx])
		for _, n := range notes {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %s", idx, n))
		}
		switch outcome {
		case outcomeInserted:
			result.Inserted++
		case outcomeDuplicate:
			result.Skipped.Duplicate++
		case outcomeInvalidID:
			result.Skipped.InvalidID++
		default:
			result.Failed++
		}
	}

	log.WithFields(map[string]interface{}{
		"inserted": result.Inserted,
		"skipped":  result.Skipped.Total(),
		"failed":   result.Failed,
		"dedupe":   result.DedupeMode,
		"records":  len(records),
	}).Info("Import batch finished")
	return result, nil
}

func (i *Importer) importRecord(ctx context.Context, userID, provider string, rec *models.ImportRecord) (recordOutcome, []string) {
	date, err := parseRecordDate(rec.Date)
	if err != nil {
		return outcomeFailed, []string{err.Error()}
	}

	id := strings.ToUpper(strings.TrimSpace(rec.ID))
	product := strings.TrimSpace(rec.ProductType)
	class := types.ParseAssetClass(product)
	if !ValidInstrumentID(id, class) && !isPseudoProduct(product) {
		return outcomeInvalidID, []string{errors.NewInvalidInstrumentIDError(id, class).Message}
	}

	tx, notes, err := i.buildTransaction(ctx, userID, provider, id, date, rec)
	if err != nil {
		return outcomeFailed, append(notes, err.Error())
	}

	if i.fingerprintDedupe {
		tx.Fingerprint = Fingerprint(provider, tx)
		if err := i.transactions.Insert(ctx, tx); err != nil {
			if stderrors.Is(err, storage.ErrDuplicateTransaction) {
				return outcomeDuplicate, notes
			}
			return outcomeFailed, append(notes, err.Error())
		}
	} else {
		dup, err := i.transactions.ExistsSimilar(ctx, tx)
		if err != nil {
			return outcomeFailed, append(notes, err.Error())
		}
		if dup {
			return outcomeDuplicate, notes
		}
		if err := i.transactions.InsertPlain(ctx, tx); err != nil {
			return outcomeFailed, append(notes, err.Error())
		}
	}

	i.upsertInstrument(ctx, id, class, product, rec)
	return outcomeInserted, notes
}

// buildTransaction resolves the FX rate and base amount and normalizes signs.
// A missing rate degrades the base amount to 0 and is reported in notes.
func (i *Importer) buildTransaction(ctx context.Context, userID, provider, id string, date time.Time, rec *models.ImportRecord) (*models.Transaction, []string, error) {
	var notes []string
	base := i.rates.BaseCurrency()

	currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
	if currency == "" {
		currency = base
	}
	platform := strings.TrimSpace(rec.Platform)
	if platform == "" {
		platform = provider
	}
	memo := strings.TrimSpace(rec.Notes)
	if memo == "" {
		memo = "import: " + provider
	}

	var exRate *float64
	switch {
	case currency == base:
		exRate = models.Float64(1.0)
	case rec.ExRate != nil && *rec.ExRate > 0:
		exRate = models.Float64(*rec.ExRate)
	default:
		rate, found, err := i.rates.Rate(ctx, currency, date)
		if err != nil {
			return nil, notes, err
		}
		if found {
			exRate = models.Float64(rate)
		}
	}

	var amountBase float64
	switch {
	case currency == base:
		amountBase = rec.AmountCur
	case rec.AmountBase != nil:
		amountBase = *rec.AmountBase
	case exRate != nil:
		amountBase = RoundMoney(rec.AmountCur*(*exRate), base)
	default:
		missing := errors.NewMissingRateError(currency, date.Format("2006-01-02"))
		notes = append(notes, missing.Message+", base amount set to 0")
		logging.FromContext(ctx).WithField(logging.FieldTicker, id).Warn(missing.Message)
	}

	tx := &models.Transaction{
		UserID:       userID,
		Date:         date,
		InstrumentID: id,
		Type:         types.ParseTransactionType(rec.TransType),
		Quantity:     rec.Amount,
		Price:        rec.Price,
		Currency:     currency,
		AmountCur:    rec.AmountCur,
		ExRate:       exRate,
		AmountBase:   amountBase,
		Platform:     platform,
		ProductType:  strings.TrimSpace(rec.ProductType),
		Notes:        memo,
		ExternalID:   strings.TrimSpace(rec.ExternalID),
	}
	if rec.Fees != nil {
		tx.Fees = *rec.Fees
	}

	// a sell is income; the direction lives in the type
	if tx.Type == types.TxSell {
		tx.Quantity = math.Abs(tx.Quantity)
		tx.AmountCur = math.Abs(tx.AmountCur)
		tx.AmountBase = math.Abs(tx.AmountBase)
		if tx.Price != nil {
			tx.Price = models.Float64(math.Abs(*tx.Price))
		}
	}
	return tx, notes, nil
}

// upsertInstrument records what the statement tells about the instrument.
// Failures are logged; the ledger row is already written.
func (i *Importer) upsertInstrument(ctx context.Context, id string, class types.AssetClass, product string, rec *models.ImportRecord) {
	if i.instruments == nil || IsPseudoID(id) || isPseudoProduct(product) {
		return
	}
	name, isin := strings.TrimSpace(rec.CompanyName), strings.TrimSpace(rec.ISIN)
	if name == "" && isin == "" {
		return
	}

	meta := models.InstrumentMetadata{
		ID:          id,
		CompanyName: name,
		ISIN:        strings.ToUpper(isin),
		Currency:    strings.ToUpper(strings.TrimSpace(rec.Currency)),
	}
	created, err := i.instruments.UpsertMetadata(ctx, meta, class)
	log := logging.FromContext(ctx).WithField(logging.FieldTicker, id)
	if err != nil {
		log.WithError(err).Warn("Failed to upsert instrument metadata")
		return
	}
	if created {
		log.Info("Created instrument reference for review")
	}
}

func parseRecordDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if len(s) > 10 {
		s = s[:10]
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return d, nil
}
