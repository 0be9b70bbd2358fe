package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/config"
)

// Repository is the spreadsheet surface the cost ledger writes through.
type Repository interface {
	WriteRow(ctx context.Context, sheetRange string, values []any) error
	ReadRange(ctx context.Context, sheetRange string) ([][]any, error)
}

var _ Repository = (*GoogleSheetRepository)(nil)

// GoogleSheetRepository appends and reads ledger rows of a single spreadsheet.
type GoogleSheetRepository struct {
	values        *sheetsapi.SpreadsheetsValuesService
	spreadsheetID string
	logger        *zap.Logger
}

// NewGoogleSheetRepository authenticates with the service account credentials
// file from cfg.
func NewGoogleSheetRepository(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*GoogleSheetRepository, error) {
	return newRepository(ctx, cfg.SpreadsheetID, logger,
		option.WithCredentialsFile(cfg.CredentialsPath),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	)
}

func newRepository(ctx context.Context, spreadsheetID string, logger *zap.Logger, opts ...option.ClientOption) (*GoogleSheetRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spreadsheetID == "" {
		return nil, errors.New("spreadsheet id must not be empty")
	}

	service, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	return &GoogleSheetRepository{
		values:        service.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		logger:        logger,
	}, nil
}

// WriteRow appends one ledger row below the last row of sheetRange.
func (r *GoogleSheetRepository) WriteRow(ctx context.Context, sheetRange string, values []any) error {
	if sheetRange == "" {
		return apperrors.Validation("sheetRange must not be empty")
	}
	if len(values) == 0 {
		return apperrors.Validation("refusing to append an empty row to %s", sheetRange)
	}

	resp, err := r.values.Append(r.spreadsheetID, sheetRange, &sheetsapi.ValueRange{Values: [][]any{values}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return classify("append row into range "+sheetRange, err)
	}

	fields := []zap.Field{zap.String("range", sheetRange)}
	if resp.Updates != nil {
		fields = append(fields, zap.String("updated_range", resp.Updates.UpdatedRange))
	}
	r.logger.Debug("ledger row appended", fields...)
	return nil
}

// ReadRange returns the raw cell values of sheetRange, numbers as float64.
func (r *GoogleSheetRepository) ReadRange(ctx context.Context, sheetRange string) ([][]any, error) {
	if sheetRange == "" {
		return nil, apperrors.Validation("sheetRange must not be empty")
	}

	resp, err := r.values.Get(r.spreadsheetID, sheetRange).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("read range "+sheetRange, err)
	}

	return resp.Values, nil
}

func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return apperrors.NotFound("%s: %s", op, apiErr.Message)
		case http.StatusBadRequest:
			return apperrors.Validation("%s: %s", op, apiErr.Message)
		}
	}
	return apperrors.StoreUnavailable(op, err)
}
