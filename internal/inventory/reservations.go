package inventory

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/store"
)

// CreateReservationBatch creates a batch and its items in one transaction.
// Each item takes its quantity out of stock until consumed or released.
func (s *Service) CreateReservationBatch(ctx context.Context, description, employeeID string, items []BatchItem) (string, error) {
	if len(items) == 0 {
		return "", errs.InvalidField(schema.ReservationBatch, "items", "at least one item is required")
	}
	for _, item := range items {
		if err := positive(schema.ReservationItem, "reserved", item.Quantity); err != nil {
			return "", err
		}
	}

	var batchID string
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		res, err := tx.Insert(ctx, schema.ReservationBatch, record.Row{
			"description": description,
			"employee_id": optional(employeeID),
		})
		if err != nil {
			return err
		}
		batchID = res.ID.(string)

		for _, item := range items {
			if _, err := tx.Insert(ctx, schema.ReservationItem, record.Row{
				"batch_id":      batchID,
				"stock_item_id": item.StockItemID,
				"reserved":      item.Quantity,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("reservation batch created",
		zap.String("batch", batchID),
		zap.Int("items", len(items)))
	return batchID, nil
}

// ReservationItems lists a batch's items.
func (s *Service) ReservationItems(ctx context.Context, batchID string) ([]record.Row, error) {
	return s.store.Select(ctx, schema.ReservationItem, record.Query{
		Where:   record.Eq("batch_id", batchID),
		OrderBy: []record.Order{record.Asc(schema.ColCreatedAt), record.Asc(schema.ColID)},
	})
}

// ConsumeReservation records quantity of a reservation item handed to a
// client. Fails with RESERVATION_EXCEEDED beyond the remaining balance.
func (s *Service) ConsumeReservation(ctx context.Context, itemID, clientID string, quantity int64) (string, error) {
	if err := positive(schema.ReservationConsumption, "quantity", quantity); err != nil {
		return "", err
	}
	res, err := s.store.Insert(ctx, schema.ReservationConsumption, record.Row{
		"item_id":   itemID,
		"client_id": optional(clientID),
		"quantity":  quantity,
	})
	if err != nil {
		return "", err
	}
	return res.ID.(string), nil
}

// DeleteReservationBatch deletes a batch. Unconsumed balances go back to
// stock and the batch's items and consumptions are removed.
func (s *Service) DeleteReservationBatch(ctx context.Context, batchID string) error {
	res, err := s.store.Delete(ctx, schema.ReservationBatch, record.Eq(schema.ColID, batchID))
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return errs.NotFound(schema.ReservationBatch, batchID)
	}
	s.logger.Info("reservation batch deleted", zap.String("batch", batchID))
	return nil
}
