package inventory

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/store"
)

// PlaceOrder creates a pending order; the order rule reserves its quantity.
func (s *Service) PlaceOrder(ctx context.Context, in NewOrder) (string, error) {
	if err := positive(schema.Orders, "quantity", in.Quantity); err != nil {
		return "", err
	}
	res, err := s.store.Insert(ctx, schema.Orders, record.Row{
		"stock_item_id": in.StockItemID,
		"client_id":     optional(in.ClientID),
		"employee_id":   optional(in.EmployeeID),
		"quantity":      in.Quantity,
		"status":        schema.OrderPending,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("order placed",
		zap.Any("order", res.ID),
		zap.String("stock_item", in.StockItemID),
		zap.Int64("quantity", in.Quantity))
	return res.ID.(string), nil
}

// AdvanceOrder moves an order to status. Dispatched and canceled orders
// cannot move.
func (s *Service) AdvanceOrder(ctx context.Context, orderID, status string) error {
	return s.transition(ctx, schema.Orders, orderID, status, schema.OrderTransitions, nil)
}

// DispatchOrder dispatches an order. Stock leaves, the reservation is
// released and a delivered Delivery plus an Outbound are recorded.
func (s *Service) DispatchOrder(ctx context.Context, orderID string) error {
	return s.AdvanceOrder(ctx, orderID, schema.OrderDispatched)
}

// CancelOrder cancels an order and releases its reservation.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	return s.AdvanceOrder(ctx, orderID, schema.OrderCanceled)
}

// CreateDelivery creates a delivery in the preparing status.
func (s *Service) CreateDelivery(ctx context.Context, in NewDelivery) (string, error) {
	if err := positive(schema.Delivery, "quantity", in.Quantity); err != nil {
		return "", err
	}
	row := record.Row{
		"stock_item_id": in.StockItemID,
		"client_id":     optional(in.ClientID),
		"quantity":      in.Quantity,
		"status":        schema.DeliveryPreparing,
	}
	if in.VehicleID != 0 {
		row["vehicle_id"] = in.VehicleID
	}
	res, err := s.store.Insert(ctx, schema.Delivery, row)
	if err != nil {
		return "", err
	}
	return res.ID.(string), nil
}

// AdvanceDelivery moves a delivery to status.
func (s *Service) AdvanceDelivery(ctx context.Context, deliveryID, status string) error {
	return s.transition(ctx, schema.Delivery, deliveryID, status, schema.DeliveryTransitions, nil)
}

// MarkDelivered marks a delivery delivered, taking its quantity out of stock.
func (s *Service) MarkDelivered(ctx context.Context, deliveryID string) error {
	return s.AdvanceDelivery(ctx, deliveryID, schema.DeliveryDelivered)
}

// ReturnPartially records that quantity of a delivered delivery came back.
func (s *Service) ReturnPartially(ctx context.Context, deliveryID string, quantity int64, reason string) error {
	if err := positive(schema.Delivery, "quantity_returned", quantity); err != nil {
		return err
	}
	return s.transition(ctx, schema.Delivery, deliveryID, schema.DeliveryPartiallyReturned, schema.DeliveryTransitions,
		record.Row{"quantity_returned": quantity, "return_reason": reason})
}

func (s *Service) transition(ctx context.Context, table, id, to string, allowed map[string][]string, extra record.Row) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		row, err := tx.Get(ctx, table, id)
		if err != nil {
			return err
		}
		from := row.String("status")
		if !schema.CanTransition(allowed, from, to) {
			return errs.InvalidTransition(table, from, to)
		}

		fields := record.Row{"status": to}
		for k, v := range extra {
			fields[k] = v
		}
		if _, err := tx.Update(ctx, table, fields, record.Eq(schema.ColID, id)); err != nil {
			return err
		}
		s.logger.Info("status changed",
			zap.String("table", table),
			zap.String("id", id),
			zap.String("from", from),
			zap.String("to", to))
		return nil
	})
}
