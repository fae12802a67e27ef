package cascade

import (
	"context"
	"fmt"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

// DefaultRules returns the stockline rule set in declaration order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "stock-reserved-within-quantity",
			Description: "reject a stock update leaving reserved above quantity",
			Table:       schema.StockItem,
			Timing:      Before,
			Op:          record.OpUpdate,
			When: func(ev Event) bool {
				return ev.New.Int64("reserved") > ev.New.Int64("quantity")
			},
			Apply: func(_ context.Context, _ Tx, _ Event) error {
				return errs.ConstraintViolation(schema.StockItem, "reserved exceeds available")
			},
		},
		{
			Name:        "inbound-adds-stock",
			Description: "add received quantity to the stock item",
			Table:       schema.Inbound,
			Timing:      After,
			Op:          record.OpInsert,
			LocalOnly:   true,
			Apply: func(ctx context.Context, tx Tx, ev Event) error {
				return adjustStock(ctx, tx, ev.New.String("stock_item_id"), ev.New.Int64("quantity"), 0)
			},
		},
		{
			Name:        "order-reserves-stock",
			Description: "reserve stock for a pending order",
			Table:       schema.Orders,
			Timing:      After,
			Op:          record.OpInsert,
			LocalOnly:   true,
			When: func(ev Event) bool {
				return ev.New.String("status") == schema.OrderPending
			},
			Apply: func(ctx context.Context, tx Tx, ev Event) error {
				return adjustStock(ctx, tx, ev.New.String("stock_item_id"), 0, ev.New.Int64("quantity"))
			},
		},
		{
			Name:        "order-status-flow",
			Description: "reject order status moves outside the workflow; dispatched and canceled are final",
			Table:       schema.Orders,
			Timing:      Before,
			Op:          record.OpUpdate,
			LocalOnly:   true,
			When: func(ev Event) bool {
				return !statusMoveAllowed(ev, schema.OrderTransitions)
			},
			Apply: func(_ context.Context, _ Tx, ev Event) error {
				return statusViolation(schema.Orders, ev)
			},
		},
		{
			Name:        "order-dispatch",
			Description: "on dispatch, take stock out and record a delivery and an outbound movement",
			Table:       schema.Orders,
			Timing:      After,
			Op:          record.OpUpdate,
			LocalOnly:   true,
			When: func(ev Event) bool {
				return ev.TransitionedTo("status", schema.OrderDispatched)
			},
			Apply: dispatchOrder,
		},
		{
			Name:        "order-cancel",
			Description: "release the reservation of a canceled order",
			Table:       schema.Orders,
			Timing:      After,
			Op:          record.OpUpdate,
			LocalOnly:   true,
			When: func(ev Event) bool {
				return ev.TransitionedTo("status", schema.OrderCanceled)
			},
			Apply: func(ctx context.Context, tx Tx, ev Event) error {
				return adjustStock(ctx, tx, ev.New.String("stock_item_id"), 0, -ev.New.Int64("quantity"))
			},
		},
		{
			Name:        "delivery-status-flow",
			Description: "reject delivery status moves outside the workflow; partial returns and rejections are final",
			Table:       schema.Delivery,
			Timing:      Before,
			Op:          record.OpUpdate,
			LocalOnly:   true,
			When: func(ev Event) bool {
				return !statusMoveAllowed(ev, schema.DeliveryTransitions)
			},
			Apply: func(_ context.Context, _ Tx, ev Event) error {
				return statusViolation(schema.Delivery, ev)
			},
		},
		{
			Name:        "delivery-delivered",
			Description: "on delivery, take stock out and record an outbound movement",
			Table:       schema.Delivery,
			Timing:      After,
			Op:          record.OpUpdate,
			LocalOnly:   true,
			When: func(ev Event) bool {
				return ev.TransitionedTo("status", schema.DeliveryDelivered)
			},
			Apply: func(ctx context.Context, tx Tx, ev Event) error {
				itemID := ev.New.String("stock_item_id")
				qty := ev.New.Int64("quantity")
				if err := adjustStock(ctx, tx, itemID, -qty, 0); err != nil {
					return err
				}
				_, err := tx.Insert(ctx, schema.Outbound, record.Row{
					"stock_item_id": itemID,
					"quantity":      qty,
					"origin":        schema.OriginDelivery,
					"reference_id":  ev.New[schema.ColID],
				})
				return err
			},
		},
		{
			Name:        "delivery-partial-return",
			Description: "on partial return, put the returned quantity back and record a return",
			Table:       schema.Delivery,
			Timing:      After,
			Op:          record.OpUpdate,
			LocalOnly:   true,
			When: func(ev Event) bool {
				return ev.TransitionedTo("status", schema.DeliveryPartiallyReturned)
			},
			Apply: returnPartially,
		},
		{
			Name:        "consumption-within-reservation",
			Description: "reject a consumption larger than the remaining reservation",
			Table:       schema.ReservationConsumption,
			Timing:      Before,
			Op:          record.OpInsert,
			Apply:       checkConsumption,
		},
		{
			Name:        "consumption-accumulates",
			Description: "add the consumed quantity to the reservation item",
			Table:       schema.ReservationConsumption,
			Timing:      After,
			Op:          record.OpInsert,
			LocalOnly:   true,
			Apply: func(ctx context.Context, tx Tx, ev Event) error {
				itemID := ev.New.String("item_id")
				item, err := tx.Get(ctx, schema.ReservationItem, itemID)
				if err != nil {
					return err
				}
				_, err = tx.Update(ctx, schema.ReservationItem,
					record.Row{"consumed": item.Int64("consumed") + ev.New.Int64("quantity")},
					record.Eq(schema.ColID, itemID))
				return err
			},
		},
		{
			Name:        "batch-delete-returns-balance",
			Description: "return unconsumed reservation balances to stock and remove the batch items",
			Table:       schema.ReservationBatch,
			Timing:      After,
			Op:          record.OpDelete,
			LocalOnly:   true,
			Apply:       releaseBatch,
		},
		{
			Name:        "reservation-item-earmarks-stock",
			Description: "take reserved quantity out of stock and record a manual outbound movement",
			Table:       schema.ReservationItem,
			Timing:      After,
			Op:          record.OpInsert,
			LocalOnly:   true,
			Apply: func(ctx context.Context, tx Tx, ev Event) error {
				itemID := ev.New.String("stock_item_id")
				qty := ev.New.Int64("reserved")
				if err := adjustStock(ctx, tx, itemID, -qty, 0); err != nil {
					return err
				}
				_, err := tx.Insert(ctx, schema.Outbound, record.Row{
					"stock_item_id": itemID,
					"quantity":      qty,
					"origin":        schema.OriginManual,
					"reference_id":  ev.New[schema.ColID],
				})
				return err
			},
		},
	}
}

// statusMoveAllowed reports whether the update keeps the status or moves it
// along one of moves.
func statusMoveAllowed(ev Event, moves map[string][]string) bool {
	from, to := ev.Old.String("status"), ev.New.String("status")
	return from == to || schema.CanTransition(moves, from, to)
}

func statusViolation(table string, ev Event) error {
	return errs.ConstraintViolation(table, fmt.Sprintf("status cannot move from %s to %s",
		ev.Old.String("status"), ev.New.String("status")))
}

// adjustStock applies deltas to a stock item's quantity and reserved columns
// in a single update, so BEFORE UPDATE rules see the final pair.
func adjustStock(ctx context.Context, tx Tx, itemID string, dQuantity, dReserved int64) error {
	item, err := tx.Get(ctx, schema.StockItem, itemID)
	if err != nil {
		if errs.IsNotFound(err) {
			return errs.ConstraintViolation(schema.StockItem, fmt.Sprintf("stock item %q does not exist", itemID))
		}
		return err
	}

	quantity := item.Int64("quantity") + dQuantity
	reserved := item.Int64("reserved") + dReserved
	if quantity < 0 {
		return errs.ConstraintViolation(schema.StockItem,
			fmt.Sprintf("insufficient stock: quantity would become %d", quantity))
	}
	if reserved < 0 {
		return errs.ConstraintViolation(schema.StockItem,
			fmt.Sprintf("reserved would become %d", reserved))
	}

	_, err = tx.Update(ctx, schema.StockItem,
		record.Row{"quantity": quantity, "reserved": reserved},
		record.Eq(schema.ColID, itemID))
	return err
}

func dispatchOrder(ctx context.Context, tx Tx, ev Event) error {
	order := ev.New
	itemID := order.String("stock_item_id")
	qty := order.Int64("quantity")

	if err := adjustStock(ctx, tx, itemID, -qty, -qty); err != nil {
		return err
	}
	if _, err := tx.Insert(ctx, schema.Delivery, record.Row{
		"order_id":      order[schema.ColID],
		"stock_item_id": itemID,
		"client_id":     order["client_id"],
		"vehicle_id":    order["vehicle_id"],
		"quantity":      qty,
		"status":        schema.DeliveryDelivered,
	}); err != nil {
		return err
	}
	_, err := tx.Insert(ctx, schema.Outbound, record.Row{
		"stock_item_id": itemID,
		"quantity":      qty,
		"origin":        schema.OriginOrder,
		"reference_id":  order[schema.ColID],
	})
	return err
}

func returnPartially(ctx context.Context, tx Tx, ev Event) error {
	delivery := ev.New
	returned := delivery.Int64("quantity_returned")
	if returned <= 0 {
		return errs.ConstraintViolation(schema.Delivery, "partial return requires quantity_returned > 0")
	}

	itemID := delivery.String("stock_item_id")
	if err := adjustStock(ctx, tx, itemID, returned, 0); err != nil {
		return err
	}
	_, err := tx.Insert(ctx, schema.StockReturn, record.Row{
		"stock_item_id": itemID,
		"delivery_id":   delivery[schema.ColID],
		"quantity":      returned,
		"reason":        delivery.String("return_reason"),
	})
	return err
}

func checkConsumption(ctx context.Context, tx Tx, ev Event) error {
	itemID := ev.New.String("item_id")
	item, err := tx.Get(ctx, schema.ReservationItem, itemID)
	if err != nil {
		if errs.IsNotFound(err) {
			return errs.ConstraintViolation(schema.ReservationConsumption,
				fmt.Sprintf("reservation item %q does not exist", itemID))
		}
		return err
	}

	remaining := item.Int64("reserved") - item.Int64("consumed")
	if qty := ev.New.Int64("quantity"); qty > remaining {
		return errs.ReservationExceeded(schema.ReservationConsumption,
			fmt.Sprintf("consumption of %d exceeds remaining reservation of %d", qty, remaining))
	}
	return nil
}

func releaseBatch(ctx context.Context, tx Tx, ev Event) error {
	batchID := ev.Old[schema.ColID]
	items, err := tx.Select(ctx, schema.ReservationItem, record.Query{
		Where:   record.Eq("batch_id", batchID),
		OrderBy: []record.Order{record.Asc(schema.ColCreatedAt), record.Asc(schema.ColID)},
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	ids := make([]any, 0, len(items))
	for _, item := range items {
		ids = append(ids, item[schema.ColID])

		balance := item.Int64("reserved") - item.Int64("consumed")
		if balance <= 0 {
			continue
		}
		itemID := item.String("stock_item_id")
		if err := adjustStock(ctx, tx, itemID, balance, 0); err != nil {
			return err
		}
		if _, err := tx.Insert(ctx, schema.StockReturn, record.Row{
			"stock_item_id": itemID,
			"batch_id":      batchID,
			"quantity":      balance,
			"reason":        "reservation batch deleted",
		}); err != nil {
			return err
		}
	}

	if _, err := tx.Delete(ctx, schema.ReservationConsumption, record.In("item_id", ids...)); err != nil {
		return err
	}
	_, err = tx.Delete(ctx, schema.ReservationItem, record.Eq("batch_id", batchID))
	return err
}
