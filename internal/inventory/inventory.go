// Package inventory offers typed stock operations on top of the store.
//
// Every operation is one store transaction; the stock arithmetic itself is
// done by the cascade rules, so the service only validates input and status
// transitions before writing.
package inventory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/store"
)

// StockItem is a stock_item row.
type StockItem struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Quantity  int64           `db:"quantity" json:"quantity"`
	Reserved  int64           `db:"reserved" json:"reserved"`
	Available bool            `db:"available" json:"available"`
	UnitValue decimal.Decimal `db:"unit_value" json:"unit_value"`
	ExpiresAt *string         `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt string          `db:"created_at" json:"created_at"`
	UpdatedAt string          `db:"updated_at" json:"updated_at"`
	LastSync  *string         `db:"last_sync" json:"last_sync,omitempty"`
}

// Free is the quantity not held by pending orders.
func (s StockItem) Free() int64 {
	return s.Quantity - s.Reserved
}

// NewStockItem describes a stock item to create.
type NewStockItem struct {
	ID        string
	Name      string
	Quantity  int64
	UnitValue decimal.Decimal
	ExpiresAt *time.Time
}

// NewOrder describes an order to place.
type NewOrder struct {
	StockItemID string
	ClientID    string
	EmployeeID  string
	Quantity    int64
}

// NewDelivery describes a delivery created outside the order flow.
type NewDelivery struct {
	StockItemID string
	ClientID    string
	VehicleID   int64
	Quantity    int64
}

// BatchItem is one line of a reservation batch.
type BatchItem struct {
	StockItemID string
	Quantity    int64
}

// Service runs inventory operations.
type Service struct {
	store  *store.Store
	logger *zap.Logger
}

// New creates a Service. A nil logger disables logging.
func New(st *store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, logger: logger}
}

func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func positive(table, field string, n int64) error {
	if n <= 0 {
		return errs.InvalidField(table, field, fmt.Sprintf("must be positive, got %d", n))
	}
	return nil
}

// CreateStockItem inserts a stock item. Reserved starts at zero.
func (s *Service) CreateStockItem(ctx context.Context, in NewStockItem) (StockItem, error) {
	if in.Name == "" {
		return StockItem{}, errs.InvalidField(schema.StockItem, "name", "required")
	}
	if in.Quantity < 0 {
		return StockItem{}, errs.InvalidField(schema.StockItem, "quantity", "must not be negative")
	}
	if in.UnitValue.IsNegative() {
		return StockItem{}, errs.InvalidField(schema.StockItem, "unit_value", "must not be negative")
	}

	row := record.Row{
		"id":         optional(in.ID),
		"name":       in.Name,
		"quantity":   in.Quantity,
		"unit_value": in.UnitValue.String(),
	}
	if in.ExpiresAt != nil {
		row["expires_at"] = record.FormatTime(*in.ExpiresAt)
	}
	res, err := s.store.Insert(ctx, schema.StockItem, row)
	if err != nil {
		return StockItem{}, err
	}
	return s.StockItem(ctx, res.ID.(string))
}

// StockItem loads one stock item.
func (s *Service) StockItem(ctx context.Context, id string) (StockItem, error) {
	var item StockItem
	if err := s.store.GetInto(ctx, &item, schema.StockItem, id); err != nil {
		return StockItem{}, err
	}
	return item, nil
}

// StockItems lists every stock item ordered by name.
func (s *Service) StockItems(ctx context.Context) ([]StockItem, error) {
	items := []StockItem{}
	if err := s.store.SelectInto(ctx, &items, schema.StockItem, record.All()); err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b StockItem) int {
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return items, nil
}

// ReceiveStock records an inbound movement. The quantity is added to stock
// by the inbound rule.
func (s *Service) ReceiveStock(ctx context.Context, stockItemID string, quantity int64, employeeID, note string) (string, error) {
	if err := positive(schema.Inbound, "quantity", quantity); err != nil {
		return "", err
	}
	res, err := s.store.Insert(ctx, schema.Inbound, record.Row{
		"stock_item_id": stockItemID,
		"quantity":      quantity,
		"employee_id":   optional(employeeID),
		"note":          note,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("stock received",
		zap.String("stock_item", stockItemID),
		zap.Int64("quantity", quantity))
	return res.ID.(string), nil
}

// RecordOutbound takes quantity out of stock by hand, for losses or
// internal use, and records the movement.
func (s *Service) RecordOutbound(ctx context.Context, stockItemID string, quantity int64, reference string) (string, error) {
	if err := positive(schema.Outbound, "quantity", quantity); err != nil {
		return "", err
	}

	var id string
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		item, err := tx.Get(ctx, schema.StockItem, stockItemID)
		if err != nil {
			return err
		}
		remaining := item.Int64("quantity") - quantity
		if remaining < item.Int64("reserved") {
			return errs.ConstraintViolation(schema.StockItem,
				fmt.Sprintf("insufficient free stock: %d requested, %d free",
					quantity, item.Int64("quantity")-item.Int64("reserved")))
		}
		if _, err := tx.Update(ctx, schema.StockItem, record.Row{"quantity": remaining}, record.Eq(schema.ColID, stockItemID)); err != nil {
			return err
		}
		res, err := tx.Insert(ctx, schema.Outbound, record.Row{
			"stock_item_id": stockItemID,
			"quantity":      quantity,
			"origin":        schema.OriginManual,
			"reference_id":  optional(reference),
		})
		if err != nil {
			return err
		}
		id = res.ID.(string)
		return nil
	})
	return id, err
}

// Valuation is the value of the stock on hand.
type Valuation struct {
	Total decimal.Decimal `json:"total"`
	Items []ItemValue     `json:"items"`
}

// ItemValue is one stock item's contribution to a Valuation.
type ItemValue struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Quantity int64           `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// Valuation sums quantity x unit_value over every stock item.
func (s *Service) Valuation(ctx context.Context) (Valuation, error) {
	items, err := s.StockItems(ctx)
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{Total: decimal.Zero, Items: make([]ItemValue, 0, len(items))}
	for _, item := range items {
		value := item.UnitValue.Mul(decimal.NewFromInt(item.Quantity))
		v.Total = v.Total.Add(value)
		v.Items = append(v.Items, ItemValue{ID: item.ID, Name: item.Name, Quantity: item.Quantity, Value: value})
	}
	return v, nil
}
