// Package schema defines the fixed set of local tables: their columns,
// primary-key strategy and the DDL that creates them.
//
// The schema is data only. Behaviour attached to writes lives in the cascade
// package; statements are issued by the store package.
package schema

import (
	_ "embed"
	"slices"

	"github.com/roach88/stockline/internal/errs"
)

// DDL creates every table. Statements use IF NOT EXISTS, but the store only
// runs them when MarkerTable is absent.
//
//go:embed schema.sql
var DDL string

// Table names.
const (
	StockItem              = "stock_item"
	Inbound                = "inbound"
	Orders                 = "orders"
	Delivery               = "delivery"
	StockReturn            = "stock_return"
	Outbound               = "outbound"
	ReservationBatch       = "reservation_batch"
	ReservationItem        = "reservation_item"
	ReservationConsumption = "reservation_consumption"
	Employee               = "employee"
	Client                 = "client"
	Vehicle                = "vehicle"
	Address                = "address"
	Phone                  = "phone"
	Email                  = "email"

	// SyncState holds per-table pull watermarks. It is internal to the store
	// and is not part of Default().
	SyncState = "sync_state"
)

// MarkerTable is checked before creating the schema.
const MarkerTable = StockItem

// Common columns.
const (
	ColID        = "id"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
	ColLastSync  = "last_sync"
)

// Order statuses. Dispatched and canceled are terminal.
const (
	OrderPending    = "pending"
	OrderPreparing  = "preparing"
	OrderDispatched = "dispatched"
	OrderCanceled   = "canceled"
)

// Delivery statuses.
const (
	DeliveryPreparing         = "preparing"
	DeliveryInTransit         = "in_transit"
	DeliveryDelivered         = "delivered"
	DeliveryPartiallyReturned = "partially_returned"
	DeliveryRejected          = "rejected"
)

// Outbound origins.
const (
	OriginOrder    = "order"
	OriginDelivery = "delivery"
	OriginManual   = "manual"
)

// SyncTables is the default synchronisation set, in sync order.
var SyncTables = []string{Employee, Client, StockItem, Orders}

// IDStrategy says who assigns a table's primary key.
type IDStrategy int

const (
	// IDServer tables use an INTEGER key assigned by the database.
	IDServer IDStrategy = iota
	// IDClient tables use a client-generated UUID so rows can be created offline.
	IDClient
)

func (s IDStrategy) String() string {
	if s == IDClient {
		return "client"
	}
	return "server"
}

// Table describes one local table.
type Table struct {
	Name       string
	PrimaryKey string
	IDs        IDStrategy
	Columns    []string
}

// HasColumn reports whether col belongs to the table.
func (t Table) HasColumn(col string) bool {
	return slices.Contains(t.Columns, col)
}

// DataColumns returns the columns without the primary key and sync metadata.
func (t Table) DataColumns() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		switch c {
		case t.PrimaryKey, ColCreatedAt, ColUpdatedAt, ColLastSync:
			continue
		}
		out = append(out, c)
	}
	return out
}

// Schema is an immutable set of tables.
type Schema struct {
	tables map[string]Table
	order  []string
}

// New builds a schema from table definitions.
func New(tables ...Table) *Schema {
	s := &Schema{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if t.PrimaryKey == "" {
			t.PrimaryKey = ColID
		}
		s.tables[t.Name] = t
		s.order = append(s.order, t.Name)
	}
	return s
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return Table{}, errs.UnknownTable(name)
	}
	return t, nil
}

// Tables returns table names in declaration order.
func (s *Schema) Tables() []string {
	return slices.Clone(s.order)
}

func withMeta(cols ...string) []string {
	return append(append([]string{ColID}, cols...), ColCreatedAt, ColUpdatedAt, ColLastSync)
}

// Default returns the stockline schema. Column lists match schema.sql.
func Default() *Schema {
	return New(
		Table{Name: Address, IDs: IDServer, Columns: withMeta("street", "number", "district", "city", "state", "postal_code")},
		Table{Name: Phone, IDs: IDServer, Columns: withMeta("number", "kind")},
		Table{Name: Email, IDs: IDServer, Columns: withMeta("address")},
		Table{Name: Employee, IDs: IDClient, Columns: withMeta("name", "role", "active", "supervisor_id", "phone_id", "email_id")},
		Table{Name: Client, IDs: IDClient, Columns: withMeta("name", "document", "address_id", "phone_id", "email_id")},
		Table{Name: Vehicle, IDs: IDServer, Columns: withMeta("plate", "model", "capacity", "driver_id")},
		Table{Name: StockItem, IDs: IDClient, Columns: withMeta("name", "quantity", "reserved", "available", "unit_value", "expires_at")},
		Table{Name: Inbound, IDs: IDClient, Columns: withMeta("stock_item_id", "quantity", "employee_id", "note")},
		Table{Name: Orders, IDs: IDClient, Columns: withMeta("stock_item_id", "client_id", "employee_id", "vehicle_id", "quantity", "status")},
		Table{Name: Delivery, IDs: IDClient, Columns: withMeta("order_id", "stock_item_id", "client_id", "vehicle_id", "quantity", "quantity_returned", "return_reason", "status")},
		Table{Name: StockReturn, IDs: IDClient, Columns: withMeta("stock_item_id", "delivery_id", "batch_id", "quantity", "reason")},
		Table{Name: Outbound, IDs: IDClient, Columns: withMeta("stock_item_id", "quantity", "origin", "reference_id")},
		Table{Name: ReservationBatch, IDs: IDClient, Columns: withMeta("description", "employee_id")},
		Table{Name: ReservationItem, IDs: IDClient, Columns: withMeta("batch_id", "stock_item_id", "reserved", "consumed")},
		Table{Name: ReservationConsumption, IDs: IDClient, Columns: withMeta("item_id", "client_id", "quantity")},
	)
}

// Allowed status moves. A status with no entry is terminal.
var (
	OrderTransitions = map[string][]string{
		OrderPending:   {OrderPreparing, OrderDispatched, OrderCanceled},
		OrderPreparing: {OrderDispatched, OrderCanceled},
	}
	DeliveryTransitions = map[string][]string{
		DeliveryPreparing: {DeliveryInTransit, DeliveryDelivered, DeliveryRejected},
		DeliveryInTransit: {DeliveryDelivered, DeliveryRejected},
		DeliveryDelivered: {DeliveryPartiallyReturned},
	}
)

// IsTerminalOrderStatus reports whether an order in status can no longer move.
func IsTerminalOrderStatus(status string) bool {
	_, ok := OrderTransitions[status]
	return !ok
}

// CanTransition reports whether moves allows a status change from one
// status to another.
func CanTransition(moves map[string][]string, from, to string) bool {
	return slices.Contains(moves[from], to)
}
