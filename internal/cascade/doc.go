// Package cascade is the constraint and cascade engine.
//
// A Rule reacts to one kind of write (table, timing, operation) and either
// rejects it or applies derived writes. The store calls Engine.Fire for every
// row it inserts, updates or deletes, inside the transaction that performs the
// write. Writes issued by a rule go back through the same Tx and therefore
// fire further rules.
//
// Rules are evaluated in declaration order per event. Each qualifying rule
// fires exactly once per event. Any rule error aborts the enclosing
// transaction, so no partial cascade is ever committed.
//
// # Declared rules
//
//  1. stock-reserved-within-quantity       BEFORE UPDATE stock_item
//  2. inbound-adds-stock                   AFTER INSERT inbound
//  3. order-reserves-stock                 AFTER INSERT orders (pending)
//  4. order-status-flow                    BEFORE UPDATE orders
//  5. order-dispatch                       AFTER UPDATE orders (-> dispatched)
//  6. order-cancel                         AFTER UPDATE orders (-> canceled)
//  7. delivery-status-flow                 BEFORE UPDATE delivery
//  8. delivery-delivered                   AFTER UPDATE delivery (-> delivered)
//  9. delivery-partial-return              AFTER UPDATE delivery (-> partially_returned)
//  10. consumption-within-reservation      BEFORE INSERT reservation_consumption
//  11. consumption-accumulates             AFTER INSERT reservation_consumption
//  12. batch-delete-returns-balance        AFTER DELETE reservation_batch
//  13. reservation-item-earmarks-stock     AFTER INSERT reservation_item
//
// Rows applied by a sync pull are Remote events. Only the two checks on
// stock_item and reservation_consumption fire for them; every other rule is
// LocalOnly because the remote row already reflects its effects.
//
// Nesting depth is bounded (DefaultMaxDepth) so a misconfigured rule set
// cannot recurse forever.
package cascade
