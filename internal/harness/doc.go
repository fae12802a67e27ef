// Package harness runs YAML scenarios against a fresh store and checks the
// resulting stock levels, rule firings and errors.
//
// # Scenario Format
//
//	name: order_dispatch
//	description: "Dispatching an order moves its quantity out of stock"
//	setup:
//	  - op: insert
//	    table: stock_item
//	    fields: { id: cement, name: cement, quantity: 10 }
//	flow:
//	  - op: insert
//	    table: orders
//	    fields: { id: o1, stock_item_id: cement, quantity: 3 }
//	  - op: update
//	    table: orders
//	    where: { id: o1 }
//	    fields: { status: dispatched }
//	    expect: { rows_affected: 1 }
//	  - op: insert
//	    table: orders
//	    fields: { stock_item_id: cement, quantity: 50 }
//	    expect: { error: CONSTRAINT_VIOLATION }
//	assertions:
//	  - type: final_state
//	    table: stock_item
//	    where: { id: cement }
//	    expect: { quantity: 7, reserved: 0 }
//	  - type: rule_fired
//	    rule: order-dispatch
//
// Setup steps must succeed. A flow step without expect must succeed too; with
// expect.error it must fail with that error code.
//
// # Assertion Types
//
//   - final_state: exactly one row matches where and carries the expect fields
//   - row_count: count rows match where
//   - rule_fired: the rule applied at least once
//   - rule_order: the rules first applied in the listed order
//   - rule_count: the rule applied exactly count times
//
// # Deterministic Testing
//
// Scenarios run with testutil.DeterministicClock and testutil.SequentialIDs,
// so generated identifiers and timestamps are identical across runs and the
// rendered trace can be compared against golden files.
package harness
