package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientReference(t *testing.T) {
	require.Equal(t, "#1001", ClientReference(&Order{Name: "#1001", ID: 42, OrderNumber: 7}))
	require.Equal(t, "#42", ClientReference(&Order{ID: 42, OrderNumber: 7}))
	require.Equal(t, "#7", ClientReference(&Order{OrderNumber: 7}))

	// Degenerate payloads still get a non-empty reference
	require.True(t, strings.HasPrefix(ClientReference(&Order{}), "REF-"))
	require.True(t, strings.HasPrefix(ClientReference(nil), "REF-"))
}

func TestSnapshotLineItems(t *testing.T) {
	two := 2
	zero := 0
	order := &Order{
		LineItems: []OrderLineItem{
			{ID: 101, Quantity: 5, FulfillableQuantity: &two},
			{ID: 102, Quantity: 3},
			{ID: 103, Quantity: 4, FulfillableQuantity: &zero},
			{ID: 0, Quantity: 1},
		},
	}

	items := SnapshotLineItems(order)
	require.Len(t, items, 2)

	// Fulfillable quantity overrides the ordered quantity
	require.Equal(t, LineItem{ID: 101, Quantity: 2}, items[0])
	require.Equal(t, LineItem{ID: 102, Quantity: 3}, items[1])

	require.Empty(t, SnapshotLineItems(nil))
}

func TestLineItemsScan(t *testing.T) {
	var items LineItems
	require.NoError(t, items.Scan([]byte(`[{"id":101,"quantity":2}]`)))
	require.Equal(t, LineItems{{ID: 101, Quantity: 2}}, items)

	require.NoError(t, items.Scan(nil))
	require.Nil(t, items)

	require.Error(t, items.Scan(42))
}

func TestFulfilled(t *testing.T) {
	rec := &ShipmentRecord{Status: StatusCNReceived}
	require.False(t, rec.Fulfilled())
	rec.Status = StatusFulfilled
	require.True(t, rec.Fulfilled())
}
