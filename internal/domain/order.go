package domain

// OrderStatus is the broker-neutral lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderDone      OrderStatus = "done"
	OrderCancelled OrderStatus = "cancel"
	OrderRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further fills can arrive.
func (s OrderStatus) Terminal() bool {
	return s == OrderDone || s == OrderCancelled || s == OrderRejected
}

// OrderHandle identifies a submitted order at the broker.
type OrderHandle struct {
	ID     string
	Symbol string
	Side   OrderSide
}

// Fill is one execution leg of an order.
type Fill struct {
	Price    float64
	Quantity float64
}

// OrderState is a point-in-time view of an order.
type OrderState struct {
	Handle      OrderHandle
	Status      OrderStatus
	ExecutedQty float64
	Legs        []Fill
}

// Filled applies the ambiguity-tolerant fill rule: the order counts as filled when the
// broker reports it done, OR any quantity executed, OR at least one leg is reported.
func (s *OrderState) Filled() bool {
	if s == nil {
		return false
	}
	return s.Status == OrderDone || s.ExecutedQty > 0 || len(s.Legs) > 0
}

// VWAP returns the volume-weighted price of the legs, or fallback when no leg carries volume.
func (s *OrderState) VWAP(fallback float64) float64 {
	if s == nil {
		return fallback
	}
	var qty, notional float64
	for _, l := range s.Legs {
		qty += l.Quantity
		notional += l.Price * l.Quantity
	}
	if qty <= 0 {
		return fallback
	}
	return notional / qty
}

// FilledQty returns the executed quantity, falling back to the sum of the legs.
func (s *OrderState) FilledQty() float64 {
	if s == nil {
		return 0
	}
	if s.ExecutedQty > 0 {
		return s.ExecutedQty
	}
	total := 0.0
	for _, l := range s.Legs {
		total += l.Quantity
	}
	return total
}
