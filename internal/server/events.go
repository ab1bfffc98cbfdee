package server

import (
	"github.com/acethrift/ace/internal/catalog"
	"github.com/acethrift/ace/internal/escrow"
	"github.com/acethrift/ace/internal/exchange"
	"github.com/acethrift/ace/internal/feed"
	"github.com/acethrift/ace/internal/metrics"
	"github.com/acethrift/ace/internal/webhooks"
)

// eventFanout forwards service lifecycle events to the WebSocket feed and
// the webhook dispatcher. It implements the Notifier interface of every
// service package so a single instance can be handed to all of them.
type eventFanout struct {
	hub      *feed.Hub
	webhooks *webhooks.Dispatcher
}

func (f *eventFanout) emit(t feed.EventType, data map[string]interface{}) {
	f.hub.Emit(t, data)
	f.webhooks.Dispatch(string(t), data)
}

func escrowData(e *escrow.Escrow) map[string]interface{} {
	data := map[string]interface{}{
		"escrowId":  e.ID,
		"productId": e.ProductID,
		"buyer":     e.Buyer,
		"seller":    e.Seller,
		"denom":     string(e.Denom),
		"amount":    e.Amount,
		"quantity":  e.Quantity,
		"deadline":  e.Deadline,
	}
	if e.IsExchange {
		data["isExchange"] = true
		data["offeredProductId"] = e.ExchangeProductID
	}
	return data
}

func (f *eventFanout) EscrowCreated(e *escrow.Escrow) {
	f.emit(feed.EventEscrowCreated, escrowData(e))
}

func (f *eventFanout) EscrowConfirmed(e *escrow.Escrow, party string) {
	data := escrowData(e)
	data["confirmedBy"] = party
	f.emit(feed.EventEscrowConfirmed, data)
}

func (f *eventFanout) EscrowCompleted(e *escrow.Escrow) {
	f.emit(feed.EventEscrowCompleted, escrowData(e))
}

func (f *eventFanout) EscrowRefunded(e *escrow.Escrow) {
	f.emit(feed.EventEscrowRefunded, escrowData(e))
}

func offerData(o *exchange.Offer) map[string]interface{} {
	return map[string]interface{}{
		"wantedProductId":  o.WantedProductID,
		"offerIndex":       o.Index,
		"offeredProductId": o.OfferedProductID,
		"offerer":          o.Offerer,
		"tokenTopUp":       o.TokenTopUp,
	}
}

func (f *eventFanout) ExchangeOfferCreated(o *exchange.Offer) {
	f.emit(feed.EventOfferCreated, offerData(o))
}

func (f *eventFanout) ExchangeOfferAccepted(o *exchange.Offer, e *escrow.Escrow) {
	data := offerData(o)
	data["escrowId"] = e.ID
	data["buyer"] = e.Buyer
	data["seller"] = e.Seller
	f.emit(feed.EventOfferAccepted, data)
}

func (f *eventFanout) ExchangeOfferCancelled(o *exchange.Offer) {
	f.emit(feed.EventOfferCancelled, offerData(o))
}

func (f *eventFanout) BulkPurchaseInitiated(buyer string, escrows []*escrow.Escrow) {
	ids := make([]int64, len(escrows))
	products := make([]string, len(escrows))
	for i, e := range escrows {
		ids[i] = e.ID
		products[i] = e.ProductID
	}
	f.emit(feed.EventBulkInitiated, map[string]interface{}{
		"buyer":      buyer,
		"escrowIds":  ids,
		"productIds": products,
		"count":      len(escrows),
	})
}

func (f *eventFanout) ProductListed(p *catalog.Product) {
	metrics.ProductsListed.Inc()
	f.emit(feed.EventProductListed, map[string]interface{}{
		"productId":  p.ID,
		"seller":     p.Seller,
		"name":       p.Name,
		"tokenPrice": p.TokenPrice,
		"ethPrice":   p.EthPrice,
		"quantity":   p.Quantity,
	})
}

func (f *eventFanout) ProductDeleted(p *catalog.Product) {
	metrics.ProductsListed.Dec()
	f.emit(feed.EventProductDeleted, map[string]interface{}{
		"productId": p.ID,
		"seller":    p.Seller,
	})
}
