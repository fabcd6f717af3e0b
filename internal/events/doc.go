// Package events fans authentication events out to subscribers.
//
// Emit never blocks the caller: events enter a buffered queue drained by one
// goroutine, which delivers to each subscriber channel in emission order.
// A subscriber whose channel is full misses the event and the drop is
// counted. Subscribers never see events emitted before they subscribed.
package events
