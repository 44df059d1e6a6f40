// Package events defines the dispatch facts emitted on the event bus
// and forwarded to external collaborators.
//
// Available event types:
//   - OfferCreatedEvent: one per issued offer
//   - StatusChangedEvent: applied incident transition
//   - EscalationEvent: automation exhausted, human dispatcher needed
//   - VendorTimeoutEvent: assigned vendor failed to arrive
package events
