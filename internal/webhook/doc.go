// Package webhook normalizes GitHub webhook deliveries into repository
// events.
//
// Only the fields the trigger matcher needs are decoded. Deliveries
// that carry no actionable event (an unmerged PR close, an unknown
// event name) normalize to nil without error; malformed payloads are
// errors.
package webhook
