// Package progress implements the per-session Progress Tracker.
//
// Items are finalised strictly in discovery order: the cursor only moves past the item it
// points at. After a restart with the same session id, Remaining returns exactly the items
// that were not finalised, in their original order.
package progress
