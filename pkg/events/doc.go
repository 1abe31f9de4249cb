/*
Package events provides Burrow's in-process change broadcast.

The broker carries no data. Components call Notify after any state change;
subscribers (the SSE endpoint and internal listeners) treat each tick as an
instruction to re-read store state. Subscriber channels are buffered and
ticks are dropped under backpressure: a subscriber that receives at least
one tick will observe the latest state on its next read.

A separate one-shot shutdown signal lets long-lived streams close cleanly
when the daemon stops.
*/
package events
