// Package audit records what happened to work items that ended in the
// dead-letter queue.
//
// A Record is built from a drained dead-letter delivery: its envelope (when
// it decodes), the broker's x-death bookkeeping and the number of processing
// attempts the item received. Records go to a Sink; Store keeps them in
// BadgerDB so they can be listed later with an optional CEL Filter.
package audit
