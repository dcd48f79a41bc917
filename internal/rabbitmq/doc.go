// Package rabbitmq wraps amqp091-go for the retry pipeline.
//
// This package includes:
//   - ConnectionManager: owns the process's AMQP connection
//   - ChannelPool: shares channels between publishers and topology declarations
//   - TopologyManager: declares the main queue, dead-letter exchange and DLQ
//   - Publisher: publishes with optional publisher confirms
//   - Consumer: starts manual-acknowledgment consumers on dedicated channels
//
// Connection loss is reported, not repaired: consumers see their delivery
// channel close and the process supervisor restarts the pipeline.
package rabbitmq
