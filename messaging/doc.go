// Package messaging implements the retry-and-dead-letter pipeline on top of
// the rabbitmq transport.
//
// This package provides:
//   - Producer: publishes work item envelopes to the main queue
//   - RetryConsumer: processes work items, republishing failures with an
//     incremented counter until the retry bound is reached, then
//     dead-lettering them
//   - DrainConsumer: empties the dead-letter queue into an audit sink
//   - DeliveryHandle: resolves a delivery exactly once
//
// Per delivery the retry consumer moves from received to exactly one of:
//
//	Succeeded         processor returned nil           ack
//	RetriedTransient  failure, attempts remain         publish copy with retries+1, then ack
//	DeadLettered      failure, no attempts remain      reject without requeue
//	Poisoned          body is not a valid envelope     reject without requeue
//
// Example usage:
//
//	producer := messaging.NewProducer(publisher, "main_queue")
//	err := producer.Publish(ctx, envelope.NewWorkItem("Hello RabbitMQ!"))
//
//	consumer := messaging.NewRetryConsumer(source, producer, processor, "main_queue",
//	    messaging.WithMaxRetries(5))
//	err = consumer.Run(ctx)
package messaging
