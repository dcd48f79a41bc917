// Package envelope encodes work items for the main queue.
//
// An envelope is a flat JSON object: the business keys of a WorkItem plus a
// reserved "retries" counter recording how many times the item has been
// republished after a failed processing attempt.
//
//	{"message":"Hello RabbitMQ!","retries":0}
//
// Decode treats a missing counter as a first attempt. Payloads that are not
// a JSON object, or whose reserved keys have the wrong type, fail with an
// error matching ErrMalformedEnvelope; consumers treat those as poison
// messages.
package envelope
