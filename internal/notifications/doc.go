// Package notifications publishes bundle lifecycle events for external
// collaborators such as the email sender.
//
// Two transports are available: an HTTP webhook that receives one JSON
// document per event, and a Kafka topic keyed by bundle id. Either, both, or
// neither may be configured; with neither the service is a no-op. Workflow
// code depends only on the Service interface.
package notifications
