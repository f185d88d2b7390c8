// Package doctier is the application-side client for the doc-tiering service.
//
// Applications that upload or read documents report those accesses so the
// tiering policy can keep frequently used documents hot. The client also
// exposes the service's NATS request-reply API for access stats and
// on-demand tiering passes.
//
// # Installation
//
//	go get github.com/gftdcojp/doc-tiering/pkg/doctier
//
// # Basic Usage
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	client, _ := doctier.New(doctier.Config{NC: nc})
//
//	// Fire-and-forget access event
//	client.Touch(ctx, "contracts/lease.pdf", doctier.KindRead)
//
//	// Access stats as the service sees them
//	stats, err := client.Stats(ctx, "contracts/lease.pdf")
//	if errors.Is(err, doctier.ErrNoStats) { ... }
//
// # Subjects
//
//	docs.access.{kind}   access events, JSON {"name", "kind", "at"}
//	tiering.stats.get    access stats for one document
//	tiering.pass.run     run a tiering pass and return its report
//
// Both prefixes are configurable via [Config.AccessPrefix] and
// [Config.APIPrefix].
package doctier
