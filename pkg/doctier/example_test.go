package doctier_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gftdcojp/doc-tiering/pkg/doctier"
	"github.com/nats-io/nats.go"
)

func Example() {
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		log.Fatal(err)
	}
	defer nc.Close()

	client, err := doctier.New(doctier.Config{NC: nc})
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	// Report an upload, then a read that waits for the service.
	client.Touch(ctx, "contracts/lease.pdf", doctier.KindUpload)
	n, err := client.TouchSync(ctx, "contracts/lease.pdf", doctier.KindRead)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("accesses:", n)

	stats, err := client.Stats(ctx, "contracts/lease.pdf")
	switch {
	case errors.Is(err, doctier.ErrNoStats):
		fmt.Println("never seen")
	case err != nil:
		log.Fatal(err)
	default:
		fmt.Println("tier:", stats.Tier)
	}
}

func ExampleClient_RunPass() {
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		log.Fatal(err)
	}
	defer nc.Close()

	client, _ := doctier.New(doctier.Config{NC: nc, Timeout: time.Minute})
	rep, err := client.RunPass(context.Background(), time.Time{})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("moved %d, archived %d, deleted %d\n", len(rep.Moved), len(rep.Archived), len(rep.Deleted))
}
