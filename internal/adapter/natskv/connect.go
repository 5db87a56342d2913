package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Connect dials NATS and returns the KV bucket for the query cache,
// creating it with the given physical TTL if it does not exist. The
// returned close function drains the connection.
func Connect(ctx context.Context, url, bucket string, ttl time.Duration) (jetstream.KeyValue, func(), error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket: bucket,
			TTL:    ttl,
		})
	}
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("kv bucket %q: %w", bucket, err)
	}

	return kv, func() { _ = nc.Drain() }, nil
}
