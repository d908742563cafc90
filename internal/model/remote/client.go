package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/monitoring"
	"github.com/banshee-data/pointgen/internal/pointcloud"
)

const (
	defaultLoadTimeout = 2 * time.Minute
	unloadTimeout      = 10 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithDialOptions appends gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithLoadTimeout bounds how long Acquire keeps retrying an unavailable server.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Client) { c.loadTimeout = d }
}

// Client is a model.Backend backed by a remote model server.
type Client struct {
	addr        string
	dialOpts    []grpc.DialOption
	loadTimeout time.Duration

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewClient returns a client for the model server at addr. No connection is
// made until Acquire.
func NewClient(addr string, opts ...Option) *Client {
	c := &Client{
		addr: addr,
		dialOpts: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize), grpc.MaxCallSendMsgSize(maxMsgSize)),
		},
		loadTimeout: defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire connects and asks the server to load the checkpoint on device.
// Unavailable servers are retried with exponential backoff so the
// generator can start alongside a booting model server.
func (c *Client) Acquire(ctx context.Context, device model.Device, ckpt *model.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return fmt.Errorf("model server %s already acquired", c.addr)
	}

	req, err := encodeLoad(device, ckpt)
	if err != nil {
		return fmt.Errorf("encode load request: %w", err)
	}

	conn, err := grpc.NewClient(c.addr, c.dialOpts...)
	if err != nil {
		return fmt.Errorf("connect to model server %s: %w", c.addr, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.loadTimeout
	attempt := 0
	load := func() error {
		attempt++
		err := conn.Invoke(ctx, methodLoad, req, &structpb.Struct{})
		if status.Code(err) == codes.Unavailable {
			monitoring.Opsf("model server %s unavailable (attempt %d): %v", c.addr, attempt, err)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(load, backoff.WithContext(policy, ctx)); err != nil {
		conn.Close()
		return fmt.Errorf("load model on %s: %w", c.addr, err)
	}

	c.conn = conn
	return nil
}

// Decode sends one batch of latents. Failures are not retried.
func (c *Client) Decode(ctx context.Context, req model.Request) (pointcloud.Batch, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, model.ErrNotAcquired
	}

	in, err := encodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode sample request: %w", err)
	}
	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, methodSample, in, out); err != nil {
		return nil, err
	}
	batch, err := decodeBatch(out)
	if err != nil {
		return nil, fmt.Errorf("decode sample response: %w", err)
	}
	return batch, nil
}

// Release unloads the model and closes the connection. Releasing an
// unacquired client is a no-op.
func (c *Client) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	unloadErr := c.conn.Invoke(ctx, methodUnload, &structpb.Struct{}, &structpb.Struct{})
	closeErr := c.conn.Close()
	c.conn = nil

	if unloadErr != nil {
		return fmt.Errorf("unload model on %s: %w", c.addr, unloadErr)
	}
	return closeErr
}
