package remote

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/monitoring"
	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// startServer serves backend on an in-memory listener and returns a client
// wired to it.
func startServer(t *testing.T, backend model.Backend) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(ServerOptions()...)
	NewServer(backend).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	return NewClient("passthrough:///bufnet", WithDialOptions(grpc.WithContextDialer(dialer)), WithLoadTimeout(5*time.Second))
}

func TestClient_RoundTripMatchesInProcess(t *testing.T) {
	ctx := context.Background()
	backend := model.NewProceduralBackend()
	client := startServer(t, backend)

	ckpt := &model.Checkpoint{Args: model.Args{Model: "flow", LatentDim: 3, Flexibility: 0.2}, Categories: []string{"chair"}}
	require.NoError(t, client.Acquire(ctx, "cuda:0", ckpt))
	assert.True(t, backend.Loaded())

	req := model.Request{
		Kind:        model.KindFlow,
		Latent:      mat.NewDense(2, 3, []float64{0.3, -1, 2, 1, 0, -0.5}),
		NumPoints:   32,
		Flexibility: 0.2,
	}
	got, err := client.Decode(ctx, req)
	require.NoError(t, err)
	want, err := backend.Decode(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, client.Release())
	assert.False(t, backend.Loaded())
	require.NoError(t, client.Release(), "second release is a no-op")
}

func TestClient_DecodeBeforeAcquire(t *testing.T) {
	client := NewClient("passthrough:///unused")
	_, err := client.Decode(context.Background(), model.Request{Latent: mat.NewDense(1, 1, nil), NumPoints: 1})
	assert.ErrorIs(t, err, model.ErrNotAcquired)
}

func TestServer_RejectsInvalidDevice(t *testing.T) {
	client := startServer(t, model.NewProceduralBackend())

	err := client.Acquire(context.Background(), "tpu", nil)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_SampleWithoutLoad(t *testing.T) {
	backend := model.NewProceduralBackend()
	srv := NewServer(backend)

	in, err := encodeRequest(model.Request{Kind: model.KindGaussian, Latent: mat.NewDense(1, 2, nil), NumPoints: 4})
	require.NoError(t, err)

	_, err = srv.Sample(context.Background(), in)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestCodec_RejectsMismatchedLatent(t *testing.T) {
	in, err := encodeRequest(model.Request{Kind: model.KindGaussian, Latent: mat.NewDense(2, 2, nil), NumPoints: 4})
	require.NoError(t, err)
	in.Fields["rows"] = in.Fields["cols"]
	in.Fields["cols"] = in.Fields["num_points"]

	_, err = decodeRequest(in)
	assert.Error(t, err)
}

func TestCodec_LoadCarriesCheckpoint(t *testing.T) {
	ckpt := &model.Checkpoint{Args: model.Args{Model: "gaussian", LatentDim: 128, NumSteps: 100, SchedMode: "linear"}, Weights: "/w.pt"}
	s, err := encodeLoad("cpu", ckpt)
	require.NoError(t, err)

	device, got, err := decodeLoad(s)
	require.NoError(t, err)
	assert.Equal(t, model.DeviceCPU, device)
	assert.Equal(t, ckpt.Args, got.Args)
	assert.Equal(t, "/w.pt", got.Weights)
}

func TestClient_AcquireRetriesLogToOpsStream(t *testing.T) {
	var ops bytes.Buffer
	monitoring.SetLogWriters(monitoring.LogWriters{Ops: &ops})
	defer monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr})

	refuse := func(context.Context, string) (net.Conn, error) { return nil, errors.New("connection refused") }
	c := NewClient("passthrough:///down", WithDialOptions(grpc.WithContextDialer(refuse)), WithLoadTimeout(100*time.Millisecond))

	err := c.Acquire(context.Background(), model.DeviceCPU, nil)
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Contains(t, ops.String(), "model server passthrough:///down unavailable (attempt 1)")
}

func TestCodec_RejectsBadSizeFields(t *testing.T) {
	for name, v := range map[string]float64{
		"nan":        math.NaN(),
		"infinite":   math.Inf(1),
		"fractional": 2.5,
		"negative":   -3,
		"huge":       1e18,
	} {
		t.Run(name, func(t *testing.T) {
			req, err := encodeRequest(model.Request{Kind: model.KindGaussian, Latent: mat.NewDense(2, 2, nil), NumPoints: 4})
			require.NoError(t, err)
			req.Fields["num_points"] = structpb.NewNumberValue(v)
			_, err = decodeRequest(req)
			assert.ErrorContains(t, err, `field "num_points"`)

			batch := encodeBatch(pointcloud.Batch{{{X: 1}}})
			batch.Fields["clouds"] = structpb.NewNumberValue(v)
			_, err = decodeBatch(batch)
			assert.ErrorContains(t, err, `field "clouds"`)
		})
	}
}
