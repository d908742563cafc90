package remote

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/pointcloud"
)

// Messages are google.protobuf.Struct values so that the model server can
// be written in any language without sharing generated code.

func numberList(vals []float64) *structpb.Value {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(vals))}
	for i, v := range vals {
		list.Values[i] = structpb.NewNumberValue(v)
	}
	return structpb.NewListValue(list)
}

func readNumbers(s *structpb.Struct, key string) ([]float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %q is not a list", key)
	}
	out := make([]float64, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d] is not a number", key, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

// maxWireDim bounds every size field so that products of sizes cannot
// overflow before they are checked against the payload length.
const maxWireDim = 1 << 24

// readInt reads a size field, which must be a whole number in
// [0, maxWireDim].
func readInt(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("field %q is not a number", key)
	}
	f := n.NumberValue
	if math.IsNaN(f) || f != math.Trunc(f) || f < 0 || f > maxWireDim {
		return 0, fmt.Errorf("field %q: %v is not a size in [0, %d]", key, f, maxWireDim)
	}
	return int(f), nil
}

func encodeLoad(device model.Device, ckpt *model.Checkpoint) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{"device": structpb.NewStringValue(string(device))}
	if ckpt != nil {
		data, err := json.Marshal(ckpt)
		if err != nil {
			return nil, err
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		cs, err := structpb.NewStruct(m)
		if err != nil {
			return nil, err
		}
		fields["checkpoint"] = structpb.NewStructValue(cs)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func decodeLoad(s *structpb.Struct) (model.Device, *model.Checkpoint, error) {
	device := model.Device(s.GetFields()["device"].GetStringValue())
	cs := s.GetFields()["checkpoint"].GetStructValue()
	if cs == nil {
		return device, nil, nil
	}
	data, err := json.Marshal(cs.AsMap())
	if err != nil {
		return "", nil, err
	}
	ckpt := &model.Checkpoint{}
	if err := json.Unmarshal(data, ckpt); err != nil {
		return "", nil, err
	}
	return device, ckpt, nil
}

func encodeRequest(req model.Request) (*structpb.Struct, error) {
	if req.Latent == nil {
		return nil, fmt.Errorf("nil latent")
	}
	rows, cols := req.Latent.Dims()
	flat := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		flat = append(flat, req.Latent.RawRowView(i)...)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":        structpb.NewStringValue(string(req.Kind)),
		"num_points":  structpb.NewNumberValue(float64(req.NumPoints)),
		"flexibility": structpb.NewNumberValue(req.Flexibility),
		"rows":        structpb.NewNumberValue(float64(rows)),
		"cols":        structpb.NewNumberValue(float64(cols)),
		"latent":      numberList(flat),
	}}, nil
}

func decodeRequest(s *structpb.Struct) (model.Request, error) {
	rows, err := readInt(s, "rows")
	if err != nil {
		return model.Request{}, err
	}
	cols, err := readInt(s, "cols")
	if err != nil {
		return model.Request{}, err
	}
	numPoints, err := readInt(s, "num_points")
	if err != nil {
		return model.Request{}, err
	}
	flat, err := readNumbers(s, "latent")
	if err != nil {
		return model.Request{}, err
	}
	if rows < 1 || cols < 1 || len(flat) != rows*cols {
		return model.Request{}, fmt.Errorf("latent of %d values does not match %dx%d", len(flat), rows, cols)
	}
	kind, err := model.ParseKind(s.GetFields()["kind"].GetStringValue())
	if err != nil {
		return model.Request{}, err
	}
	return model.Request{
		Kind:        kind,
		Latent:      mat.NewDense(rows, cols, flat),
		NumPoints:   numPoints,
		Flexibility: s.GetFields()["flexibility"].GetNumberValue(),
	}, nil
}

func encodeBatch(b pointcloud.Batch) *structpb.Struct {
	flat := make([]float64, 0, len(b)*b.NumPoints()*3)
	for _, c := range b {
		for _, p := range c {
			flat = append(flat, p.X, p.Y, p.Z)
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"clouds":     structpb.NewNumberValue(float64(len(b))),
		"num_points": structpb.NewNumberValue(float64(b.NumPoints())),
		"points":     numberList(flat),
	}}
}

func decodeBatch(s *structpb.Struct) (pointcloud.Batch, error) {
	clouds, err := readInt(s, "clouds")
	if err != nil {
		return nil, err
	}
	numPoints, err := readInt(s, "num_points")
	if err != nil {
		return nil, err
	}
	flat, err := readNumbers(s, "points")
	if err != nil {
		return nil, err
	}
	if clouds < 0 || numPoints < 0 || len(flat) != clouds*numPoints*3 {
		return nil, fmt.Errorf("%d coordinates do not match %d clouds of %d points", len(flat), clouds, numPoints)
	}

	b := make(pointcloud.Batch, clouds)
	for i := range b {
		c := make(pointcloud.Cloud, numPoints)
		for j := range c {
			off := (i*numPoints + j) * 3
			c[j] = pointcloud.Point{X: flat[off], Y: flat[off+1], Z: flat[off+2]}
		}
		b[i] = c
	}
	return b, nil
}
