package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/passerbya/xavs/ratecontrol"
)

// traceRecord is one line of the frame trace.
type traceRecord struct {
	Index     int     `json:"index"`
	Type      string  `json:"type"`
	QP        int     `json:"qp"`
	AvgQP     float64 `json:"avg_qp"`
	Bits      int64   `json:"bits"`
	Target    float64 `json:"target"`
	Fill      float64 `json:"fill"`
	Forced    bool    `json:"forced,omitempty"`
	Saturated bool    `json:"saturated,omitempty"`
}

// traceWriter streams folded frames as zstd-compressed JSON lines.
type traceWriter struct {
	file   io.Closer
	zw     *zstd.Encoder
	enc    *json.Encoder
	frames int
	err    error
}

func createTrace(path string) (*traceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create trace")
	}
	t, err := newTraceWriter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	t.file = f
	return t, nil
}

func newTraceWriter(w io.Writer) (*traceWriter, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "zstd encoder")
	}
	return &traceWriter{zw: zw, enc: json.NewEncoder(zw)}, nil
}

// record is installed as the controller's frame hook. The first write
// error is kept and reported by Close.
func (t *traceWriter) record(fs ratecontrol.FrameStats) {
	if t.err != nil {
		return
	}
	t.err = t.enc.Encode(traceRecord{
		Index:     fs.Index,
		Type:      fs.Type.String(),
		QP:        fs.QP,
		AvgQP:     fs.AvgQP,
		Bits:      fs.Bits,
		Target:    fs.Target,
		Fill:      fs.BufferFill,
		Forced:    fs.Forced,
		Saturated: fs.Saturated,
	})
	if t.err == nil {
		t.frames++
	}
}

func (t *traceWriter) Close() error {
	err := t.err
	if cerr := t.zw.Close(); err == nil {
		err = cerr
	}
	if t.file != nil {
		if cerr := t.file.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "trace")
}
