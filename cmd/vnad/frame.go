package main

import (
	"context"
	"math"
	"math/cmplx"
	"time"

	"github.com/arloliu/go-vna/avmu"
	"github.com/arloliu/go-vna/internal/util"
	"github.com/arloliu/go-vna/vna"
)

// sweepFrame is one measured sweep as streamed to websocket subscribers.
// Calibrated frames carry S-parameters keyed "s11".."s22"; uncalibrated frames carry
// the matching receiver ratios keyed by path, e.g. "t1r2" for s21.
type sweepFrame struct {
	Seq         uint64                  `json:"seq"`
	Timestamp   int64                   `json:"timestamp"`
	Serial      int                     `json:"serial"`
	Calibrated  bool                    `json:"calibrated"`
	Frequencies []float64               `json:"frequencies"`
	Data        map[string][][2]float64 `json:"data"`
}

// paramPaths maps each S-parameter onto the receiver path measuring it uncorrected.
var paramPaths = map[vna.SParameter]vna.Path{
	vna.S11: vna.PathT1R1,
	vna.S21: vna.PathT1R2,
	vna.S12: vna.PathT2R1,
	vna.S22: vna.PathT2R2,
}

var paramOrder = [...]vna.SParameter{vna.S11, vna.S21, vna.S12, vna.S22}

func (d *Daemon) measureFrame(ctx context.Context, params vna.SParameter) (*sweepFrame, error) {
	freqs := d.task.AchievedFrequencies()
	n := len(freqs)

	frame := &sweepFrame{
		Seq:         d.seq.Add(1),
		Timestamp:   time.Now().UnixMilli(),
		Serial:      d.task.HardwareDetails().SerialNumber,
		Calibrated:  d.task.IsCalibrationComplete(),
		Frequencies: freqs,
		Data:        make(map[string][][2]float64, 4),
	}

	if frame.Calibrated {
		var out avmu.SParamBuffers
		bufs := map[vna.SParameter]*vna.IQ{vna.S11: &out.S11, vna.S21: &out.S21, vna.S12: &out.S12, vna.S22: &out.S22}
		for _, p := range paramOrder {
			if params.Has(p) {
				*bufs[p] = vna.NewIQ(n)
			}
		}
		if err := d.task.Measure2PortCalibrated(ctx, params, out); err != nil {
			return nil, err
		}
		for _, p := range paramOrder {
			if params.Has(p) {
				frame.Data[p.String()] = pairs(bufs[p].Complex(n))
			}
		}

		return frame, nil
	}

	var paths vna.Path
	buf := avmu.PathBuffers{Ref: vna.NewIQ(n)}
	bufs := map[vna.Path]*vna.IQ{vna.PathT1R1: &buf.T1R1, vna.PathT1R2: &buf.T1R2, vna.PathT2R1: &buf.T2R1, vna.PathT2R2: &buf.T2R2}
	for _, p := range paramOrder {
		if params.Has(p) {
			paths |= paramPaths[p]
			*bufs[paramPaths[p]] = vna.NewIQ(n)
		}
	}
	if err := d.task.MeasureUncalibrated(ctx, paths, buf); err != nil {
		return nil, err
	}
	ref := buf.Ref.Complex(n)
	for _, p := range paramOrder {
		if params.Has(p) {
			path := paramPaths[p]
			frame.Data[path.String()] = pairs(util.DivideComplex(bufs[path].Complex(n), ref))
		}
	}

	return frame, nil
}

func pairs(v []complex128) [][2]float64 {
	out := make([][2]float64, len(v))
	for i, c := range v {
		out[i] = [2]float64{real(c), imag(c)}
	}

	return out
}

// traceSummary condenses one trace of a frame for MQTT.
type traceSummary struct {
	MinDB     float64 `json:"min_db"`
	MaxDB     float64 `json:"max_db"`
	MinDBFreq float64 `json:"min_db_mhz"`
	MaxDBFreq float64 `json:"max_db_mhz"`
	MinVSWR   float64 `json:"min_vswr,omitempty"`
}

// sweepSummary is the MQTT payload of a frame.
type sweepSummary struct {
	Seq        uint64                  `json:"seq"`
	Timestamp  int64                   `json:"timestamp"`
	Serial     int                     `json:"serial"`
	Calibrated bool                    `json:"calibrated"`
	Points     int                     `json:"points"`
	StartMHz   float64                 `json:"start_mhz"`
	EndMHz     float64                 `json:"end_mhz"`
	Traces     map[string]traceSummary `json:"traces"`
}

func summarize(f *sweepFrame) *sweepSummary {
	s := &sweepSummary{
		Seq:        f.Seq,
		Timestamp:  f.Timestamp,
		Serial:     f.Serial,
		Calibrated: f.Calibrated,
		Points:     len(f.Frequencies),
		Traces:     make(map[string]traceSummary, len(f.Data)),
	}
	if len(f.Frequencies) > 0 {
		s.StartMHz = f.Frequencies[0]
		s.EndMHz = f.Frequencies[len(f.Frequencies)-1]
	}

	for name, trace := range f.Data {
		ts := traceSummary{MinDB: math.Inf(1), MaxDB: math.Inf(-1)}
		iq := vna.NewIQ(len(trace))
		for i, p := range trace {
			iq.I[i], iq.Q[i] = p[0], p[1]
			db := 20 * math.Log10(cmplx.Abs(complex(p[0], p[1])))
			if db < ts.MinDB {
				ts.MinDB, ts.MinDBFreq = db, f.Frequencies[i]
			}
			if db > ts.MaxDB {
				ts.MaxDB, ts.MaxDBFreq = db, f.Frequencies[i]
			}
		}
		// reflection traces
		if f.Calibrated && (name == vna.S11.String() || name == vna.S22.String()) {
			ts.MinVSWR = avmu.MaxVSWR
			for _, v := range avmu.VSWR(iq, iq.Len()) {
				ts.MinVSWR = min(ts.MinVSWR, v)
			}
		}
		s.Traces[name] = ts
	}

	return s
}
