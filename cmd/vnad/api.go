package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-vna/avmu"
	"github.com/arloliu/go-vna/cal"
	"github.com/arloliu/go-vna/vna"
)

// maxCalibrationUpload bounds the size of an uploaded calibration file.
const maxCalibrationUpload = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
	Kind  string `json:"kind"`
}

type stateResponse struct {
	ID                 string   `json:"id"`
	Handle             string   `json:"handle"`
	State              string   `json:"state"`
	Address            string   `json:"address"`
	Port               int      `json:"port"`
	TimeoutMs          int64    `json:"timeout_ms"`
	HopRate            string   `json:"hop_rate"`
	Attenuation        int      `json:"attenuation"`
	AcquisitionMode    string   `json:"acquisition_mode"`
	Points             int      `json:"points"`
	StartMHz           float64  `json:"start_mhz,omitempty"`
	EndMHz             float64  `json:"end_mhz,omitempty"`
	Calibrated         bool     `json:"calibrated"`
	CalibrationPoints  int      `json:"calibration_points"`
	CalibrationSteps   []string `json:"calibration_steps"`
	FactoryCalibration bool     `json:"factory_calibration"`
	StreamSessions     int      `json:"stream_sessions"`
}

type sweepRequest struct {
	StartMHz float64 `json:"start_mhz"`
	EndMHz   float64 `json:"end_mhz"`
	Points   int     `json:"points"`
}

type sweepResponse struct {
	Requested []float64 `json:"requested"`
	Achieved  []float64 `json:"achieved"`
}

type calibrationResponse struct {
	ID     string `json:"id,omitempty"`
	Points int    `json:"points"`
}

// Handler returns the HTTP API of the daemon.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()

	d.route(mux, "GET /api/v1/state", d.handleState)
	d.route(mux, "GET /api/v1/hardware", d.handleHardware)
	d.route(mux, "GET /api/v1/sweep", d.handleGetSweep)
	d.route(mux, "PUT /api/v1/sweep", d.handlePutSweep)
	d.route(mux, "GET /api/v1/measure", d.handleMeasure)
	d.route(mux, "POST /api/v1/interrupt", d.handleInterrupt)
	d.route(mux, "GET /api/v1/calibration", d.handleExportCalibration)
	d.route(mux, "PUT /api/v1/calibration", d.handleImportCalibration)
	d.route(mux, "DELETE /api/v1/calibration", d.handleClearCalibration)
	d.route(mux, "POST /api/v1/calibration/factory", d.handleFactoryCalibration)
	d.route(mux, "POST /api/v1/calibration/save", d.handleSaveCalibration)
	d.route(mux, "POST /api/v1/calibration/steps/{step}", d.handleCalibrationStep)
	mux.HandleFunc("GET /api/v1/stream", d.hub.serveStream)
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.promReg, promhttp.HandlerOpts{}))

	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (d *Daemon) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		d.metrics.requests.WithLabelValues(pattern, strconv.Itoa(rec.code)).Inc()
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// httpStatus maps an error kind onto the HTTP status reported to the client.
func httpStatus(err error) int {
	switch vna.KindOf(err) {
	case vna.KindState, vna.KindCalibration:
		return http.StatusConflict
	case vna.KindConfigMissing, vna.KindConfigInvalid, vna.KindFrequencyRange:
		return http.StatusBadRequest
	case vna.KindTransport:
		return http.StatusBadGateway
	case vna.KindCancelled:
		return http.StatusServiceUnavailable
	case vna.KindHandle:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (d *Daemon) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError || code == http.StatusBadGateway {
		d.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		d.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Code: int(vna.CodeOf(err)), Kind: vna.KindOf(err).String()})
}

func (d *Daemon) handleState(w http.ResponseWriter, _ *http.Request) {
	t := d.task
	resp := stateResponse{
		ID:                 t.ID(),
		Handle:             d.handle.String(),
		State:              t.State().String(),
		Address:            t.Address(),
		Port:               t.Port(),
		TimeoutMs:          t.Timeout().Milliseconds(),
		HopRate:            t.HopRate().String(),
		Attenuation:        int(t.Attenuation()),
		AcquisitionMode:    t.AcquisitionMode().String(),
		Points:             t.NumberOfFrequencies(),
		Calibrated:         t.IsCalibrationComplete(),
		CalibrationPoints:  t.NumberOfCalibrationFrequencies(),
		CalibrationSteps:   []string{},
		FactoryCalibration: t.HasFactoryCalibration(),
		StreamSessions:     d.hub.Len(),
	}
	if freqs := t.AchievedFrequencies(); len(freqs) > 0 {
		resp.StartMHz, resp.EndMHz = freqs[0], freqs[len(freqs)-1]
	}
	for _, step := range vna.CalSteps {
		if t.HaveCalibrationStep(step) {
			resp.CalibrationSteps = append(resp.CalibrationSteps, step.String())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Daemon) handleHardware(w http.ResponseWriter, r *http.Request) {
	hw := d.task.HardwareDetails()
	if hw.IsZero() {
		d.writeError(w, r, vna.ErrWrongState)
		return
	}
	writeJSON(w, http.StatusOK, hw)
}

func (d *Daemon) handleGetSweep(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, sweepResponse{
		Requested: d.task.RequestedFrequencies(),
		Achieved:  d.task.AchievedFrequencies(),
	})
}

func (d *Daemon) handlePutSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := d.reprogram(r.Context(), req.StartMHz, req.EndMHz, req.Points); err != nil {
		d.writeError(w, r, err)
		return
	}

	d.handleGetSweep(w, r)
}

// handleMeasure returns one calibrated sweep as a Touchstone file.
// The optional "params" query selects S-parameters, e.g. "s11,s21".
func (d *Daemon) handleMeasure(w http.ResponseWriter, r *http.Request) {
	params := vna.SAll
	if q := r.URL.Query().Get("params"); q != "" {
		var err error
		if params, err = vna.ParseSParameter(q); err != nil {
			d.writeError(w, r, err)
			return
		}
	}

	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()

	freqs := d.task.AchievedFrequencies()
	n := len(freqs)
	var out avmu.SParamBuffers
	if params.Has(vna.S11) {
		out.S11 = vna.NewIQ(n)
	}
	if params.Has(vna.S21) {
		out.S21 = vna.NewIQ(n)
	}
	if params.Has(vna.S12) {
		out.S12 = vna.NewIQ(n)
	}
	if params.Has(vna.S22) {
		out.S22 = vna.NewIQ(n)
	}

	if err := d.task.Measure2PortCalibrated(r.Context(), params, out); err != nil {
		d.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := avmu.WriteTouchstone(&buf, freqs, out); err != nil {
		d.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="sweep.s2p"`)
	_, _ = w.Write(buf.Bytes())
}

func (d *Daemon) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := d.task.Interrupt(); err != nil {
		d.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleCalibrationStep(w http.ResponseWriter, r *http.Request) {
	step, err := vna.ParseCalStep(r.PathValue("step"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: int(vna.CodeOf(err)), Kind: vna.KindOf(err).String()})
		return
	}

	d.sweepMu.Lock()
	err = d.task.MeasureCalibrationStep(r.Context(), step)
	d.sweepMu.Unlock()
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	d.handleState(w, r)
}

func (d *Daemon) handleClearCalibration(w http.ResponseWriter, _ *http.Request) {
	d.task.ClearCalibration()
	w.WriteHeader(http.StatusNoContent)
}

func (d *Daemon) handleFactoryCalibration(w http.ResponseWriter, r *http.Request) {
	if err := d.task.ImportFactoryCalibration(r.Context()); err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calibrationResponse{Points: d.task.NumberOfCalibrationFrequencies()})
}

// handleExportCalibration downloads the current calibration as a gzip calibration file.
func (d *Daemon) handleExportCalibration(w http.ResponseWriter, r *http.Request) {
	f, err := d.task.ExportCalibrationFile()
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		d.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.ID+`.cal.gz"`)
	_, _ = w.Write(buf.Bytes())
}

func (d *Daemon) handleImportCalibration(w http.ResponseWriter, r *http.Request) {
	f, err := cal.Decode(http.MaxBytesReader(w, r.Body, maxCalibrationUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		d.writeError(w, r, err)
		return
	}
	if err := d.task.ImportCalibrationFile(f); err != nil {
		d.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, calibrationResponse{ID: f.ID, Points: len(f.Frequencies)})
}

func (d *Daemon) handleSaveCalibration(w http.ResponseWriter, r *http.Request) {
	f, err := d.saveCalibration()
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, calibrationResponse{ID: f.ID, Points: len(f.Frequencies)})
}
