// Package cal implements the two-port 12-term (SOLT) error model.
//
// Solve derives the error terms from the seven raw calibration steps, Correct removes them
// from raw measurements and Distort applies them to known S-parameters, which is how the
// instrument simulator produces raw data. Interpolate resamples terms onto another set of
// frequencies, and File persists them to disk.
//
// All measurements are ratios of a signal receiver against the reference receiver. Ideal
// standards are assumed: open = 1, short = -1, load = 0 and a zero-length thru.
package cal
