// Package avmu controls one networked two-port vector network analyzer.
//
// A Task holds the instrument settings, the sweep, and the calibration of one unit, and
// walks through four run states:
//
//	Uninitialized --Initialize--> Stopped --Start--> Started --BeginAsync--> Running
//	      ^                          |  ^               |  ^                    |
//	      +------SetAddress/Port-----+  +------Stop-----+  +-----HaltAsync------+
//
// Configuration setters are legal in Uninitialized and Stopped, frequency setup requires
// Stopped, and measurements require Started or Running. Every operation returns an error
// wrapping one of the vna sentinels; classify it with vna.KindOf or match it with errors.Is.
//
// Example Usage:
//
//	task, _ := avmu.NewTask(avmu.WithTimeout(200 * time.Millisecond))
//	_ = task.SetAddress("192.168.1.197")
//	_ = task.SetPort(1026)
//	_ = task.SetHopRate(vna.Hop45K)
//	_ = task.SetAttenuation(0)
//
//	if err := task.Initialize(ctx, nil, nil); err != nil {
//	    // handle error
//	}
//	_ = task.GenerateLinearSweep(1000, 2000, 401)
//	_ = task.Start(ctx)
//
//	buf := avmu.PathBuffers{T1R1: vna.NewIQ(401)}
//	err := task.MeasureUncalibrated(ctx, vna.PathT1R1, buf)
//
// A Task is safe for use by multiple goroutines, but operations are serialized: a second
// call blocks until the running one returns. Interrupt and State never block and can be used
// to cancel a measurement from another goroutine.
package avmu
