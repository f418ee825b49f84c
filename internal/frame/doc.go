// Package frame defines CaptureFrame, the immutable bundle of one capture
// event (color image, depth buffer, camera intrinsics and pose, timestamps
// and optional geolocation), and the Assembler that builds it from the
// latest reading of each sensor.
//
// A CaptureFrame is either fully populated or not constructed at all. The
// Assembler copies every byte slice it is handed, so a frame stays valid
// even when a sensor reuses its buffers; consumers treat frames as
// read-only.
package frame
