// Package codec implements the capture wire format.
//
// A message is laid out as:
//
//	+---------------------+------------------+-------------+-------------+-----------+
//	| metadata length u32 | metadata (JSON)  | image bytes | depth bytes | 0x0A      |
//	| big-endian          | metadata length  | image_length| depth_length| delimiter |
//	+---------------------+------------------+-------------+-------------+-----------+
//
// The metadata document carries intrinsics, pose, timestamps, geolocation
// and the declared segment lengths. The same document, pretty-printed, is
// the meta.json artifact of a local capture directory.
//
// Encoding is deterministic: the same frame always produces the same bytes.
package codec
