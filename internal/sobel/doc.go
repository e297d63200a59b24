// Package sobel implements the edge-detection transform applied to uploaded images.
//
// # Algorithm
//
// The input is reduced to 8-bit intensity with [color.GrayModel], then convolved with the
// classic 3×3 Sobel kernels:
//
//	Gx = [-1 0 1]    Gy = [-1 -2 -1]
//	     [-2 0 2]         [ 0  0  0]
//	     [-1 0 1]         [ 1  2  1]
//
// The output pixel is sqrt(Gx² + Gy²) rounded half away from zero and clamped to 0-255.
//
// # Borders
//
// Neighbours outside the image are clamped to the nearest edge pixel (clamp-to-edge). A uniform
// image therefore produces zero magnitude everywhere, borders included.
//
// # Output
//
// [Process] always returns a single-channel [*image.Gray] with the input's dimensions, and
// [Encode] always writes it as grayscale PNG regardless of the container the input arrived in.
//
// # Codec
//
// [Decode] accepts PNG, JPEG, GIF, BMP, TIFF and WebP. Undecodable payloads wrap [ErrDecode];
// encoder failures wrap [ErrEncode]. Neither is a framing error.
//
// Nothing in this package holds mutable package-level state, so every function is safe for
// concurrent use.
package sobel
