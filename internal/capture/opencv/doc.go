// Package opencv opens real cameras through gocv. The gocv backend needs cgo
// and OpenCV, so it is only linked with -tags=camera_gocv; other builds get an
// Open that always fails with ErrNoBackend.
package opencv
