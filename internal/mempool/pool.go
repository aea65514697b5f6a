// Package mempool recycles the per-frame scratch slices of label alignment.
// Edge masks and gray planes are the size of the detection image, so every
// aligned frame would otherwise allocate several of them.
package mempool

import "sync"

const classStep = 1024

var (
	float32Pools sync.Map // size class -> *sync.Pool of []float32
	boolPools    sync.Map // size class -> *sync.Pool of []bool
)

// sizeClass rounds n up to a multiple of classStep, minimum classStep.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor[T any](pools *sync.Map, cls int) *sync.Pool {
	if p, ok := pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	return p.(*sync.Pool)
}

func get[T any](pools *sync.Map, n int) []T {
	if n <= 0 {
		return nil
	}
	cls := sizeClass(n)
	buf, ok := poolFor[T](pools, cls).Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

func put[T any](pools *sync.Map, buf []T) {
	// Only exact class capacities go back, so a pool never hands out short slices.
	c := cap(buf)
	if c == 0 || c%classStep != 0 {
		return
	}
	poolFor[T](pools, c).Put(buf[:c]) //nolint:staticcheck
}

// GetFloat32 returns a zeroed slice of length n. Release it with PutFloat32.
func GetFloat32(n int) []float32 { return get[float32](&float32Pools, n) }

// PutFloat32 recycles buf. nil and foreign slices are ignored.
func PutFloat32(buf []float32) { put(&float32Pools, buf) }

// GetBool returns a zeroed slice of length n. Release it with PutBool.
func GetBool(n int) []bool { return get[bool](&boolPools, n) }

// PutBool recycles buf. nil and foreign slices are ignored.
func PutBool(buf []bool) { put(&boolPools, buf) }
