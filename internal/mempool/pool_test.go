package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"tiny", 1, 1024},
		{"exact minimum", 1024, 1024},
		{"just above", 1025, 2048},
		{"detection frame", 640 * 480, 640 * 480},
		{"odd frame", 641 * 480, 308224},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sizeClass(tt.in))
		})
	}
}

func TestGetBoolIsZeroed(t *testing.T) {
	buf := GetBool(5000)
	require.Len(t, buf, 5000)
	for i := range buf {
		buf[i] = true
	}
	PutBool(buf)

	for range 10 {
		again := GetBool(4500)
		require.Len(t, again, 4500)
		assert.NotContains(t, again, true)
		PutBool(again)
	}
}

func TestGetFloat32IsZeroed(t *testing.T) {
	buf := GetFloat32(3000)
	for i := range buf {
		buf[i] = 7
	}
	PutFloat32(buf)

	again := GetFloat32(3000)
	require.Len(t, again, 3000)
	for _, v := range again {
		require.Zero(t, v)
	}
	assert.GreaterOrEqual(t, cap(again), 3000)
}

func TestZeroLengthAndForeignSlices(t *testing.T) {
	assert.Nil(t, GetBool(0))
	assert.Nil(t, GetFloat32(-1))

	assert.NotPanics(t, func() {
		PutBool(nil)
		PutFloat32(nil)
		PutBool(make([]bool, 10))         // not a class capacity, dropped
		PutFloat32(make([]float32, 1500)) // same
	})

	buf := GetBool(2048)
	assert.Equal(t, 2048, cap(buf))
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				n := 1000 + (w*37+i)%5000
				b := GetBool(n)
				f := GetFloat32(n)
				if len(b) != n || len(f) != n {
					t.Errorf("wrong length for %d", n)
					return
				}
				b[n-1], f[n-1] = true, 1
				PutBool(b)
				PutFloat32(f)
			}
		}()
	}
	wg.Wait()
}
