package fingerprint

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrimary struct {
	cpuID     string
	serial    string
	cpuErr    error
	serialErr error
}

func (f fakePrimary) ProcessorID() (string, error)   { return f.cpuID, f.cpuErr }
func (f fakePrimary) StorageSerial() (string, error) { return f.serial, f.serialErr }

type fakeFallback struct {
	hostname string
	username string
	hostErr  error
	userErr  error
}

func (f fakeFallback) Hostname() (string, error) { return f.hostname, f.hostErr }
func (f fakeFallback) Username() (string, error) { return f.username, f.userErr }

func TestResolvePrimary(t *testing.T) {
	r := NewResolver(
		fakePrimary{cpuID: "GenuineIntel-6-8E", serial: "WD-1234"},
		fakeFallback{hostname: "desktop", username: "alice"},
		nil,
	)

	fp, err := r.Resolve(context.Background())
	require.NoError(t, err)

	assert.False(t, fp.Degraded)
	assert.Len(t, fp.Value, 32)
	// base64 alphabet, fixed length
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9+/]{32}$`), fp.Value)
}

func TestResolveDeterministic(t *testing.T) {
	newResolver := func() *Resolver {
		return NewResolver(
			fakePrimary{cpuID: "cpu-a", serial: "disk-b"},
			fakeFallback{},
			nil,
		)
	}

	fp1, err := newResolver().Resolve(context.Background())
	require.NoError(t, err)
	fp2, err := newResolver().Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fp1.Value, fp2.Value, "fingerprint must be stable across process restarts")
}

func TestResolveDifferentHardwareDiverges(t *testing.T) {
	fpA, err := NewResolver(fakePrimary{cpuID: "cpu-a", serial: "disk"}, fakeFallback{}, nil).
		Resolve(context.Background())
	require.NoError(t, err)
	fpB, err := NewResolver(fakePrimary{cpuID: "cpu-b", serial: "disk"}, fakeFallback{}, nil).
		Resolve(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, fpA.Value, fpB.Value)
}

func TestResolveFallbackOnProbeFailure(t *testing.T) {
	tests := []struct {
		name    string
		primary fakePrimary
	}{
		{
			name:    "processor probe fails",
			primary: fakePrimary{cpuErr: fmt.Errorf("unsupported"), serial: "disk"},
		},
		{
			name:    "storage probe fails",
			primary: fakePrimary{cpuID: "cpu", serialErr: fmt.Errorf("no privilege")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.primary, fakeFallback{hostname: "desktop", username: "alice"}, nil)

			fp, err := r.Resolve(context.Background())
			require.NoError(t, err, "probe failures must never be fatal")

			assert.True(t, fp.Degraded)
			// Fallback is the raw concatenation, not a hash.
			assert.Equal(t, "desktopalice", fp.Value)
		})
	}
}

func TestResolveFallbackWhenProbesDisabled(t *testing.T) {
	r := NewResolver(nil, fakeFallback{hostname: "vm-01", username: "svc"}, nil)

	fp, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, fp.Degraded)
	assert.Equal(t, "vm-01svc", fp.Value)
}

func TestResolveFallbackSourceFailure(t *testing.T) {
	r := NewResolver(nil, fakeFallback{
		hostErr: fmt.Errorf("no hostname"),
		userErr: fmt.Errorf("no user"),
	}, nil)

	fp, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, fp.Degraded)
	assert.Equal(t, "unknown-hostunknown-user", fp.Value)
}

func TestResolveCachesResult(t *testing.T) {
	r := NewResolver(fakePrimary{cpuID: "cpu", serial: "disk"}, fakeFallback{}, nil)

	first, err := r.Resolve(context.Background())
	require.NoError(t, err)

	// Swap the source; the cached value must win.
	r.primary = fakePrimary{cpuID: "other", serial: "other"}
	second, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Value, second.Value)
}

func TestResolveConcurrent(t *testing.T) {
	r := NewResolver(fakePrimary{cpuID: "cpu", serial: "disk"}, fakeFallback{}, nil)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp, err := r.Resolve(context.Background())
			require.NoError(t, err)
			results[i] = fp.Value
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, results[0], v)
	}
}
