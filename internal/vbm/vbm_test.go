package vbm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keahilabs/kahawai/internal/framechan"
	"github.com/keahilabs/kahawai/internal/media"
	"github.com/keahilabs/kahawai/internal/rmem"
)

// fakeKernel stands in for the capture device's queue protocol.
type fakeKernel struct {
	format    *framechan.Format
	formatErr error
	queryLens map[int]int
	queryErr  error
	rejectLen int // reject submissions at exactly this length
	rejectAll bool
	queued    []framechan.Buffer
}

func (k *fakeKernel) Format() (*framechan.Format, error) {
	if k.formatErr != nil {
		return nil, k.formatErr
	}
	if k.format == nil {
		return nil, errors.New("no format")
	}
	return k.format, nil
}

func (k *fakeKernel) QueryBuffer(index int) (int, error) {
	if k.queryErr != nil {
		return 0, k.queryErr
	}
	return k.queryLens[index], nil
}

func (k *fakeKernel) Queue(b framechan.Buffer) error {
	if k.rejectAll || (k.rejectLen != 0 && b.Length == k.rejectLen) {
		return errors.New("invalid argument")
	}
	k.queued = append(k.queued, b)
	return nil
}

func testManager() *Manager {
	return New(rmem.New(rmem.Platform{}))
}

func nv12Format() *framechan.Format {
	return &framechan.Format{Width: 640, Height: 480, Pixel: media.NV12}
}

func TestCreatePoolSizing(t *testing.T) {
	m := testManager()

	// Planar 4:2:0 rounds each dimension up to a 16-pixel multiple.
	p, err := m.CreatePool(0, &framechan.Format{Width: 650, Height: 482, Pixel: media.YV12}, 3)
	require.NoError(t, err)
	assert.Equal(t, 656*496*3/2, p.FrameSize())
	assert.Equal(t, 3, p.Frames())

	f0, err := p.FrameByIndex(0)
	require.NoError(t, err)
	f1, err := p.FrameByIndex(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(p.FrameSize()), f1.Phys-f0.Phys)
	assert.Len(t, f0.Data, p.FrameSize())
	assert.Equal(t, media.YV12, f0.Format)
	assert.Equal(t, 0, f0.Index)
	assert.Equal(t, 1, f1.Index)

	// Packed formats size directly from bits per pixel.
	p2, err := m.CreatePool(1, &framechan.Format{Width: 640, Height: 480, Pixel: media.YUYV}, 0)
	require.NoError(t, err)
	assert.Equal(t, 640*480*2, p2.FrameSize())
	assert.Equal(t, DefaultFrameCount, p2.Frames())
}

func TestCreatePoolInvalid(t *testing.T) {
	m := testManager()

	_, err := m.CreatePool(0, nil, 4)
	assert.Error(t, err)

	// Compressed FourCCs have no frame-size rule.
	mjpg := media.PixelFormat('M' | 'J'<<8 | 'P'<<16 | 'G'<<24)
	_, err = m.CreatePool(0, &framechan.Format{Width: 640, Height: 480, Pixel: mjpg}, 4)
	assert.Error(t, err)

	_, err = m.CreatePool(0, nv12Format(), 4)
	require.NoError(t, err)
	_, err = m.CreatePool(0, nv12Format(), 4)
	assert.Error(t, err)
}

func TestPoolRoundTrip(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 4)
	require.NoError(t, err)

	frames := make([]*media.Frame, 0, 4)
	for i := 0; i < 4; i++ {
		f, err := p.Get()
		require.NoError(t, err)
		assert.Equal(t, i, f.Index)
		frames = append(frames, f)
	}

	_, err = p.Get()
	assert.Equal(t, ErrNoFrame, err)

	require.NoError(t, p.Release(frames[2]))
	f, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index)

	_, err = p.Get()
	assert.Equal(t, ErrNoFrame, err)
}

func TestPrimeUsesKernelLength(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 4)
	require.NoError(t, err)

	k := &fakeKernel{
		format:    &framechan.Format{ImageSize: 999999999},
		queryLens: map[int]int{0: 460800, 1: 460800, 2: 460800, 3: 460800},
	}
	require.NoError(t, p.Prime(k))

	require.Len(t, k.queued, 4)
	for i, b := range k.queued {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, 460800, b.Length)
		f, err := p.FrameByIndex(i)
		require.NoError(t, err)
		assert.Equal(t, f.Phys, b.Phys)
	}
}

func TestPrimeClampsToPoolSize(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 2)
	require.NoError(t, err)

	k := &fakeKernel{queryLens: map[int]int{0: 1 << 30, 1: 1 << 30}}
	require.NoError(t, p.Prime(k))

	for _, b := range k.queued {
		assert.Equal(t, p.FrameSize(), b.Length)
	}
}

func TestPrimeFallbackOrder(t *testing.T) {
	// No kernel answer: the previously-read format's image size wins.
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 2)
	require.NoError(t, err)

	k := &fakeKernel{
		queryErr: errors.New("not supported"),
		format:   &framechan.Format{ImageSize: 123456},
	}
	require.NoError(t, p.Prime(k))
	for _, b := range k.queued {
		assert.Equal(t, 123456, b.Length)
	}

	// No format either: fall back to the 4:2:0 computation. A packed
	// pool makes the difference visible.
	p2, err := m.CreatePool(1, &framechan.Format{Width: 640, Height: 480, Pixel: media.YUYV}, 2)
	require.NoError(t, err)

	k2 := &fakeKernel{
		queryErr:  errors.New("not supported"),
		formatErr: errors.New("not supported"),
	}
	require.NoError(t, p2.Prime(k2))
	for _, b := range k2.queued {
		assert.Equal(t, 640*480*3/2, b.Length)
	}
}

func TestPrimeRetriesAlternateLength(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 4)
	require.NoError(t, err)

	// Kernel advertises a length it then refuses; the retry at the
	// pool's own size must succeed.
	k := &fakeKernel{
		queryLens: map[int]int{0: 100000, 1: 100000, 2: 100000, 3: 100000},
		rejectLen: 100000,
	}
	require.NoError(t, p.Prime(k))

	require.Len(t, k.queued, 4)
	for _, b := range k.queued {
		assert.Equal(t, p.FrameSize(), b.Length)
	}
}

func TestPrimeSurfacesPerBufferFailure(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 4)
	require.NoError(t, err)

	k := &fakeKernel{rejectAll: true}
	err = p.Prime(k)
	assert.Error(t, err)
	assert.Empty(t, k.queued)

	require.NoError(t, m.DestroyPool(0))
}

func TestPrimeTwice(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 2)
	require.NoError(t, err)

	require.NoError(t, p.Prime(&fakeKernel{}))
	assert.Error(t, p.Prime(&fakeKernel{}))
	assert.Error(t, p.Prime(nil))
}

func TestReleaseResubmitsToKernel(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 4)
	require.NoError(t, err)

	k := &fakeKernel{queryLens: map[int]int{0: 460800, 1: 460800, 2: 460800, 3: 460800}}
	require.NoError(t, p.Prime(k))
	require.Len(t, k.queued, 4)

	f, err := p.Get()
	require.NoError(t, err)

	require.NoError(t, p.Release(f))
	require.Len(t, k.queued, 5)
	resub := k.queued[4]
	assert.Equal(t, f.Index, resub.Index)
	assert.Equal(t, f.Phys, resub.Phys)
	assert.Equal(t, 460800, resub.Length)

	// The recycled frame is poppable again.
	f2, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, f.Index, f2.Index)
}

func TestReleaseUnknownFrame(t *testing.T) {
	m := testManager()
	p, err := m.CreatePool(0, nv12Format(), 2)
	require.NoError(t, err)

	assert.Error(t, p.Release(nil))
	assert.Error(t, p.Release(&media.Frame{Index: 0, Phys: 0xdeadbeef}))
	assert.Error(t, p.Release(&media.Frame{Index: 99}))
}

func TestManagerChannelRouting(t *testing.T) {
	m := testManager()

	_, err := m.GetFrame(7)
	assert.Error(t, err)
	assert.Error(t, m.ReleaseFrame(7, &media.Frame{}))
	assert.Error(t, m.Prime(7, &fakeKernel{}))
	assert.Error(t, m.DestroyPool(7))

	_, err = m.CreatePool(7, nv12Format(), 2)
	require.NoError(t, err)

	f, err := m.GetFrame(7)
	require.NoError(t, err)
	require.NoError(t, m.ReleaseFrame(7, f))

	require.NoError(t, m.DestroyPool(7))
	_, err = m.GetFrame(7)
	assert.Error(t, err)
}
