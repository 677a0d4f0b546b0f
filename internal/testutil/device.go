package testutil

import (
	"sync"
)

// FakeDevice is a scriptable 16-bit PCM input for capture tests.
//
// With no Source it produces an endless ramp (byte(offset)), so the
// captured bytes identify their own position in the stream. Once a Source
// is exhausted every Read returns 0 bytes, which simulates a stalled device.
type FakeDevice struct {
	mu sync.Mutex

	MinBuffer    int
	MinBufferErr error
	OpenErr      error
	StartErr     error
	StopErr      error
	CloseErr     error
	ReadErr      error

	// ReadyAfter is the number of Ready calls that report false first.
	// Negative means the device never becomes ready.
	ReadyAfter int

	// Source, if set, is the finite stream Read serves.
	Source []byte
	// ChunkSize caps bytes returned per Read. Zero means len(p).
	ChunkSize int
	// OnRead runs before every Read, e.g. to advance a ManualClock.
	OnRead func()

	offset     int
	readyCalls int

	OpenRate   int
	OpenBuffer int
	Opens      int
	Starts     int
	Stops      int
	Closes     int
	ReadSizes  []int
}

func (d *FakeDevice) MinBufferSize(sampleRate int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.MinBuffer, d.MinBufferErr
}

func (d *FakeDevice) Open(sampleRate, bufferSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.Opens++
	d.OpenRate = sampleRate
	d.OpenBuffer = bufferSize
	d.readyCalls = 0
	return nil
}

func (d *FakeDevice) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyCalls++
	if d.ReadyAfter < 0 {
		return false
	}
	return d.readyCalls > d.ReadyAfter
}

func (d *FakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	d.Starts++
	return nil
}

func (d *FakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	hook := d.OnRead
	d.mu.Unlock()
	if hook != nil {
		hook()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ReadSizes = append(d.ReadSizes, len(p))
	if d.ReadErr != nil {
		return 0, d.ReadErr
	}

	n := len(p)
	if d.ChunkSize > 0 && d.ChunkSize < n {
		n = d.ChunkSize
	}
	if d.Source != nil {
		n = copy(p[:n], d.Source[min(d.offset, len(d.Source)):])
	} else {
		for i := 0; i < n; i++ {
			p[i] = byte(d.offset + i)
		}
	}
	d.offset += n
	return n, nil
}

func (d *FakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Stops++
	return d.StopErr
}

func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closes++
	return d.CloseErr
}

// Released reports whether every Open was matched by a Close.
func (d *FakeDevice) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Opens == d.Closes
}
