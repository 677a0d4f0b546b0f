// Package portaudio is the microphone backend for capture, built on the
// PortAudio C library. It is kept out of package capture so that tests
// and tools that never touch a real microphone do not link against it.
package portaudio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/roach88/yamnet/internal/capture"
)

var _ capture.Device = (*Device)(nil)

// DefaultFramesPerBuffer is the PortAudio host buffer size in frames.
const DefaultFramesPerBuffer = 1024

// Device reads 16-bit mono PCM from the default input device.
// It implements capture.Device.
type Device struct {
	framesPerBuffer int

	mu      sync.Mutex
	stream  *portaudio.Stream
	frames  []int16
	pending []byte
}

// New returns a Device. Nothing is opened until Open.
func New(framesPerBuffer int) *Device {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &Device{framesPerBuffer: framesPerBuffer}
}

// MinBufferSize derives the smallest usable buffer from the default input
// device's low-latency hint.
func (d *Device) MinBufferSize(sampleRate int) (int, error) {
	if err := portaudio.Initialize(); err != nil {
		return 0, fmt.Errorf("initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return 0, fmt.Errorf("default input device: %w", err)
	}
	frames := int(info.DefaultLowInputLatency.Seconds() * float64(sampleRate))
	return max(frames, d.framesPerBuffer) * 2, nil
}

// Open initializes PortAudio and opens a mono input stream. bufferSize is
// accepted for interface symmetry; PortAudio buffers in framesPerBuffer
// chunks and Read repackages them.
func (d *Device) Open(sampleRate, bufferSize int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil {
		return fmt.Errorf("device already open")
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	frames := make([]int16, d.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(frames), frames)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open default stream: %w", err)
	}

	d.stream = stream
	d.frames = frames
	d.pending = make([]byte, 0, max(bufferSize, len(frames)*2))
	return nil
}

// Ready reports whether a stream is open. PortAudio streams are usable as
// soon as OpenDefaultStream returns.
func (d *Device) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return fmt.Errorf("device not open")
	}
	return d.stream.Start()
}

// Read blocks until one host buffer is available, then copies up to len(p)
// bytes. Leftover bytes are served by the next Read.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return 0, fmt.Errorf("device not open")
	}

	if len(d.pending) == 0 {
		if err := d.stream.Read(); err != nil {
			return 0, err
		}
		d.pending = d.pending[:0]
		for _, s := range d.frames {
			d.pending = binary.LittleEndian.AppendUint16(d.pending, uint16(s))
		}
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	return d.stream.Stop()
}

// Close releases the stream and PortAudio itself. Safe to call when not open.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}

	err := d.stream.Close()
	d.stream = nil
	d.frames = nil
	d.pending = nil
	if termErr := portaudio.Terminate(); termErr != nil && err == nil {
		err = termErr
	}
	return err
}
