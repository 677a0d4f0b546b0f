package testutil

import "sync"

// FakeModel is a scriptable inference model. It satisfies classify.Model.
type FakeModel struct {
	mu sync.Mutex

	// Scores is returned by every Infer call.
	Scores []float32
	// Width overrides OutputWidth; zero means len(Scores).
	Width int
	Err   error
	// Panic, if non-nil, is raised inside Infer.
	Panic any

	Calls  int
	Inputs [][]float32
	Closed bool
}

func (m *FakeModel) Infer(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.Inputs = append(m.Inputs, append([]float32(nil), input...))
	if m.Panic != nil {
		panic(m.Panic)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]float32(nil), m.Scores...), nil
}

func (m *FakeModel) OutputWidth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Width > 0 {
		return m.Width
	}
	return len(m.Scores)
}

func (m *FakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// RampScores returns n scores where class i scores i/n, so the highest
// index ranks first.
func RampScores(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(i) / float32(n)
	}
	return s
}
