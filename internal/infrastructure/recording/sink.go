package recording

import (
	"bytes"
	"sync"
)

// chunkSink накапливает байты контейнера между выдачами фрагментов
type chunkSink struct {
	mutex  sync.Mutex
	buf    bytes.Buffer
	total  int
	closed bool
}

func (s *chunkSink) Write(p []byte) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	n, err := s.buf.Write(p)
	s.total += n
	return n, err
}

// Close вызывается муксером после записи последнего кластера
func (s *chunkSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

// take забирает накопленные байты, nil если их нет
func (s *chunkSink) take() []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.buf.Len() == 0 {
		return nil
	}
	chunk := make([]byte, s.buf.Len())
	copy(chunk, s.buf.Bytes())
	s.buf.Reset()
	return chunk
}

func (s *chunkSink) written() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.total
}
