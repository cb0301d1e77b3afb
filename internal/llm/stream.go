package llm

// SliceStream replays a fixed list of fragments. It is used for canned
// responses and in tests.
type SliceStream struct {
	chunks []string
	pos    int
	err    error
	closed bool
}

// NewSliceStream returns a stream over chunks. If err is non-nil it is
// reported after the last chunk.
func NewSliceStream(err error, chunks ...string) *SliceStream {
	return &SliceStream{chunks: chunks, pos: -1, err: err}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.chunks) {
		s.pos = len(s.chunks)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Current() string {
	if s.pos < 0 || s.pos >= len(s.chunks) {
		return ""
	}
	return s.chunks[s.pos]
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.chunks) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }

// Collect drains a stream into a single string and closes it.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var out []byte
	for s.Next() {
		out = append(out, s.Current()...)
	}
	return string(out), s.Err()
}
