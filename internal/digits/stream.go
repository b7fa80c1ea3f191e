package digits

import (
	"io"
	"strconv"
	"strings"

	"pidigits/internal/arena"
)

// Stream yields a fixed number of fractional digits in groups. It is
// single-pass: digits already returned cannot be read again, and producing
// them again needs the source triple.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	arena   arena.Arena
	integer string

	// frac holds the fracLeft not yet peeled digits; scale is 10^fracLeft.
	frac     arena.Int
	scale    arena.Int
	fracLeft int

	pending   []byte
	remaining int
	group     int
	started   bool
	err       error
}

// IntegerPart returns the digits before the decimal point ("3").
func (s *Stream) IntegerPart() string { return s.integer }

// Remaining returns how many fractional digits are still to be returned.
func (s *Stream) Remaining() int { return s.remaining }

// Next returns the next group of at most GroupSize digits, or io.EOF once
// every requested digit has been returned.
func (s *Stream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.remaining == 0 {
		s.release()
		return "", io.EOF
	}
	s.started = true

	want := s.group
	if want > s.remaining {
		want = s.remaining
	}
	for len(s.pending) < want {
		if err := s.peel(); err != nil {
			s.err = err
			return "", err
		}
	}
	out := string(s.pending[:want])
	s.pending = s.pending[want:]
	s.remaining -= want
	if s.remaining == 0 {
		s.release()
	}
	return out, nil
}

// peel moves the next (at most nine) most significant fractional digits
// into pending.
func (s *Stream) peel() error {
	width := chunkDigits
	if width > s.fracLeft {
		width = s.fracLeft
	}
	if width == 0 {
		return io.ErrUnexpectedEOF
	}
	var (
		div arena.Int
		err error
	)
	if width == chunkDigits {
		div = arena.NewInt(chunkBase)
	} else if div, err = s.arena.Pow10(width); err != nil {
		return err
	}
	if s.scale, err = s.arena.Quo(s.scale, div); err != nil {
		return err
	}
	chunk, rest, err := s.arena.QuoRem(s.frac, s.scale)
	if err != nil {
		return err
	}
	v, _ := chunk.Int64()
	digits := strconv.FormatInt(v, 10)
	for i := len(digits); i < width; i++ {
		s.pending = append(s.pending, '0')
	}
	s.pending = append(s.pending, digits...)
	s.frac = rest
	s.fracLeft -= width
	return nil
}

func (s *Stream) release() {
	s.frac = arena.Int{}
	s.scale = arena.Int{}
	s.pending = nil
}

// WriteTo drains the stream into w. On an untouched stream it writes the
// integer part and the decimal point first.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	var n int64
	if !s.started {
		s.started = true
		m, err := io.WriteString(w, s.integer+".")
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	for {
		g, err := s.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		m, err := io.WriteString(w, g)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
}

// Collect drains a fresh stream into "3.14159...".
func Collect(s *Stream) (string, error) {
	var sb strings.Builder
	if _, err := s.WriteTo(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}
