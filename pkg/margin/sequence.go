package margin

// sequence issues strictly increasing identities with no reuse. The
// first identity issued is 1. Owned by the engine instance rather than
// a package-global counter so two engines never share id space.
type sequence struct {
	last uint64
}

func (s *sequence) next() uint64 {
	s.last++
	return s.last
}

func (s *sequence) restore(last uint64) {
	if last > s.last {
		s.last = last
	}
}
