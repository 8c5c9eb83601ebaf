package index

import "errors"

var (
	// ErrEmptyIndex is returned by Search when there is nothing indexed to
	// search against (either globally or within the requested document).
	ErrEmptyIndex = errors.New("index: no entries indexed")

	// ErrDimensionMismatch is returned by Add and Search when a vector does
	// not match the dimension the index was created with. Add rejects the
	// whole batch; nothing is written.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

	// ErrCorrupt is returned on load when a partition's vector file and
	// metadata table disagree about entry count or dimension.
	ErrCorrupt = errors.New("index: stored vectors and metadata disagree")
)
