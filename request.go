package beacon

// Request carries a decoded record through a Link's pipeline.
type Request struct {
	// Previous is the selection before this record. On the first record it
	// is whatever the Selection held when the Link started.
	Previous Choice

	// Current is the selection this record asks for. Middleware may rewrite
	// it; the value left here is what gets applied.
	Current Choice

	// Raw is the payload exactly as the watcher emitted it.
	Raw []byte
}

// Changed reports whether applying the request would change the selection.
func (r *Request) Changed() bool {
	return !r.Previous.Equal(r.Current)
}
