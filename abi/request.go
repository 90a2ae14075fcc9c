package abi

// HeaderView is a pure-Go mirror of the ABI's Header view pair, used off
// the FFI seam (request construction, the simulated-plugin test harness).
type HeaderView struct {
	Key   string
	Value string
}

// RequestView is a pure-Go mirror of the ABI's Request descriptor:
// non-owning views of method, path, query and headers, passed by the caller
// to the Call Dispatcher's non-raw calls (nil for none). The plugin package converts
// this into the frozen C layout only at the point it crosses the FFI seam.
type RequestView struct {
	Method  string
	Path    string
	Query   string
	Headers []HeaderView
}
