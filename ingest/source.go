package ingest

// SourceKind discriminates the three inbound request shapes.
type SourceKind int

const (
	// SourceFile is raw bytes plus an untrusted name.
	SourceFile SourceKind = iota
	// SourceBase64 is a base64 payload plus an untrusted name.
	SourceBase64
	// SourceURL is a remote address plus fetch options.
	SourceURL
)

// FetchOptions are the per-request knobs for URL ingestion.
type FetchOptions struct {
	// UserAgent overrides the configured User-Agent when non-empty.
	UserAgent string `json:"user_agent,omitempty"`

	// Render requests a headless-browser rendered fetch.
	Render bool `json:"render,omitempty"`

	// Scroll enables the bounded lazy-load scroll loop during rendering.
	Scroll bool `json:"scroll,omitempty"`

	// InlineImages includes base64-inlined images as content units.
	InlineImages bool `json:"inline_images,omitempty"`
}

// Source is one top-level ingestion input.
type Source struct {
	Kind SourceKind

	// Name is the untrusted file name (file and base64 sources).
	Name string

	// Data is the raw content (file sources).
	Data []byte

	// Base64 is the undecoded payload (base64 sources).
	Base64 string

	// URL is the remote address (URL sources).
	URL string

	// Fetch holds URL-source options.
	Fetch FetchOptions
}

// FileSource builds a Source from raw bytes and an untrusted name.
func FileSource(name string, data []byte) Source {
	return Source{Kind: SourceFile, Name: name, Data: data}
}

// Base64Source builds a Source from an undecoded base64 payload.
func Base64Source(name, payload string) Source {
	return Source{Kind: SourceBase64, Name: name, Base64: payload}
}

// URLSource builds a Source from a remote address.
func URLSource(url string, opts FetchOptions) Source {
	return Source{Kind: SourceURL, URL: url, Fetch: opts}
}
