package common

// ImportedTexture holds texture image data as produced by an asset import,
// either referenced by path or embedded as raw encoded bytes.
type ImportedTexture struct {
	// Name is an identifier for this texture (e.g., "diffuse", "normal").
	Name string

	// Path is the file path for external textures (empty for embedded).
	Path string

	// Data contains raw image bytes for embedded textures (PNG/JPEG).
	Data []byte

	// MimeType indicates the image format (e.g., "image/png", "image/jpeg").
	MimeType string

	// Width is the texture width in pixels (populated after decode).
	Width int

	// Height is the texture height in pixels (populated after decode).
	Height int
}
