// Package storage provides the object store holding uploaded images.
package storage

// Provider abstracts blob storage for uploaded images. Keys are opaque
// relative paths chosen by the caller.
type Provider interface {
	// Get returns the blob and its recorded content type. A missing key is
	// reported as a wrapped os.ErrNotExist.
	Get(key string) ([]byte, string, error)
	Put(key string, data []byte, contentType string) error
	Delete(key string) error
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
