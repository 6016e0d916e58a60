package interfaces

import "context"

// MediaStore persists fetched media bytes to object storage. Workers use it
// opportunistically: upload failures are logged and never fail the owning
// job.
type MediaStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
