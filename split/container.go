package split

import (
	"context"

	"github.com/strata-io/strata/cmn/errs"
	"github.com/strata-io/strata/store"
)

// Container is the read-only directory view over an opened split:
// OpenRead(sub-path) returns the corresponding byte slice; writes are
// refused.
type Container struct {
	storage store.Storage
	path    string
	footer  *Footer
}

// Open resolves the footer (fetching it if not already cached by the
// caller) and returns a read-only directory view.
func Open(ctx context.Context, s store.Storage, path string, fileLen int64) (*Container, error) {
	f, err := ReadFooter(ctx, s, path, fileLen)
	if err != nil {
		return nil, err
	}
	return &Container{storage: s, path: path, footer: f}, nil
}

// OpenWithFooter reuses an already-fetched Footer, avoiding a redundant
// range read when the process-wide footer cache already has it.
func OpenWithFooter(s store.Storage, path string, footer *Footer) *Container {
	return &Container{storage: s, path: path, footer: footer}
}

func (c *Container) Footer() *Footer { return c.footer }

// ListFiles returns the sub-file paths packed into this split.
func (c *Container) ListFiles() []string {
	names := make([]string, 0, len(c.footer.Bundle))
	for name := range c.footer.Bundle {
		names = append(names, name)
	}
	return names
}

// OpenRead returns the bytes of sub-path inside the split. Writes are
// refused by construction: Container exposes no mutating method.
func (c *Container) OpenRead(ctx context.Context, subPath string) ([]byte, error) {
	rng, ok := c.footer.Bundle[subPath]
	if !ok {
		return nil, errs.New(errs.NotFound, c.path+"#"+subPath)
	}
	return c.storage.GetSlice(ctx, c.path, toStoreRange(rng))
}
