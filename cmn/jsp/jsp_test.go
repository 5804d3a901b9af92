package jsp_test

import (
	"context"
	"testing"

	"github.com/strata-io/strata/cmn/jsp"
	"github.com/strata-io/strata/internal/tassert"
	"github.com/strata-io/strata/store"
)

type sample struct {
	Name  string
	Count int
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()

	in := sample{Name: "idx", Count: 3}
	tassert.CheckFatal(t, jsp.Save(ctx, s, "meta.json", in))

	var out sample
	tassert.CheckFatal(t, jsp.Load(ctx, s, "meta.json", &out))
	tassert.Errorf(t, out == in, "round trip mismatch: got %+v want %+v", out, in)
}

func TestLoadDetectsCorruption(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	tassert.CheckFatal(t, s.Put(ctx, "meta.json", &store.BytesPayload{Data: []byte(`{"checksum":{"ty":"blake2b","val":"deadbeef"},"body":{}}`)}))

	var out sample
	err := jsp.Load(ctx, s, "meta.json", &out)
	tassert.Fatalf(t, err != nil, "expected checksum mismatch error")
}
