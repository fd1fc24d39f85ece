package registry

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// mockIndex implements FingerprintIndex for testing.
type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) InsertFingerprint(ctx context.Context, fp, collectionID, claimant string) (string, bool, error) {
	args := m.Called(ctx, fp, collectionID, claimant)
	return args.String(0), args.Bool(1), args.Error(2)
}
