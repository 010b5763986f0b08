package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/hermes/pkg/domain/interfaces"
	"github.com/secmon-lab/hermes/pkg/domain/model"
	"github.com/secmon-lab/hermes/pkg/repository/firestore"
	"github.com/secmon-lab/hermes/pkg/repository/memory"
)

func newMemoryRepository(t *testing.T) interfaces.Repository {
	return memory.New()
}

func newFirestoreRepository(t *testing.T) interfaces.Repository {
	t.Helper()

	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	if projectID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID not set")
	}

	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")
	if databaseID == "" {
		t.Skip("TEST_FIRESTORE_DATABASE_ID not set")
	}

	ctx := context.Background()
	repo, err := firestore.New(ctx, projectID, databaseID)
	gt.NoError(t, err).Required()
	t.Cleanup(func() {
		gt.NoError(t, repo.Close())
	})
	return repo
}

// unitVector returns a vector of model.EmbeddingDimension with 1 at i
func unitVector(i int) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[i%model.EmbeddingDimension] = 1
	return v
}

// mixVector returns a vector in the plane of unit i and unit j
func mixVector(i, j int, wi, wj float32) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[i] = wi
	v[j] = wj
	return v
}
