package lease

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

func TestFirestoreContract(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping Firestore lease tests")
	}
	runStoreContract(t, func(t *testing.T, clock *manualClock) Store {
		client, err := firestore.NewClient(context.Background(), "imagetext-test")
		if err != nil {
			t.Fatalf("firestore client: %v", err)
		}
		t.Cleanup(func() { _ = client.Close() })
		return NewFirestore(client, WithClock(clock.Now), WithKey("leases/"+uuid.NewString()))
	})
}
