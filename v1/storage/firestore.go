package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

// OpenFirestore returns a Firestore client for projectID. Credentials and the
// emulator address come from the usual Google environment variables.
func OpenFirestore(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return client, nil
}
