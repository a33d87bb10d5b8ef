package lease

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFirestoreDoc = "imagetext/turn-lease"

type firestoreLease struct {
	Holder     string `firestore:"holder"`
	Token      string `firestore:"token"`
	AcquiredAt int64  `firestore:"acquired_at"`
	TTLMillis  int64  `firestore:"ttl_ms"`
}

func (f firestoreLease) lease() Lease {
	return Lease{
		Holder:     f.Holder,
		Token:      f.Token,
		AcquiredAt: time.UnixMilli(f.AcquiredAt),
		TTL:        time.Duration(f.TTLMillis) * time.Millisecond,
	}
}

// Firestore implements Store on one Firestore document. Every mutation runs
// in a Firestore transaction, which retries on contention and commits only if
// the document is unchanged since it was read.
type Firestore struct {
	client  *firestore.Client
	doc     *firestore.DocumentRef
	now     func() time.Time
	timeout time.Duration
}

// NewFirestore returns a Firestore-backed lease store. WithKey sets the
// document path, "collection/document".
func NewFirestore(client *firestore.Client, opts ...Option) *Firestore {
	o := buildOptions(defaultFirestoreDoc, opts)
	return &Firestore{client: client, doc: client.Doc(o.key), now: o.now, timeout: o.timeout}
}

func (f *Firestore) read(tx *firestore.Transaction) (firestoreLease, bool, error) {
	snap, err := tx.Get(f.doc)
	if status.Code(err) == codes.NotFound {
		return firestoreLease{}, false, nil
	}
	if err != nil {
		return firestoreLease{}, false, fmt.Errorf("read lease: %w", err)
	}
	if !snap.Exists() {
		return firestoreLease{}, false, nil
	}
	var rec firestoreLease
	if err := snap.DataTo(&rec); err != nil {
		return firestoreLease{}, false, fmt.Errorf("decode lease: %w", err)
	}
	return rec, true, nil
}

// TryAcquire implements Store.TryAcquire.
func (f *Firestore) TryAcquire(ctx context.Context, participant string, ttl time.Duration) (Outcome, error) {
	if err := validate(participant, ttl); err != nil {
		return Denied, err
	}
	token, err := newToken()
	if err != nil {
		return Denied, err
	}
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var out Outcome
	err = f.client.RunTransaction(cctx, func(ctx context.Context, tx *firestore.Transaction) error {
		out = Denied
		now := f.now().UnixMilli()
		cur, ok, err := f.read(tx)
		if err != nil {
			return err
		}
		if ok && now < cur.AcquiredAt+cur.TTLMillis {
			if cur.Holder != participant {
				return nil
			}
			cur.AcquiredAt = now
			cur.TTLMillis = ttl.Milliseconds()
			out = Renewed
			return tx.Set(f.doc, cur)
		}
		out = Granted
		return tx.Set(f.doc, firestoreLease{
			Holder:     participant,
			Token:      token,
			AcquiredAt: now,
			TTLMillis:  ttl.Milliseconds(),
		})
	})
	if err != nil {
		return Denied, fmt.Errorf("acquire lease: %w", err)
	}
	return out, nil
}

// Release implements Store.Release.
func (f *Firestore) Release(ctx context.Context, participant string) error {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	held := false
	err := f.client.RunTransaction(cctx, func(ctx context.Context, tx *firestore.Transaction) error {
		held = false
		cur, ok, err := f.read(tx)
		if err != nil || !ok || cur.Holder != participant {
			return err
		}
		held = f.now().UnixMilli() < cur.AcquiredAt+cur.TTLMillis
		return tx.Delete(f.doc)
	})
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if !held {
		return ErrNotHolder
	}
	return nil
}

// Holder implements Store.Holder.
func (f *Firestore) Holder(ctx context.Context) (string, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	snap, err := f.doc.Get(cctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read lease: %w", err)
	}
	var rec firestoreLease
	if err := snap.DataTo(&rec); err != nil {
		return "", false, fmt.Errorf("decode lease: %w", err)
	}
	if rec.lease().Expired(f.now()) {
		return "", false, nil
	}
	return rec.Holder, true, nil
}

// Expire implements Store.Expire.
func (f *Firestore) Expire(ctx context.Context) (Lease, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var (
		out     Lease
		expired bool
	)
	err := f.client.RunTransaction(cctx, func(ctx context.Context, tx *firestore.Transaction) error {
		expired = false
		cur, ok, err := f.read(tx)
		if err != nil || !ok {
			return err
		}
		if f.now().UnixMilli() < cur.AcquiredAt+cur.TTLMillis {
			return nil
		}
		out, expired = cur.lease(), true
		return tx.Delete(f.doc)
	})
	if err != nil {
		return Lease{}, false, fmt.Errorf("expire lease: %w", err)
	}
	return out, expired, nil
}
