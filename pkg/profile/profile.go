//go:generate go run go.uber.org/mock/mockgen -source=profile.go -destination=../mocks/mock_profile_lookup.go -package=mocks
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

var ErrNotFound = errors.New("profile not found")

// Lookup is the one-shot user profile collaborator.
type Lookup interface {
	GetProfile(ctx context.Context, uid string) (model.Profile, error)
}

// DocLookup reads profiles from "users/{uid}" documents.
type DocLookup struct {
	docs store.DocStore
}

func NewDocLookup(docs store.DocStore) DocLookup {
	return DocLookup{docs: docs}
}

func (l DocLookup) GetProfile(ctx context.Context, uid string) (model.Profile, error) {
	path := store.UserPath(uid)
	snap, err := l.docs.Get(ctx, path)
	if err != nil {
		return model.Profile{}, fmt.Errorf("profile %s: %w", uid, err)
	}
	raw, ok := snap.Doc(path)
	if !ok {
		return model.Profile{}, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	var p model.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Profile{}, fmt.Errorf("profile %s: %w", uid, err)
	}
	p.UID = uid
	return p, nil
}
