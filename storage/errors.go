package storage

import (
	"errors"
	"fmt"

	"argus/core"
)

// notFound wraps core.ErrNotFound with the entity and identifier.
func notFound(entity, id string) error {
	return fmt.Errorf("%s %s: %w", entity, id, core.ErrNotFound)
}

// unavailable classifies a backend failure as core.ErrStorageUnavailable so
// callers can distinguish retryable infrastructure errors from data errors.
// Context cancellation and deadline expiry also land here: the engine never
// blocks indefinitely on storage.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrStorageUnavailable, err)
}
