// Package phoneindex tracks which contact owns each normalized phone key.
//
// The index is the single authority consulted before a contact write. It holds
// at most one owner per key across the primary and additional phones of every
// contact in the directory.
package phoneindex

import (
	"fmt"
	"strings"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
)

// CorruptionError is returned by Rebuild when the directory snapshot itself has
// two contacts sharing a phone key. The index is left unchanged.
type CorruptionError struct {
	Key    phone.Key
	Owners []models.ContactID
}

func (e *CorruptionError) Error() string {
	ids := make([]string, len(e.Owners))
	for i, id := range e.Owners {
		ids[i] = id.String()
	}
	return fmt.Sprintf("phone index: key %s owned by multiple contacts (%s)", e.Key, strings.Join(ids, ", "))
}

// snapshotOwners maps every key in contacts to its owner, failing on the first
// key claimed by two different contacts.
func snapshotOwners(contacts []*models.Contact) (map[phone.Key]models.ContactID, error) {
	owners := make(map[phone.Key]models.ContactID, len(contacts))
	for _, c := range contacts {
		keys, err := c.PhoneKeys()
		if err != nil {
			return nil, fmt.Errorf("phone index: contact %s: %w", c.ID, err)
		}
		for _, k := range keys {
			if prev, ok := owners[k]; ok && prev != c.ID {
				return nil, &CorruptionError{Key: k, Owners: []models.ContactID{prev, c.ID}}
			}
			owners[k] = c.ID
		}
	}
	return owners, nil
}

func dedupeKeys(keys []phone.Key) []phone.Key {
	seen := make(map[phone.Key]struct{}, len(keys))
	out := make([]phone.Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
