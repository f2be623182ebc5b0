// Package persist upserts crawl results into the record store. Every batch runs in
// one store transaction: any failure rolls the whole batch back.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"site-ingest/pkg/parse"
	"site-ingest/pkg/storage"
	"site-ingest/pkg/utils"
)

// errStopScan ends a Filter scan early without reporting an error
var errStopScan = errors.New("stop scan")

// recordKey canonicalizes url and builds its store key
func recordKey(kind storage.Kind, site, url string) (string, string, error) {
	canonical, err := parse.Canonicalize(url)
	if err != nil {
		return "", "", err
	}
	return storage.Key(kind, site, canonical), canonical, nil
}

// batchError wraps a failed batch for callers matching on ErrPersistenceFailure
func batchError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", utils.ErrPersistenceFailure, op, err)
}

// knownURLs reports which of urls have a record of kind for site
func knownURLs(ctx context.Context, store storage.RecordStore, kind storage.Kind, site string, urls []string) (map[string]bool, error) {
	known := make(map[string]bool, len(urls))
	err := store.View(ctx, func(tx storage.Tx) error {
		for _, u := range urls {
			key, canonical, err := recordKey(kind, site, u)
			if err != nil {
				continue
			}
			var raw json.RawMessage
			found, err := tx.Get(key, &raw)
			if err != nil {
				return err
			}
			if found {
				known[canonical] = true
			}
		}
		return nil
	})
	return known, err
}

func utcNow() time.Time { return time.Now().UTC() }
