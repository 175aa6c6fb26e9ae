package govstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/detect"
)

// Exclude records a permanent rejection of the (rule, column) pair.
// Idempotent: re-excluding keeps the original record.
func (s *Store) Exclude(ctx context.Context, col catalog.ColumnRef, ruleID, reason, author string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	columnKey := col.Key()
	mu := s.lockColumn(columnKey)
	mu.Lock()
	defer mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return s.excludeTxn(txn, columnKey, ruleID, reason, author)
	})
	if err != nil {
		return fmt.Errorf("exclude %s/%s: %w", columnKey, ruleID, err)
	}
	return nil
}

func (s *Store) excludeTxn(txn *badger.Txn, columnKey, ruleID, reason, author string) error {
	key := exclKey(columnKey, ruleID)

	var existing Exclusion
	found, err := getJSON(txn, key, &existing)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	return setJSON(txn, key, Exclusion{
		ColumnKey: columnKey,
		RuleID:    ruleID,
		Reason:    reason,
		Author:    author,
		CreatedAt: time.Now().UTC(),
	})
}

// RemoveExclusion deletes the exclusion for the pair. Idempotent. The
// pair becomes eligible again on the next scan; nothing is reclassified
// here.
func (s *Store) RemoveExclusion(ctx context.Context, col catalog.ColumnRef, ruleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	columnKey := col.Key()
	mu := s.lockColumn(columnKey)
	mu.Lock()
	defer mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(exclKey(columnKey, ruleID))
	})
	if err != nil {
		return fmt.Errorf("remove exclusion %s/%s: %w", columnKey, ruleID, err)
	}
	return nil
}

// IsExcluded reports whether an exclusion stands for the pair.
func (s *Store) IsExcluded(columnKey, ruleID string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, ferr := txn.Get(exclKey(columnKey, ruleID))
		if ferr == badger.ErrKeyNotFound {
			return nil
		}
		if ferr != nil {
			return ferr
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check exclusion %s/%s: %w", columnKey, ruleID, err)
	}
	return found, nil
}

// ExclusionsForColumn returns the rule IDs excluded for a column,
// lowercased for direct lookup.
func (s *Store) ExclusionsForColumn(columnKey string) (map[string]Exclusion, error) {
	excluded := make(map[string]Exclusion)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(exclPrefix + columnKey + "/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var excl Exclusion
			if err := decodeItem(it.Item(), &excl); err != nil {
				return err
			}
			excluded[strings.ToLower(excl.RuleID)] = excl
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("exclusions for %s: %w", columnKey, err)
	}
	return excluded, nil
}

// ListExclusions returns every exclusion, sorted by column key then rule.
func (s *Store) ListExclusions() ([]Exclusion, error) {
	var exclusions []Exclusion
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(exclPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var excl Exclusion
			if err := decodeItem(it.Item(), &excl); err != nil {
				return err
			}
			exclusions = append(exclusions, excl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	sort.Slice(exclusions, func(i, j int) bool {
		if exclusions[i].ColumnKey != exclusions[j].ColumnKey {
			return exclusions[i].ColumnKey < exclusions[j].ColumnKey
		}
		return exclusions[i].RuleID < exclusions[j].RuleID
	})
	return exclusions, nil
}

// ExcludeAndClear is the manual rejection path: it writes the exclusion,
// clears the pair's classification, and resolves its issue in one
// transaction, so no intermediate state is ever visible.
func (s *Store) ExcludeAndClear(ctx context.Context, col catalog.ColumnRef, ruleID, piiType, reason, author string) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}
	columnKey := col.Key()
	mu := s.lockColumn(columnKey)
	mu.Lock()
	defer mu.Unlock()

	var res ApplyResult
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := s.excludeTxn(txn, columnKey, ruleID, reason, author); err != nil {
			return err
		}

		prev, found, err := getRecordTxn(txn, columnKey)
		if err != nil {
			return err
		}
		decision := detect.Decision{RuleID: ruleID, PIIType: piiType}
		if found && clearApplies(prev, decision) {
			if err := txn.Delete(classKey(columnKey)); err != nil {
				return fmt.Errorf("clear classification: %w", err)
			}
			res.Cleared = true
		}

		resolution := "classification rejected by user"
		if reason != "" {
			resolution = "classification rejected by user: " + reason
		}
		return s.resolveIssueTxn(txn, columnKey, ruleID, resolution, &res)
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("exclude and clear %s/%s: %w", columnKey, ruleID, err)
	}
	return res, nil
}
