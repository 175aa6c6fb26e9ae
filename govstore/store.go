package govstore

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/detect"
	"github.com/opencatalog/piiguard/policy"
)

// Key prefixes. Column keys contain exactly four slashes, so a
// "<prefix><columnKey>/" scan is unambiguous.
const (
	classPrefix = "class/"
	exclPrefix  = "excl/"
	issuePrefix = "issue/"
)

// lockStripes bounds the per-column mutex table.
const lockStripes = 64

// Store is the engine's single write path. Every classification change,
// manual or automated, commits through Apply so that a column's
// classification and its issue state can never disagree.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
}

// NewStore wraps an open database.
func NewStore(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockColumn(columnKey string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(columnKey))
	return &s.locks[h.Sum32()%lockStripes]
}

func classKey(columnKey string) []byte {
	return []byte(classPrefix + columnKey)
}

func exclKey(columnKey, ruleID string) []byte {
	return []byte(exclPrefix + columnKey + "/" + strings.ToLower(ruleID))
}

func issueStoreKey(columnKey, ruleID string) []byte {
	return []byte(issuePrefix + columnKey + "/" + strings.ToLower(ruleID))
}

// Apply commits one decision and its issue effect for one column in a
// single transaction. Concurrent callers touching the same column are
// serialized; callers touching different columns proceed in parallel.
func (s *Store) Apply(ctx context.Context, col catalog.ColumnRef, decision detect.Decision, effect policy.Effect) (ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	columnKey := col.Key()
	mu := s.lockColumn(columnKey)
	mu.Lock()
	defer mu.Unlock()

	var res ApplyResult
	err := s.db.Update(func(txn *badger.Txn) error {
		prev, found, err := getRecordTxn(txn, columnKey)
		if err != nil {
			return err
		}

		if decision.Match {
			piiType := decision.PIIType
			rec := Record{
				Column: col,
				RuleID: decision.RuleID,
				Classification: catalog.Classification{
					PIIType:         &piiType,
					Sensitive:       decision.Sensitive,
					Confidence:      decision.Confidence,
					Source:          decision.Source,
					LastEvaluatedAt: time.Now().UTC(),
				},
			}
			if err := setJSON(txn, classKey(columnKey), rec); err != nil {
				return err
			}
			res.Classified = !found || !sameOutcome(prev, rec)
			// A displaced rule's issue cannot outlive its classification.
			if found && prev.RuleID != "" && !strings.EqualFold(prev.RuleID, decision.RuleID) {
				if err := s.resolveIssueTxn(txn, columnKey, prev.RuleID,
					"classification superseded by rule "+decision.RuleID, &res); err != nil {
					return err
				}
			}
		} else if found && clearApplies(prev, decision) {
			if err := txn.Delete(classKey(columnKey)); err != nil {
				return fmt.Errorf("clear classification: %w", err)
			}
			res.Cleared = true
		}

		switch effect.Kind {
		case policy.EffectOpen:
			return s.openIssueTxn(txn, columnKey, decision, effect, &res)
		case policy.EffectResolve:
			if decision.RuleID != "" {
				return s.resolveIssueTxn(txn, columnKey, decision.RuleID, effect.Resolution, &res)
			}
			return s.resolveAllIssuesTxn(txn, columnKey, effect.Resolution, &res)
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply %s: %w", columnKey, err)
	}
	return res, nil
}

// sameOutcome reports whether two records classify the column the same
// way. A refresh that only bumps the evaluation timestamp is not counted
// as a new classification.
func sameOutcome(a, b Record) bool {
	if !strings.EqualFold(a.RuleID, b.RuleID) {
		return false
	}
	ac, bc := a.Classification, b.Classification
	if ac.PIIType == nil || bc.PIIType == nil {
		return ac.PIIType == nil && bc.PIIType == nil
	}
	return strings.EqualFold(*ac.PIIType, *bc.PIIType) &&
		ac.Source == bc.Source &&
		ac.Confidence == bc.Confidence &&
		ac.Sensitive == bc.Sensitive
}

// clearApplies guards rule-scoped no-match decisions against clearing a
// classification owned by a different rule. A decision naming neither a
// rule nor a piiType clears unconditionally.
func clearApplies(prev Record, decision detect.Decision) bool {
	if decision.RuleID == "" && decision.PIIType == "" {
		return true
	}
	if decision.RuleID != "" && strings.EqualFold(prev.RuleID, decision.RuleID) {
		return true
	}
	if decision.PIIType != "" && prev.Classification.PIIType != nil &&
		strings.EqualFold(*prev.Classification.PIIType, decision.PIIType) {
		return true
	}
	return false
}

func (s *Store) openIssueTxn(txn *badger.Txn, columnKey string, decision detect.Decision, effect policy.Effect, res *ApplyResult) error {
	key := issueStoreKey(columnKey, decision.RuleID)

	var issue Issue
	found, err := getJSON(txn, key, &issue)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if !found {
		issue = Issue{
			Key:       IssueKey(columnKey, decision.RuleID),
			ColumnKey: columnKey,
			RuleID:    decision.RuleID,
			PIIType:   decision.PIIType,
			Severity:  decision.Severity,
			Status:    IssueOpen,
			Details:   effect.Details,
			OpenedAt:  now,
		}
		res.IssueOpened = true
	} else if issue.Status == IssueResolved {
		issue.Status = IssueOpen
		issue.OpenedAt = now
		issue.ResolvedAt = nil
		issue.Resolution = ""
		issue.Details = effect.Details
		issue.Severity = decision.Severity
		res.IssueOpened = true
	} else {
		// Already open: refresh details, keep the original open time.
		issue.Details = effect.Details
		issue.Severity = decision.Severity
	}
	return setJSON(txn, key, issue)
}

func (s *Store) resolveIssueTxn(txn *badger.Txn, columnKey, ruleID, resolution string, res *ApplyResult) error {
	key := issueStoreKey(columnKey, ruleID)

	var issue Issue
	found, err := getJSON(txn, key, &issue)
	if err != nil || !found {
		return err
	}
	if issue.Status != IssueOpen {
		return nil
	}

	now := time.Now().UTC()
	issue.Status = IssueResolved
	issue.ResolvedAt = &now
	issue.Resolution = resolution
	res.IssueResolved = true
	return setJSON(txn, key, issue)
}

// resolveAllIssuesTxn resolves every open issue on a column. Used when a
// classification is cleared without naming the rule that owned it.
func (s *Store) resolveAllIssuesTxn(txn *badger.Txn, columnKey, resolution string, res *ApplyResult) error {
	prefix := []byte(issuePrefix + columnKey + "/")

	var openRules []string
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		var issue Issue
		if err := decodeItem(it.Item(), &issue); err != nil {
			it.Close()
			return err
		}
		if issue.Status == IssueOpen {
			openRules = append(openRules, issue.RuleID)
		}
	}
	it.Close()

	for _, ruleID := range openRules {
		if err := s.resolveIssueTxn(txn, columnKey, ruleID, resolution, res); err != nil {
			return err
		}
	}
	return nil
}

// GetRecord returns a column's stored classification, if any.
func (s *Store) GetRecord(columnKey string) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, found, err = getRecordTxn(txn, columnKey)
		return err
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("get record %s: %w", columnKey, err)
	}
	return rec, found, nil
}

// ListRecords returns all stored classifications, sorted by column key.
func (s *Store) ListRecords() ([]Record, error) {
	return s.listRecords(func(Record) bool { return true })
}

// RecordsByPIIType returns classifications of the given PII type,
// matched case-insensitively.
func (s *Store) RecordsByPIIType(piiType string) ([]Record, error) {
	return s.listRecords(func(rec Record) bool {
		return rec.Classification.PIIType != nil &&
			strings.EqualFold(*rec.Classification.PIIType, piiType)
	})
}

// RecordsByRule returns classifications owned by the given rule.
func (s *Store) RecordsByRule(ruleID string) ([]Record, error) {
	return s.listRecords(func(rec Record) bool {
		return strings.EqualFold(rec.RuleID, ruleID)
	})
}

func (s *Store) listRecords(keep func(Record) bool) ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(classPrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := decodeItem(it.Item(), &rec); err != nil {
				return err
			}
			if keep(rec) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Column.Key() < records[j].Column.Key()
	})
	return records, nil
}

func getRecordTxn(txn *badger.Txn, columnKey string) (Record, bool, error) {
	var rec Record
	found, err := getJSON(txn, classKey(columnKey), &rec)
	return rec, found, err
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := decodeItem(item, v); err != nil {
		return false, err
	}
	return true, nil
}

func decodeItem(item *badger.Item, v interface{}) error {
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return fmt.Errorf("read %s: %w", item.Key(), err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", item.Key(), err)
	}
	return nil
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := txn.Set(key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
