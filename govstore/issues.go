package govstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// GetIssue returns the issue for a (column, rule) pair, if one exists.
func (s *Store) GetIssue(columnKey, ruleID string) (Issue, bool, error) {
	var (
		issue Issue
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, issueStoreKey(columnKey, ruleID), &issue)
		return err
	})
	if err != nil {
		return Issue{}, false, fmt.Errorf("get issue %s/%s: %w", columnKey, ruleID, err)
	}
	return issue, found, nil
}

// ListIssues returns issues filtered by status. An empty status returns
// all. Sorted by column key then rule for stable output.
func (s *Store) ListIssues(status IssueStatus) ([]Issue, error) {
	var issues []Issue
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(issuePrefix)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var issue Issue
			if err := decodeItem(it.Item(), &issue); err != nil {
				return err
			}
			if status == "" || issue.Status == status {
				issues = append(issues, issue)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].ColumnKey != issues[j].ColumnKey {
			return issues[i].ColumnKey < issues[j].ColumnKey
		}
		return issues[i].RuleID < issues[j].RuleID
	})
	return issues, nil
}

// IssuesByRule returns every issue opened by a rule, any status.
func (s *Store) IssuesByRule(ruleID string) ([]Issue, error) {
	all, err := s.ListIssues("")
	if err != nil {
		return nil, err
	}
	var issues []Issue
	for _, issue := range all {
		if strings.EqualFold(issue.RuleID, ruleID) {
			issues = append(issues, issue)
		}
	}
	return issues, nil
}

// Stats summarizes store contents for status endpoints.
type Stats struct {
	Classifications int `json:"classifications"`
	Exclusions      int `json:"exclusions"`
	OpenIssues      int `json:"open_issues"`
	ResolvedIssues  int `json:"resolved_issues"`
}

// CollectStats counts records across all prefixes.
func (s *Store) CollectStats() (Stats, error) {
	var stats Stats

	records, err := s.ListRecords()
	if err != nil {
		return Stats{}, err
	}
	stats.Classifications = len(records)

	exclusions, err := s.ListExclusions()
	if err != nil {
		return Stats{}, err
	}
	stats.Exclusions = len(exclusions)

	issues, err := s.ListIssues("")
	if err != nil {
		return Stats{}, err
	}
	for _, issue := range issues {
		if issue.Status == IssueOpen {
			stats.OpenIssues++
		} else {
			stats.ResolvedIssues++
		}
	}
	return stats, nil
}
