package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrRuleNotFound is returned when a rule ID does not exist.
var ErrRuleNotFound = errors.New("rules: rule not found")

// ErrRuleExists is returned when creating a rule whose ID is taken.
var ErrRuleExists = errors.New("rules: rule already exists")

var rulePrefix = []byte("rule/")

// Registry stores rule definitions durably. It is the single source of
// truth for what the evidence collectors evaluate; lifecycle side
// effects (cascades, rescans) are the caller's job so that registry
// writes stay small and never block on scans.
type Registry struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewRegistry creates a registry over an open badger DB.
func NewRegistry(db *badger.DB, logger *slog.Logger) *Registry {
	return &Registry{db: db, logger: logger}
}

func ruleKey(id string) []byte {
	return append(append([]byte{}, rulePrefix...), []byte(strings.ToLower(id))...)
}

// Create validates and persists a new rule.
func (r *Registry) Create(def Definition) (Definition, error) {
	if err := Validate(def); err != nil {
		return Definition{}, err
	}

	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	err := r.db.Update(func(txn *badger.Txn) error {
		key := ruleKey(def.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrRuleExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("marshal rule: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return Definition{}, err
	}

	r.logger.Info("rule created",
		"rule_id", def.ID,
		"pii_type", def.PIIType,
		"sensitivity", def.Sensitivity,
		"enabled", def.Enabled)
	return def, nil
}

// Update validates and persists an edit to an existing rule. It returns
// the previous definition so the lifecycle synchronizer can decide
// whether the change was material.
func (r *Registry) Update(def Definition) (previous Definition, updated Definition, err error) {
	if err := Validate(def); err != nil {
		return Definition{}, Definition{}, err
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		key := ruleKey(def.ID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(val, &previous); err != nil {
			return fmt.Errorf("unmarshal rule %s: %w", def.ID, err)
		}

		def.CreatedAt = previous.CreatedAt
		def.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("marshal rule: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return Definition{}, Definition{}, err
	}

	r.logger.Info("rule updated", "rule_id", def.ID, "pii_type", def.PIIType)
	return previous, def, nil
}

// SetEnabled flips the enabled flag and returns the resulting rule.
func (r *Registry) SetEnabled(id string, enabled bool) (Definition, error) {
	var def Definition
	err := r.db.Update(func(txn *badger.Txn) error {
		key := ruleKey(id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(val, &def); err != nil {
			return fmt.Errorf("unmarshal rule %s: %w", id, err)
		}
		def.Enabled = enabled
		def.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(def)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return Definition{}, err
	}

	r.logger.Info("rule toggled", "rule_id", id, "enabled", enabled)
	return def, nil
}

// Delete removes the rule row. The cascade over classifications and
// issues must already have happened (see lifecycle.Synchronizer).
func (r *Registry) Delete(id string) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		key := ruleKey(id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRuleNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	r.logger.Info("rule deleted", "rule_id", id)
	return nil
}

// Get returns a rule by ID.
func (r *Registry) Get(id string) (Definition, error) {
	var def Definition
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ruleKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &def)
	})
	return def, err
}

// GetByPIIType returns the enabled rule owning a piiType key,
// case-insensitively.
func (r *Registry) GetByPIIType(piiType string) (Definition, error) {
	all, err := r.List(ListFilter{})
	if err != nil {
		return Definition{}, err
	}
	for _, def := range all {
		if def.Enabled && def.MatchesPIIType(piiType) {
			return def, nil
		}
	}
	return Definition{}, ErrRuleNotFound
}

// ListFilter narrows List results.
type ListFilter struct {
	// Enabled filters by the enabled flag when non-nil.
	Enabled *bool
}

// List returns rules sorted by ID.
func (r *Registry) List(filter ListFilter) ([]Definition, error) {
	var out []Definition
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = rulePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(rulePrefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var def Definition
			if err := json.Unmarshal(val, &def); err != nil {
				return fmt.Errorf("unmarshal rule at %s: %w", it.Item().Key(), err)
			}
			if filter.Enabled != nil && def.Enabled != *filter.Enabled {
				continue
			}
			out = append(out, def)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListEnabled is a convenience wrapper used by scans.
func (r *Registry) ListEnabled() ([]Definition, error) {
	enabled := true
	return r.List(ListFilter{Enabled: &enabled})
}
