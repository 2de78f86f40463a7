/*
repository.go - Typed access to incentive documents

PURPOSE:
  Maps Objectives, Incentives, Tasks and Settlements to JSON documents in a
  DocumentStore. Backend-agnostic: the same Repository runs on memory,
  SQLite, Postgres and Mongo.

NOT FOUND:
  Every Get translates ErrDocumentNotFound into the record-specific sentinel
  (ErrObjectiveNotFound, ErrIncentiveNotFound, ...) so callers never see
  store-level errors for a missing record.

SEE ALSO:
  - store.go: DocumentStore contract
  - document.go: JSON shapes
  - evaluator.go: Consumer of GetObjective/GetIncentive/ListTasksByObjective
*/
package incentive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Repository is safe for concurrent use if its store is.
type Repository struct {
	store DocumentStore
}

func NewRepository(store DocumentStore) *Repository {
	return &Repository{store: store}
}

// Store exposes the underlying document store.
func (r *Repository) Store() DocumentStore { return r.store }

// =============================================================================
// OBJECTIVES
// =============================================================================

func (r *Repository) SaveObjective(ctx context.Context, o Objective) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return r.put(ctx, CollectionObjectives, string(o.ID), NewObjectiveDocument(o))
}

func (r *Repository) GetObjective(ctx context.Context, id ObjectiveID) (Objective, error) {
	var doc ObjectiveDocument
	if err := r.get(ctx, CollectionObjectives, string(id), &doc, ErrObjectiveNotFound); err != nil {
		return Objective{}, err
	}
	return doc.Objective(), nil
}

func (r *Repository) ListObjectives(ctx context.Context) ([]Objective, error) {
	raw, err := r.store.List(ctx, CollectionObjectives)
	if err != nil {
		return nil, eris.Wrap(err, "list objectives")
	}
	out := make([]Objective, 0, len(raw))
	for _, b := range raw {
		var doc ObjectiveDocument
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, eris.Wrap(err, "decode objective")
		}
		out = append(out, doc.Objective())
	}
	return out, nil
}

// DeleteObjective removes the objective and its tasks.
func (r *Repository) DeleteObjective(ctx context.Context, id ObjectiveID) error {
	if err := r.del(ctx, CollectionObjectives, string(id), ErrObjectiveNotFound); err != nil {
		return err
	}
	tasks, err := r.ListTasksByObjective(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := r.del(ctx, CollectionTasks, string(t.ID), ErrTaskNotFound); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return err
		}
	}
	return nil
}

// =============================================================================
// INCENTIVES
// =============================================================================

func (r *Repository) SaveIncentive(ctx context.Context, i Incentive) error {
	if i.ID == "" {
		return InvalidIncentive("id", "is required")
	}
	return r.put(ctx, CollectionIncentives, string(i.ID), NewIncentiveDocument(i))
}

// GetIncentive returns ErrIncentiveNotFound for unknown ids and
// ErrMalformedIncentive for documents that cannot be interpreted.
func (r *Repository) GetIncentive(ctx context.Context, id IncentiveID) (Incentive, error) {
	var doc IncentiveDocument
	if err := r.get(ctx, CollectionIncentives, string(id), &doc, ErrIncentiveNotFound); err != nil {
		return Incentive{}, err
	}
	return doc.Incentive()
}

// IncentiveEntry is one stored incentive. When the document cannot be
// interpreted Err is set and Incentive is zero; Document holds whatever
// could be decoded so the record can still be identified.
type IncentiveEntry struct {
	Document  IncentiveDocument
	Incentive Incentive
	Err       error
}

// ScanIncentives returns every stored incentive, malformed ones included.
// Only a store failure fails the whole scan.
func (r *Repository) ScanIncentives(ctx context.Context) ([]IncentiveEntry, error) {
	raw, err := r.store.List(ctx, CollectionIncentives)
	if err != nil {
		return nil, eris.Wrap(err, "list incentives")
	}
	out := make([]IncentiveEntry, 0, len(raw))
	for _, b := range raw {
		var entry IncentiveEntry
		if err := json.Unmarshal(b, &entry.Document); err != nil {
			entry.Err = fmt.Errorf("%w: %v", ErrMalformedIncentive, err)
		} else {
			entry.Incentive, entry.Err = entry.Document.Incentive()
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Document.ID < out[j].Document.ID })
	return out, nil
}

// ListIncentives returns every incentive that can be interpreted. Malformed
// documents are logged and left out; ScanIncentives reports them.
func (r *Repository) ListIncentives(ctx context.Context) ([]Incentive, error) {
	entries, err := r.ScanIncentives(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Incentive, 0, len(entries))
	for _, e := range entries {
		if e.Err != nil {
			zap.L().Warn("skipping malformed incentive",
				zap.String("incentive_id", e.Document.ID),
				zap.Error(e.Err))
			continue
		}
		out = append(out, e.Incentive)
	}
	return out, nil
}

func (r *Repository) DeleteIncentive(ctx context.Context, id IncentiveID) error {
	return r.del(ctx, CollectionIncentives, string(id), ErrIncentiveNotFound)
}

// =============================================================================
// TASKS
// =============================================================================

func (r *Repository) SaveTask(ctx context.Context, t Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return r.put(ctx, CollectionTasks, string(t.ID), NewTaskDocument(t))
}

func (r *Repository) GetTask(ctx context.Context, id TaskID) (Task, error) {
	var doc TaskDocument
	if err := r.get(ctx, CollectionTasks, string(id), &doc, ErrTaskNotFound); err != nil {
		return Task{}, err
	}
	return doc.Task(), nil
}

// ListTasksByObjective returns the tasks of an objective ordered by id.
// An objective without tasks yields an empty slice, not an error.
func (r *Repository) ListTasksByObjective(ctx context.Context, id ObjectiveID) ([]Task, error) {
	raw, err := r.store.QueryByField(ctx, CollectionTasks, "objectiveId", string(id))
	if err != nil {
		return nil, eris.Wrapf(err, "query tasks of %s", id)
	}
	tasks := make([]Task, 0, len(raw))
	for _, b := range raw {
		var doc TaskDocument
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, eris.Wrap(err, "decode task")
		}
		tasks = append(tasks, doc.Task())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// SetTaskCompleted flips the completed flag through a single-document
// read-modify-write, leaving every other field as stored.
func (r *Repository) SetTaskCompleted(ctx context.Context, id TaskID, completed bool) (Task, error) {
	var updated TaskDocument
	err := r.store.Update(ctx, CollectionTasks, string(id), func(current []byte) ([]byte, error) {
		var fields map[string]any
		if err := json.Unmarshal(current, &fields); err != nil {
			return nil, eris.Wrap(err, "decode task")
		}
		fields["completed"] = completed
		next, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(next, &updated); err != nil {
			return nil, err
		}
		return next, nil
	})
	if errors.Is(err, ErrDocumentNotFound) {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, eris.Wrapf(err, "update task %s", id)
	}
	return updated.Task(), nil
}

func (r *Repository) DeleteTask(ctx context.Context, id TaskID) error {
	return r.del(ctx, CollectionTasks, string(id), ErrTaskNotFound)
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// CreateSettlement records a settlement once. A second settlement for the
// same objective returns ErrAlreadySettled.
func (r *Repository) CreateSettlement(ctx context.Context, s Settlement) error {
	b, err := json.Marshal(NewSettlementDocument(s))
	if err != nil {
		return eris.Wrap(err, "encode settlement")
	}
	err = r.store.Create(ctx, CollectionSettlements, s.ID, b)
	if errors.Is(err, ErrDocumentExists) {
		return ErrAlreadySettled
	}
	if err != nil {
		return eris.Wrapf(err, "create settlement %s", s.ID)
	}
	return nil
}

func (r *Repository) GetSettlement(ctx context.Context, objectiveID ObjectiveID) (Settlement, error) {
	var doc SettlementDocument
	if err := r.get(ctx, CollectionSettlements, SettlementID(objectiveID), &doc, ErrSettlementNotFound); err != nil {
		return Settlement{}, err
	}
	return doc.Settlement(), nil
}

func (r *Repository) ListSettlements(ctx context.Context) ([]Settlement, error) {
	raw, err := r.store.List(ctx, CollectionSettlements)
	if err != nil {
		return nil, eris.Wrap(err, "list settlements")
	}
	out := make([]Settlement, 0, len(raw))
	for _, b := range raw {
		var doc SettlementDocument
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, eris.Wrap(err, "decode settlement")
		}
		out = append(out, doc.Settlement())
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Repository) put(ctx context.Context, c Collection, id string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrapf(err, "encode %s/%s", c, id)
	}
	if err := r.store.Set(ctx, c, id, b); err != nil {
		return eris.Wrapf(err, "save %s/%s", c, id)
	}
	return nil
}

func (r *Repository) get(ctx context.Context, c Collection, id string, into any, notFound error) error {
	b, err := r.store.Get(ctx, c, id)
	if errors.Is(err, ErrDocumentNotFound) {
		return notFound
	}
	if err != nil {
		return eris.Wrapf(err, "get %s/%s", c, id)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return eris.Wrapf(err, "decode %s/%s", c, id)
	}
	return nil
}

func (r *Repository) del(ctx context.Context, c Collection, id string, notFound error) error {
	err := r.store.Delete(ctx, c, id)
	if errors.Is(err, ErrDocumentNotFound) {
		return notFound
	}
	if err != nil {
		return eris.Wrapf(err, "delete %s/%s", c, id)
	}
	return nil
}
