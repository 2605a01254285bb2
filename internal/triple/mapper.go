// Package triple is the component that dispatches a single (graph,
// subject, predicate, object) write to wherever the ontology says it
// physically lives — a column on the subject's class table, a row in a
// dedicated property table, or class-table membership itself for rdf:type —
// and keeps resource refcounts and pending notifications in step with the
// write. It is the one place that knows how to turn the ontology's tagged
// PropertyKind into actual SQL, mirroring the teacher's core.Engine methods
// that each own one exhaustive switch over a small enum rather than a
// conditional chain.
package triple

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/ontology"
	"github.com/quillgraph/quill/internal/quillerr"
	"github.com/quillgraph/quill/internal/rdfvalue"
	"github.com/quillgraph/quill/internal/resource"
	"github.com/quillgraph/quill/internal/storage"
)

// Triple is a write request with subject/graph/predicate named by IRI and
// an object that is either a resource reference or a typed literal.
type Triple struct {
	Graph     string // "" selects the default graph
	Subject   string
	Predicate string
	Object    rdfvalue.Value
}

// TxnState accumulates bookkeeping that must hold across every write in one
// transaction. It exists solely to enforce spec property 4: two distinct
// non-deletion inserts of the same single-valued property on the same
// subject within one transaction must carry the same value, or the whole
// transaction is rejected; across separate transactions, a later insert is
// free to replace the value.
type TxnState struct {
	singleValues map[string]string
}

// NewTxnState returns a fresh, empty TxnState for one write transaction.
func NewTxnState() *TxnState {
	return &TxnState{singleValues: map[string]string{}}
}

// Mapper translates Triple writes into row operations, given a resolved
// Ontology to dispatch against.
type Mapper struct {
	ont *ontology.Ontology
}

// New returns a Mapper bound to ont.
func New(ont *ontology.Ontology) *Mapper { return &Mapper{ont: ont} }

// Insert applies an insert, returning the change.Op to journal (always
// non-nil on success) and any change.Event to notify. Type and
// multi-valued writes yield an event only when a row actually changed; a
// single-valued write on a notifying class yields one on every call, an
// identical re-insert included (EventUpdate unless the write created the
// subject's class row).
func (m *Mapper) Insert(ctx context.Context, ex storage.Execer, st *TxnState, t Triple) (*change.Op, []change.Event, error) {
	prop := m.ont.PropertyOf(t.Predicate)
	if prop == nil {
		return nil, nil, quillerr.New(quillerr.KindUnknownResource, nil, "unknown property %s", t.Predicate)
	}
	graphID, err := m.internGraph(ctx, ex, t.Graph)
	if err != nil {
		return nil, nil, err
	}
	subjectID, err := resource.Intern(ctx, ex, t.Subject)
	if err != nil {
		return nil, nil, err
	}
	predicateID, err := resource.Intern(ctx, ex, t.Predicate)
	if err != nil {
		return nil, nil, err
	}

	switch prop.Kind {
	case ontology.TypeRow:
		return m.insertType(ctx, ex, graphID, subjectID, predicateID, t)
	case ontology.SingleColumn:
		return m.insertSingle(ctx, ex, st, graphID, subjectID, predicateID, prop, t)
	case ontology.MultiRow:
		return m.insertMulti(ctx, ex, graphID, subjectID, predicateID, prop, t)
	default:
		return nil, nil, quillerr.New(quillerr.KindInternal, nil, "unhandled property kind for %s", t.Predicate)
	}
}

// Delete applies a delete. Deleting a triple that does not currently exist
// is a no-op (returns a nil op, nil events, nil error) rather than an
// error, matching SPARQL Update's DELETE DATA semantics.
func (m *Mapper) Delete(ctx context.Context, ex storage.Execer, t Triple) (*change.Op, []change.Event, error) {
	prop := m.ont.PropertyOf(t.Predicate)
	if prop == nil {
		return nil, nil, quillerr.New(quillerr.KindUnknownResource, nil, "unknown property %s", t.Predicate)
	}
	graphID, err := m.internGraph(ctx, ex, t.Graph)
	if err != nil {
		return nil, nil, err
	}
	subjectID, ok, err := resource.Lookup(ctx, ex, t.Subject)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil // subject was never referenced; nothing to delete
	}
	predicateID, err := resource.Intern(ctx, ex, t.Predicate)
	if err != nil {
		return nil, nil, err
	}

	switch prop.Kind {
	case ontology.TypeRow:
		return m.deleteType(ctx, ex, graphID, subjectID, predicateID, t)
	case ontology.SingleColumn:
		return m.deleteSingle(ctx, ex, graphID, subjectID, predicateID, prop, t)
	case ontology.MultiRow:
		return m.deleteMulti(ctx, ex, graphID, subjectID, predicateID, prop, t)
	default:
		return nil, nil, quillerr.New(quillerr.KindInternal, nil, "unhandled property kind for %s", t.Predicate)
	}
}

// ApplyResolvedOp replays one already-committed journal op against ex. It
// re-derives a Triple from the op's resolved ids/literal and re-runs it
// through Insert/Delete, so replay exercises exactly the same idempotent
// SQL as the original write rather than a second code path.
func (m *Mapper) ApplyResolvedOp(ctx context.Context, ex storage.Execer, op change.Op) error {
	predIRI, err := resource.IRI(ctx, ex, op.PredicateID)
	if err != nil {
		return err
	}
	subjIRI, err := resource.IRI(ctx, ex, op.SubjectID)
	if err != nil {
		return err
	}
	var graphIRI string
	if op.GraphID != 0 {
		graphIRI, err = resource.IRI(ctx, ex, op.GraphID)
		if err != nil {
			return err
		}
	}

	var obj rdfvalue.Value
	if op.ObjectIsRef {
		objIRI, err := resource.IRI(ctx, ex, op.ObjectID)
		if err != nil {
			return err
		}
		obj = rdfvalue.IRIValue(objIRI)
	} else {
		prop := m.ont.PropertyOf(predIRI)
		if prop == nil {
			return quillerr.New(quillerr.KindUnknownResource, nil, "replay: unknown property %s", predIRI)
		}
		v, err := rdfvalue.DecodeLiteral(rdfvalue.RangeKindOf(string(prop.RangeKind)), op.ObjectLiteral)
		if err != nil {
			return err
		}
		obj = v
	}

	t := Triple{Graph: graphIRI, Subject: subjIRI, Predicate: predIRI, Object: obj}
	if op.Kind == change.OpInsert {
		_, _, err = m.Insert(ctx, ex, NewTxnState(), t)
	} else {
		_, _, err = m.Delete(ctx, ex, t)
	}
	return err
}

func (m *Mapper) internGraph(ctx context.Context, ex storage.Execer, graph string) (int64, error) {
	if graph == "" {
		return 0, nil
	}
	return resource.Intern(ctx, ex, graph)
}

// resolveObject validates t.Object against prop's declared range and
// returns the resource id (for object properties) and/or the driver value
// to bind into a primitive column.
func (m *Mapper) resolveObject(ctx context.Context, ex storage.Execer, prop *ontology.PropertyDescriptor, v rdfvalue.Value) (objID int64, dbParam interface{}, err error) {
	if prop.IsObjectProp {
		if !v.IsResource() {
			return 0, nil, quillerr.New(quillerr.KindTypeMismatch, nil, "property %s expects a resource, got a literal", prop.IRI)
		}
		id, err := resource.Intern(ctx, ex, v.IRI)
		if err != nil {
			return 0, nil, err
		}
		return id, id, nil
	}
	if v.IsResource() {
		return 0, nil, quillerr.New(quillerr.KindTypeMismatch, nil, "property %s expects a literal, got a resource", prop.IRI)
	}
	if v.Kind != rdfvalue.RangeKindOf(string(prop.RangeKind)) {
		return 0, nil, quillerr.New(quillerr.KindTypeMismatch, nil, "property %s expects range %s", prop.IRI, prop.RangeKind)
	}
	return 0, v.DBParam(), nil
}

func (m *Mapper) insertType(ctx context.Context, ex storage.Execer, graphID, subjectID, predicateID int64, t Triple) (*change.Op, []change.Event, error) {
	if !t.Object.IsResource() {
		return nil, nil, quillerr.New(quillerr.KindTypeMismatch, nil, "rdf:type object must be a class resource")
	}
	class := m.ont.ClassOf(t.Object.IRI)
	if class == nil {
		return nil, nil, quillerr.New(quillerr.KindUnknownResource, nil, "unknown class %s", t.Object.IRI)
	}
	objectID, err := resource.Intern(ctx, ex, t.Object.IRI)
	if err != nil {
		return nil, nil, err
	}

	res, err := ex.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (subject_id, graph_id) VALUES (?, ?) ON CONFLICT(subject_id, graph_id) DO NOTHING`, class.Table),
		subjectID, graphID)
	if err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "insert type row into %s", class.Table)
	}
	n, _ := res.RowsAffected()

	var events []change.Event
	if n > 0 {
		if err := resource.AdjustRefcount(ctx, ex, subjectID, 1); err != nil {
			return nil, nil, err
		}
		if err := resource.AdjustRefcount(ctx, ex, objectID, 1); err != nil {
			return nil, nil, err
		}
		if class.Notify {
			events = append(events, change.Event{ClassIRI: class.IRI, SubjectID: subjectID, Kind: change.EventAdd})
		}
	}

	op := &change.Op{Kind: change.OpInsert, GraphID: graphID, SubjectID: subjectID, PredicateID: predicateID,
		ObjectIsRef: true, ObjectID: objectID}
	return op, events, nil
}

func (m *Mapper) deleteType(ctx context.Context, ex storage.Execer, graphID, subjectID, predicateID int64, t Triple) (*change.Op, []change.Event, error) {
	if !t.Object.IsResource() {
		return nil, nil, nil
	}
	class := m.ont.ClassOf(t.Object.IRI)
	if class == nil {
		return nil, nil, nil
	}
	objectID, ok, err := resource.Lookup(ctx, ex, t.Object.IRI)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}

	res, err := ex.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE subject_id = ? AND graph_id = ?`, class.Table), subjectID, graphID)
	if err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "delete type row from %s", class.Table)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil, nil
	}

	if err := resource.AdjustRefcount(ctx, ex, subjectID, -1); err != nil {
		return nil, nil, err
	}
	if err := resource.AdjustRefcount(ctx, ex, objectID, -1); err != nil {
		return nil, nil, err
	}
	var events []change.Event
	if class.Notify {
		events = append(events, change.Event{ClassIRI: class.IRI, SubjectID: subjectID, Kind: change.EventDelete})
	}

	op := &change.Op{Kind: change.OpDelete, GraphID: graphID, SubjectID: subjectID, PredicateID: predicateID,
		ObjectIsRef: true, ObjectID: objectID}
	return op, events, nil
}

func (m *Mapper) insertSingle(ctx context.Context, ex storage.Execer, st *TxnState, graphID, subjectID, predicateID int64, prop *ontology.PropertyDescriptor, t Triple) (*change.Op, []change.Event, error) {
	objID, dbParam, err := m.resolveObject(ctx, ex, prop, t.Object)
	if err != nil {
		return nil, nil, err
	}

	key := prop.Table + "|" + prop.Column + "|" + strconv.FormatInt(subjectID, 10) + "|" + strconv.FormatInt(graphID, 10)
	newCanon := t.Object.Canonical()
	if prior, seen := st.singleValues[key]; seen && prior != newCanon {
		return nil, nil, quillerr.New(quillerr.KindConstraintViolated, nil,
			"%s on %s already set to a different value earlier in this transaction", prop.IRI, t.Subject)
	}
	st.singleValues[key] = newCanon

	class := m.ont.ClassOf(prop.Domain)
	ensureRes, err := ex.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (subject_id, graph_id) VALUES (?, ?) ON CONFLICT(subject_id, graph_id) DO NOTHING`, class.Table),
		subjectID, graphID)
	if err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "ensure class row for %s", prop.Domain)
	}
	newSubjectRow, _ := ensureRes.RowsAffected()

	var oldRaw interface{}
	err = ex.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE subject_id = ? AND graph_id = ?`, prop.Column, prop.Table),
		subjectID, graphID).Scan(&oldRaw)
	if err != nil && err != sql.ErrNoRows {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "read existing %s", prop.IRI)
	}

	if _, err := ex.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = ? WHERE subject_id = ? AND graph_id = ?`, prop.Table, prop.Column),
		dbParam, subjectID, graphID); err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "write %s", prop.IRI)
	}

	if newSubjectRow > 0 {
		if err := resource.AdjustRefcount(ctx, ex, subjectID, 1); err != nil {
			return nil, nil, err
		}
	}
	if prop.IsObjectProp {
		if oldRaw == nil {
			if err := resource.AdjustRefcount(ctx, ex, objID, 1); err != nil {
				return nil, nil, err
			}
		} else if oldID := toInt64(oldRaw); oldID != objID {
			if err := resource.AdjustRefcount(ctx, ex, oldID, -1); err != nil {
				return nil, nil, err
			}
			if err := resource.AdjustRefcount(ctx, ex, objID, 1); err != nil {
				return nil, nil, err
			}
		}
	}

	var events []change.Event
	if class.Notify {
		kind := change.EventUpdate
		if newSubjectRow > 0 {
			kind = change.EventAdd
		}
		events = append(events, change.Event{ClassIRI: class.IRI, SubjectID: subjectID, Kind: kind})
	}

	op := &change.Op{Kind: change.OpInsert, GraphID: graphID, SubjectID: subjectID, PredicateID: predicateID,
		ObjectIsRef: prop.IsObjectProp, ObjectID: objID}
	if !prop.IsObjectProp {
		op.ObjectLiteral = rdfvalue.EncodeLiteral(t.Object)
	}
	return op, events, nil
}

// deleteSingle nulls the column only if its current value matches the
// triple being deleted, matching DELETE DATA's "no-op if the triple isn't
// actually present" semantics.
func (m *Mapper) deleteSingle(ctx context.Context, ex storage.Execer, graphID, subjectID, predicateID int64, prop *ontology.PropertyDescriptor, t Triple) (*change.Op, []change.Event, error) {
	var oldRaw interface{}
	err := ex.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE subject_id = ? AND graph_id = ?`, prop.Column, prop.Table),
		subjectID, graphID).Scan(&oldRaw)
	if err == sql.ErrNoRows || oldRaw == nil {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "read existing %s", prop.IRI)
	}

	var matches bool
	var objID int64
	if prop.IsObjectProp {
		objID = toInt64(oldRaw)
		wantID, ok, err := resource.Lookup(ctx, ex, t.Object.IRI)
		if err != nil {
			return nil, nil, err
		}
		matches = ok && wantID == objID
	} else {
		existing, err := rdfvalue.FromColumn(rdfvalue.RangeKindOf(string(prop.RangeKind)), oldRaw)
		if err != nil {
			return nil, nil, err
		}
		matches = existing.Canonical() == t.Object.Canonical()
	}
	if !matches {
		return nil, nil, nil
	}

	if _, err := ex.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE subject_id = ? AND graph_id = ?`, prop.Table, prop.Column),
		subjectID, graphID); err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "clear %s", prop.IRI)
	}
	if prop.IsObjectProp {
		if err := resource.AdjustRefcount(ctx, ex, objID, -1); err != nil {
			return nil, nil, err
		}
	}

	var events []change.Event
	if class := m.ont.ClassOf(prop.Domain); class != nil && class.Notify {
		events = append(events, change.Event{ClassIRI: class.IRI, SubjectID: subjectID, Kind: change.EventUpdate})
	}

	op := &change.Op{Kind: change.OpDelete, GraphID: graphID, SubjectID: subjectID, PredicateID: predicateID,
		ObjectIsRef: prop.IsObjectProp, ObjectID: objID}
	if !prop.IsObjectProp {
		op.ObjectLiteral = rdfvalue.EncodeLiteral(t.Object)
	}
	return op, events, nil
}

func (m *Mapper) insertMulti(ctx context.Context, ex storage.Execer, graphID, subjectID, predicateID int64, prop *ontology.PropertyDescriptor, t Triple) (*change.Op, []change.Event, error) {
	objID, dbParam, err := m.resolveObject(ctx, ex, prop, t.Object)
	if err != nil {
		return nil, nil, err
	}

	res, err := ex.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s (subject_id, graph_id, value)
		 SELECT ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM %[1]s WHERE subject_id = ? AND graph_id = ? AND value = ?)`,
		prop.Table), subjectID, graphID, dbParam, subjectID, graphID, dbParam)
	if err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "insert %s", prop.IRI)
	}
	n, _ := res.RowsAffected()

	var events []change.Event
	if n > 0 {
		if err := resource.AdjustRefcount(ctx, ex, subjectID, 1); err != nil {
			return nil, nil, err
		}
		if prop.IsObjectProp {
			if err := resource.AdjustRefcount(ctx, ex, objID, 1); err != nil {
				return nil, nil, err
			}
		}
		if class := m.ont.ClassOf(prop.Domain); class != nil && class.Notify {
			events = append(events, change.Event{ClassIRI: class.IRI, SubjectID: subjectID, Kind: change.EventUpdate})
		}
	}

	op := &change.Op{Kind: change.OpInsert, GraphID: graphID, SubjectID: subjectID, PredicateID: predicateID,
		ObjectIsRef: prop.IsObjectProp, ObjectID: objID}
	if !prop.IsObjectProp {
		op.ObjectLiteral = rdfvalue.EncodeLiteral(t.Object)
	}
	return op, events, nil
}

func (m *Mapper) deleteMulti(ctx context.Context, ex storage.Execer, graphID, subjectID, predicateID int64, prop *ontology.PropertyDescriptor, t Triple) (*change.Op, []change.Event, error) {
	objID, dbParam, err := m.resolveObject(ctx, ex, prop, t.Object)
	if err != nil {
		return nil, nil, err
	}

	res, err := ex.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE subject_id = ? AND graph_id = ? AND value = ?`, prop.Table),
		subjectID, graphID, dbParam)
	if err != nil {
		return nil, nil, quillerr.New(quillerr.KindIO, err, "delete %s", prop.IRI)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, nil, nil
	}

	if err := resource.AdjustRefcount(ctx, ex, subjectID, -1); err != nil {
		return nil, nil, err
	}
	if prop.IsObjectProp {
		if err := resource.AdjustRefcount(ctx, ex, objID, -1); err != nil {
			return nil, nil, err
		}
	}
	var events []change.Event
	if class := m.ont.ClassOf(prop.Domain); class != nil && class.Notify {
		events = append(events, change.Event{ClassIRI: class.IRI, SubjectID: subjectID, Kind: change.EventUpdate})
	}

	op := &change.Op{Kind: change.OpDelete, GraphID: graphID, SubjectID: subjectID, PredicateID: predicateID,
		ObjectIsRef: prop.IsObjectProp, ObjectID: objID}
	if !prop.IsObjectProp {
		op.ObjectLiteral = rdfvalue.EncodeLiteral(t.Object)
	}
	return op, events, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
