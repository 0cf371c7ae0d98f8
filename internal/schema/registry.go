// Package schema holds the fixed field set of the post index and builds the
// bleve mapping that enforces it.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hyperjump/tsearch/internal/models"
	"github.com/hyperjump/tsearch/internal/textpipe"
)

// Field names.
const (
	FieldThreadID       = "thread_id"
	FieldTitle          = "title"
	FieldText           = "text"
	FieldNodeID         = "node_id"
	FieldModerationFlag = "moderation_flag"
	FieldPostDate       = "post_date"
)

// Kind is the value type of a field.
type Kind int

const (
	KindText Kind = iota
	KindNumeric
)

func (k Kind) String() string {
	if k == KindText {
		return "text"
	}
	return "numeric"
}

// Field describes one schema field.
type Field struct {
	Name      string
	Kind      Kind
	Indexed   bool
	Stored    bool
	Positions bool
}

var postFields = []Field{
	{Name: FieldThreadID, Kind: KindNumeric, Indexed: true, Stored: true},
	{Name: FieldTitle, Kind: KindText, Indexed: true, Stored: true, Positions: true},
	{Name: FieldText, Kind: KindText, Indexed: true, Positions: true},
	{Name: FieldNodeID, Kind: KindNumeric, Indexed: true},
	{Name: FieldModerationFlag, Kind: KindNumeric, Indexed: true},
	{Name: FieldPostDate, Kind: KindNumeric, Indexed: true},
}

// Registry is built once at startup and read concurrently afterwards.
type Registry struct {
	fields      []Field
	byName      map[string]Field
	pipeline    *textpipe.Pipeline
	fingerprint string
}

// New builds the registry for the post schema analysed by p.
func New(p *textpipe.Pipeline) *Registry {
	r := &Registry{
		fields:   postFields,
		byName:   make(map[string]Field, len(postFields)),
		pipeline: p,
	}
	for _, f := range postFields {
		r.byName[f.Name] = f
	}
	r.fingerprint = r.computeFingerprint()
	return r
}

// Pipeline returns the text pipeline every text field is analysed with.
func (r *Registry) Pipeline() *textpipe.Pipeline { return r.pipeline }

// Fields returns all fields in declaration order.
func (r *Registry) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Field looks up a field by name.
func (r *Registry) Field(name string) (Field, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// SearchableFields are the text fields free terms are matched against.
func (r *Registry) SearchableFields() []string {
	var out []string
	for _, f := range r.fields {
		if f.Kind == KindText && f.Indexed {
			out = append(out, f.Name)
		}
	}
	return out
}

// StoredFields are the fields whose values come back with hits.
func (r *Registry) StoredFields() []string {
	var out []string
	for _, f := range r.fields {
		if f.Stored {
			out = append(out, f.Name)
		}
	}
	return out
}

// Fingerprint identifies the field table and analysis configuration. An index
// written under one fingerprint cannot be opened under another.
func (r *Registry) Fingerprint() string { return r.fingerprint }

func (r *Registry) computeFingerprint() string {
	var b strings.Builder
	for _, f := range r.fields {
		fmt.Fprintf(&b, "%s:%s:%t:%t:%t\n", f.Name, f.Kind, f.Indexed, f.Stored, f.Positions)
	}
	b.WriteString(r.pipeline.Signature())
	sum := sha256.Sum256([]byte(b.String()))
	return "v1:" + hex.EncodeToString(sum[:])
}

// IndexMapping builds the bleve mapping for the registry. Dynamic fields are
// rejected so documents can only carry the declared fields.
func (r *Registry) IndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := r.pipeline.Register(im); err != nil {
		return nil, err
	}

	dm := bleve.NewDocumentMapping()
	dm.Dynamic = false
	for _, f := range r.fields {
		var fm *mapping.FieldMapping
		switch f.Kind {
		case KindText:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = textpipe.AnalyzerName
			fm.IncludeTermVectors = f.Positions
		case KindNumeric:
			fm = bleve.NewNumericFieldMapping()
		}
		fm.Index = f.Indexed
		fm.Store = f.Stored
		fm.IncludeInAll = false
		dm.AddFieldMappingsAt(f.Name, fm)
	}

	im.DefaultMapping = dm
	im.DefaultAnalyzer = textpipe.AnalyzerName
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false
	return im, nil
}

// DocID is the canonical key term of a thread.
func DocID(threadID int64) string {
	return strconv.FormatInt(threadID, 10)
}

// ParseDocID reverses DocID.
func ParseDocID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid document id %q: %w", id, err)
	}
	return n, nil
}

// Document converts a post into the field map indexed under DocID(post.ThreadID).
// Text is stored verbatim; substitutions are applied by the analyzer.
func Document(post *models.Post) map[string]interface{} {
	return map[string]interface{}{
		FieldThreadID:       float64(post.ThreadID),
		FieldTitle:          post.Title,
		FieldText:           post.Text,
		FieldNodeID:         float64(post.NodeID),
		FieldModerationFlag: float64(post.ModerationFlag),
		FieldPostDate:       float64(post.PostDate),
	}
}

// StoredFromHit rebuilds the stored fields of a hit from its id and field map.
func StoredFromHit(id string, fields map[string]interface{}) (models.StoredFields, error) {
	threadID, err := ParseDocID(id)
	if err != nil {
		return models.StoredFields{}, err
	}
	out := models.StoredFields{ThreadID: threadID}
	if title, ok := fields[FieldTitle].(string); ok {
		out.Title = title
	}
	return out, nil
}
