// Package schema implements the semantic column type system: scalar
// numeric/complex values and the three trace variants, with a round
// trip to Apache Arrow's columnar storage form. Extension tags are
// carried as Arrow IPC field metadata, since arrow-go has no pluggable
// extension-type registry in the version wired here.
package schema

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/fricon-project/fricon/internal/ferrors"
)

// Extension metadata keys, matching Arrow's IPC extension-type
// convention (the same keys arrow-go's own extension package writes).
const (
	extNameKey     = "ARROW:extension:name"
	extMetadataKey = "ARROW:extension:metadata"

	ExtComplexName = "fricon.complex"
	ExtTraceName   = "fricon.trace"
)

// ScalarKind is a scalar column's semantic numeric kind.
type ScalarKind int

const (
	ScalarFloat64 ScalarKind = iota
	ScalarComplex128
)

func (k ScalarKind) String() string {
	if k == ScalarComplex128 {
		return "complex128"
	}
	return "float64"
}

// TraceVariant is one of the three trace encodings over a scalar item type.
type TraceVariant int

const (
	TraceSimpleList TraceVariant = iota
	TraceFixedStep
	TraceVariableStep
)

func (v TraceVariant) String() string {
	switch v {
	case TraceFixedStep:
		return "fixed_step"
	case TraceVariableStep:
		return "variable_step"
	default:
		return "simple_list"
	}
}

// DataType is the semantic type of a dataset column: either a bare
// Scalar or a Trace over a scalar item type.
type DataType struct {
	Scalar  *ScalarKind
	Trace   *TraceVariant
	TraceOf ScalarKind // item type when Trace != nil
}

func Scalar(kind ScalarKind) DataType {
	k := kind
	return DataType{Scalar: &k}
}

func Trace(variant TraceVariant, item ScalarKind) DataType {
	v := variant
	return DataType{Trace: &v, TraceOf: item}
}

func (d DataType) String() string {
	if d.Scalar != nil {
		return d.Scalar.String()
	}
	return fmt.Sprintf("trace(%s, %s)", d.Trace, d.TraceOf)
}

// Field is a named column with a semantic type.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
}

// Schema is an ordered sequence of fields.
type Schema struct {
	Fields []Field
}

func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func scalarStorageType(kind ScalarKind) arrow.DataType {
	if kind == ScalarFloat64 {
		return arrow.PrimitiveTypes.Float64
	}
	return complexStorageType()
}

func complexStorageType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "real", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		arrow.Field{Name: "imag", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	)
}

func withExtension(name string, metadata string) arrow.Metadata {
	if metadata == "" {
		return arrow.NewMetadata([]string{extNameKey}, []string{name})
	}
	return arrow.NewMetadata([]string{extNameKey, extMetadataKey}, []string{name, metadata})
}

// ToArrowField converts a semantic field to its Arrow storage field,
// carrying the extension tag in field metadata.
func (f Field) ToArrowField() arrow.Field {
	switch {
	case f.Type.Scalar != nil:
		storage := scalarStorageType(*f.Type.Scalar)
		af := arrow.Field{Name: f.Name, Type: storage, Nullable: f.Nullable}
		if *f.Type.Scalar == ScalarComplex128 {
			meta := withExtension(ExtComplexName, "")
			af.Metadata = meta
		}
		return af
	default:
		item := arrow.Field{Name: "item", Type: scalarStorageType(f.Type.TraceOf), Nullable: false}
		storage := traceStorageType(*f.Type.Trace, item.Type)
		af := arrow.Field{Name: f.Name, Type: storage, Nullable: f.Nullable}
		af.Metadata = withExtension(ExtTraceName, f.Type.Trace.String())
		return af
	}
}

func traceStorageType(variant TraceVariant, itemType arrow.DataType) arrow.DataType {
	switch variant {
	case TraceSimpleList:
		return arrow.ListOf(itemType)
	case TraceFixedStep:
		return arrow.StructOf(
			arrow.Field{Name: "x0", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
			arrow.Field{Name: "step", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
			arrow.Field{Name: "y", Type: arrow.ListOf(itemType), Nullable: false},
		)
	default: // TraceVariableStep
		return arrow.StructOf(
			arrow.Field{Name: "x", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: false},
			arrow.Field{Name: "y", Type: arrow.ListOf(itemType), Nullable: false},
		)
	}
}

// ToArrowSchema converts a whole semantic schema to its Arrow form.
func (s Schema) ToArrowSchema() *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = f.ToArrowField()
	}
	return arrow.NewSchema(fields, nil)
}

func metaGet(meta arrow.Metadata, key string) (string, bool) {
	idx := meta.FindKey(key)
	if idx < 0 {
		return "", false
	}
	return meta.Values()[idx], true
}

// FieldFromArrow recognizes the semantic type of an Arrow field,
// preferring its extension tag when present but falling back to
// shape-based inference: a struct with the expected field names and
// inner types is recognized even if the tag was stripped; a present
// tag with a malformed shape is rejected rather than silently
// accepted.
func FieldFromArrow(af arrow.Field) (Field, error) {
	extName, hasExt := metaGet(af.Metadata, extNameKey)

	if isFloat64(af.Type) && (!hasExt || extName == "") {
		return Field{Name: af.Name, Type: Scalar(ScalarFloat64), Nullable: af.Nullable}, nil
	}

	if isComplexShape(af.Type) {
		if hasExt && extName != ExtComplexName {
			return Field{}, ferrors.New(ferrors.KindInvalidSchema, ferrors.CodeMalformed)
		}
		return Field{Name: af.Name, Type: Scalar(ScalarComplex128), Nullable: af.Nullable}, nil
	}

	if variant, item, ok := traceShape(af.Type); ok {
		if hasExt {
			metaVal, _ := metaGet(af.Metadata, extMetadataKey)
			if extName != ExtTraceName {
				return Field{}, ferrors.New(ferrors.KindInvalidSchema, ferrors.CodeMalformed)
			}
			if parsed, ok := parseTraceVariant(metaVal); ok && parsed != variant {
				// The tag names a trace variant the storage shape is not.
				return Field{}, ferrors.New(ferrors.KindInvalidSchema, ferrors.CodeMalformed)
			}
		}
		return Field{Name: af.Name, Type: Trace(variant, item), Nullable: af.Nullable}, nil
	}

	if hasExt {
		// A tag is present but the storage shape doesn't match any
		// recognized layout: the tag is lying about its own payload.
		return Field{}, ferrors.New(ferrors.KindInvalidSchema, ferrors.CodeMalformed)
	}
	return Field{}, ferrors.New(ferrors.KindInvalidSchema, ferrors.CodeUnsupportedType)
}

func parseTraceVariant(s string) (TraceVariant, bool) {
	switch s {
	case "simple_list":
		return TraceSimpleList, true
	case "fixed_step":
		return TraceFixedStep, true
	case "variable_step":
		return TraceVariableStep, true
	default:
		return 0, false
	}
}

func isFloat64(t arrow.DataType) bool {
	return t.ID() == arrow.FLOAT64
}

func isComplexShape(t arrow.DataType) bool {
	st, ok := t.(*arrow.StructType)
	if !ok || st.NumFields() != 2 {
		return false
	}
	f0, f1 := st.Field(0), st.Field(1)
	return f0.Name == "real" && f1.Name == "imag" && isFloat64(f0.Type) && isFloat64(f1.Type)
}

func traceShape(t arrow.DataType) (TraceVariant, ScalarKind, bool) {
	if lt, ok := t.(*arrow.ListType); ok {
		item, ok := scalarKindOf(lt.Elem())
		if !ok {
			return 0, 0, false
		}
		return TraceSimpleList, item, true
	}
	st, ok := t.(*arrow.StructType)
	if !ok {
		return 0, 0, false
	}
	switch st.NumFields() {
	case 3:
		f0, f1, f2 := st.Field(0), st.Field(1), st.Field(2)
		if f0.Name != "x0" || f1.Name != "step" || f2.Name != "y" {
			return 0, 0, false
		}
		if !isFloat64(f0.Type) || !isFloat64(f1.Type) {
			return 0, 0, false
		}
		lt, ok := f2.Type.(*arrow.ListType)
		if !ok {
			return 0, 0, false
		}
		item, ok := scalarKindOf(lt.Elem())
		if !ok {
			return 0, 0, false
		}
		return TraceFixedStep, item, true
	case 2:
		f0, f1 := st.Field(0), st.Field(1)
		if f0.Name != "x" || f1.Name != "y" {
			return 0, 0, false
		}
		xlt, ok := f0.Type.(*arrow.ListType)
		if !ok || !isFloat64(xlt.Elem()) {
			return 0, 0, false
		}
		ylt, ok := f1.Type.(*arrow.ListType)
		if !ok {
			return 0, 0, false
		}
		item, ok := scalarKindOf(ylt.Elem())
		if !ok {
			return 0, 0, false
		}
		return TraceVariableStep, item, true
	default:
		return 0, 0, false
	}
}

func scalarKindOf(t arrow.DataType) (ScalarKind, bool) {
	if isFloat64(t) {
		return ScalarFloat64, true
	}
	if isComplexShape(t) {
		return ScalarComplex128, true
	}
	return 0, false
}

// FromArrowSchema converts every field of an Arrow schema, failing the
// whole conversion on the first unsupported field.
func FromArrowSchema(as *arrow.Schema) (Schema, error) {
	fields := make([]Field, as.NumFields())
	for i, af := range as.Fields() {
		f, err := FieldFromArrow(af)
		if err != nil {
			return Schema{}, errorsWithField(err, af.Name)
		}
		fields[i] = f
	}
	return Schema{Fields: fields}, nil
}

// FromArrowSchemaFiltered converts what it can, returning the names of
// fields it had to drop because their shape matched no recognized form.
func FromArrowSchemaFiltered(as *arrow.Schema) (Schema, []string) {
	var fields []Field
	var skipped []string
	for _, af := range as.Fields() {
		f, err := FieldFromArrow(af)
		if err != nil {
			skipped = append(skipped, af.Name)
			continue
		}
		fields = append(fields, f)
	}
	return Schema{Fields: fields}, skipped
}

func errorsWithField(err error, name string) error {
	if fe, ok := err.(*ferrors.Error); ok {
		return ferrors.Wrap(fe.Kind, fe.Code, err, fmt.Sprintf("field %q", name))
	}
	return err
}

// Equal reports whether two schemas describe the same fields in the
// same order.
func Equal(a, b Schema) bool {
	if len(a.Fields) != len(b.Fields) {
		return false
	}
	for i := range a.Fields {
		fa, fb := a.Fields[i], b.Fields[i]
		if fa.Name != fb.Name || fa.Nullable != fb.Nullable {
			return false
		}
		if !typeEqual(fa.Type, fb.Type) {
			return false
		}
	}
	return true
}

func typeEqual(a, b DataType) bool {
	if (a.Scalar == nil) != (b.Scalar == nil) {
		return false
	}
	if a.Scalar != nil {
		return *a.Scalar == *b.Scalar
	}
	return *a.Trace == *b.Trace && a.TraceOf == b.TraceOf
}
