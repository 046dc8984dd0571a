package ir

import (
	"bytes"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/gnolang/tdfa/internal/analysis/lattice"
	"github.com/gnolang/tdfa/internal/analysis/value"
)

// ErrBadProgram marks a program file that does not describe valid IR.
var ErrBadProgram = errors.New("bad program file")

// TypeSpec is the YAML form of a lattice type. At most one field is set;
// an empty spec is Top.
type TypeSpec struct {
	Int      *int64  `yaml:"int,omitempty"`
	Range    []int64 `yaml:"range,omitempty,flow"`
	Bool     *bool   `yaml:"bool,omitempty"`
	AnyInt   bool    `yaml:"any_int,omitempty"`
	AnyBool  bool    `yaml:"any_bool,omitempty"`
	Null     bool    `yaml:"nil,omitempty"`
	NotNull  bool    `yaml:"not_null,omitempty"`
	Nullable bool    `yaml:"nullable,omitempty"`
}

// Type returns the lattice type s describes.
func (s TypeSpec) Type() (lattice.Type, error) {
	switch {
	case s.Int != nil:
		return lattice.IntConst(*s.Int), nil
	case s.Range != nil:
		if len(s.Range) != 2 || s.Range[0] > s.Range[1] {
			return lattice.Type{}, errors.Wrapf(ErrBadProgram, "range %v", s.Range)
		}
		return lattice.Int(s.Range[0], s.Range[1]), nil
	case s.Bool != nil:
		return lattice.Bool(*s.Bool), nil
	case s.AnyInt:
		return lattice.AnyInt(), nil
	case s.AnyBool:
		return lattice.AnyBool(), nil
	case s.Null:
		return lattice.Null(), nil
	case s.NotNull:
		return lattice.NotNull(), nil
	case s.Nullable:
		return lattice.Nullable(), nil
	}
	return lattice.Top(), nil
}

// ValueSpec is the YAML form of a value reference. Var, Field and Box
// name storage; otherwise the embedded type describes a constant.
type ValueSpec struct {
	Var      string `yaml:"var,omitempty"`
	Field    string `yaml:"field,omitempty"`
	Box      string `yaml:"box,omitempty"`
	Unknown  bool   `yaml:"unknown,omitempty"`
	TypeSpec `yaml:",inline"`
}

func (s ValueSpec) Ref() (value.Ref, error) {
	t, err := s.TypeSpec.Type()
	if err != nil {
		return value.Ref{}, err
	}
	switch {
	case s.Var != "":
		if t.IsTop() {
			return value.Var(s.Var), nil
		}
		return value.TypedVar(s.Var, t), nil
	case s.Field != "":
		base, field, ok := strings.Cut(s.Field, ".")
		if !ok || base == "" || field == "" {
			return value.Ref{}, errors.Wrapf(ErrBadProgram, "field %q: want base.field", s.Field)
		}
		return value.FieldOf(base, field), nil
	case s.Box != "":
		inner, field, _ := strings.Cut(s.Box, ".")
		return value.Boxed(inner, field, t), nil
	case s.Unknown:
		return value.UnknownRef(), nil
	}
	return value.Const(t), nil
}

// TrapSpec is the YAML form of a trap.
type TrapSpec struct {
	Catch         map[string]string `yaml:"catch,omitempty"`
	CatchOrder    []string          `yaml:"catch_order,omitempty"`
	CatchAll      string            `yaml:"catch_all,omitempty"`
	Finally       string            `yaml:"finally,omitempty"`
	InsideFinally bool              `yaml:"inside_finally,omitempty"`
}

func (s TrapSpec) Trap() (Trap, error) {
	switch {
	case len(s.Catch) > 0:
		order := s.CatchOrder
		if len(order) == 0 {
			for typ := range s.Catch {
				order = append(order, typ)
			}
			sort.Strings(order)
		}
		trap := &CatchTrap{}
		for _, typ := range order {
			label, ok := s.Catch[typ]
			if !ok {
				return nil, errors.Wrapf(ErrBadProgram, "catch_order names %q without a handler", typ)
			}
			trap.Clauses = append(trap.Clauses, CatchClause{Type: typ, Handler: At(label)})
		}
		return trap, nil
	case s.CatchAll != "":
		return &CatchAllTrap{Handler: At(s.CatchAll)}, nil
	case s.Finally != "":
		return &FinallyTrap{Handler: At(s.Finally)}, nil
	case s.InsideFinally:
		return &InsideFinallyTrap{}, nil
	}
	return nil, errors.Wrap(ErrBadProgram, "empty trap")
}

// TransferSpec is the YAML form of a transfer.
type TransferSpec struct {
	Return      bool        `yaml:"return,omitempty"`
	Exception   string      `yaml:"exception,omitempty"`
	Goto        string      `yaml:"goto,omitempty"`
	Flush       []ValueSpec `yaml:"flush,omitempty"`
	ExitFinally string      `yaml:"exit_finally,omitempty"`
	Traps       []TrapSpec  `yaml:"traps,omitempty"`
}

func (s TransferSpec) Transfer() (*Transfer, error) {
	t := &Transfer{}
	switch {
	case s.Return:
		t.Target = &ReturnTarget{}
	case s.Exception != "":
		t.Target = &ExceptionTarget{Type: s.Exception}
	case s.Goto != "":
		flush, err := refs(s.Flush)
		if err != nil {
			return nil, err
		}
		t.Target = &InstructionTarget{Offset: At(s.Goto), Flush: flush}
	case s.ExitFinally != "":
		t.Target = &ExitFinallyTarget{Finally: At(s.ExitFinally)}
	default:
		return nil, errors.Wrap(ErrBadProgram, "transfer without target")
	}
	for _, ts := range s.Traps {
		trap, err := ts.Trap()
		if err != nil {
			return nil, err
		}
		t.Traps = append(t.Traps, trap)
	}
	return t, nil
}

// InstructionSpec is the YAML form of one instruction.
type InstructionSpec struct {
	Label    string        `yaml:"label,omitempty"`
	Op       string        `yaml:"op"`
	Value    *ValueSpec    `yaml:"value,omitempty"`
	Var      *ValueSpec    `yaml:"var,omitempty"`
	Vars     []ValueSpec   `yaml:"vars,omitempty"`
	Operator string        `yaml:"operator,omitempty"`
	Target   string        `yaml:"target,omitempty"`
	Negated  bool          `yaml:"negated,omitempty"`
	Name     string        `yaml:"name,omitempty"`
	Args     int           `yaml:"args,omitempty"`
	Pure     bool          `yaml:"pure,omitempty"`
	Transfer *TransferSpec `yaml:"transfer,omitempty"`
	Anchor   *Anchor       `yaml:"anchor,omitempty"`
}

// InitSpec is an initial constraint in YAML form.
type InitSpec struct {
	Var      ValueSpec `yaml:"var"`
	TypeSpec `yaml:",inline"`
}

// File is the YAML document describing a program.
type File struct {
	Name         string            `yaml:"name"`
	Source       string            `yaml:"source,omitempty"`
	Init         []InitSpec        `yaml:"init,omitempty"`
	Instructions []InstructionSpec `yaml:"instructions"`
}

// LoadFile reads and binds a program file.
func LoadFile(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open program %s", path)
	}
	defer f.Close()

	p, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load program %s", path)
	}
	if p.Name == "" {
		p.Name = path
	}
	return p, nil
}

// Parse binds a program from YAML bytes.
func Parse(data []byte) (*Program, error) {
	return Load(bytes.NewReader(data))
}

// Load decodes a program document and binds it.
func Load(r io.Reader) (*Program, error) {
	var doc File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(errors.Mark(err, ErrBadProgram), "decode program")
	}
	return doc.Build()
}

// Build converts the document into a bound program.
func (doc File) Build() (*Program, error) {
	b := NewBuilder(doc.Name).Source(doc.Source)
	for _, is := range doc.Init {
		ref, err := is.Var.Ref()
		if err != nil {
			return nil, err
		}
		t, err := is.TypeSpec.Type()
		if err != nil {
			return nil, err
		}
		b.Assume(ref, t)
	}
	for i, spec := range doc.Instructions {
		inst, err := spec.instruction()
		if err != nil {
			return nil, errors.Wrapf(err, "instruction %d (%s)", i, spec.Op)
		}
		if spec.Label != "" {
			b.Label(spec.Label)
		}
		b.Emit(inst)
	}
	return b.Build()
}

func (s InstructionSpec) anchor() Anchor {
	if s.Anchor == nil {
		return Anchor{}
	}
	return *s.Anchor
}

func (s InstructionSpec) instruction() (Instruction, error) {
	switch s.Op {
	case "push":
		ref, err := s.valueRef(s.Value)
		if err != nil {
			return nil, err
		}
		return &Push{Value: ref}, nil
	case "pop":
		return &Pop{}, nil
	case "dup":
		return &Dup{}, nil
	case "assign":
		ref, err := s.valueRef(s.Var)
		if err != nil {
			return nil, err
		}
		return &Assign{Target: ref}, nil
	case "goto":
		return &Goto{Target: At(s.Target)}, nil
	case "if":
		return &ConditionalGoto{Target: At(s.Target), Negated: s.Negated, Anchor: s.anchor()}, nil
	case "binary":
		op, ok := ParseBinaryOp(s.Operator)
		if !ok {
			return nil, errors.Wrapf(ErrBadProgram, "operator %q", s.Operator)
		}
		return &BooleanBinary{Op: op, Anchor: s.anchor()}, nil
	case "array_access":
		def := value.UnknownRef()
		if s.Value != nil {
			ref, err := s.Value.Ref()
			if err != nil {
				return nil, err
			}
			def = ref
		}
		inst := &ArrayAccess{Default: def, Anchor: s.anchor()}
		if s.Transfer != nil {
			t, err := s.Transfer.Transfer()
			if err != nil {
				return nil, err
			}
			inst.OutOfBounds = t
		}
		return inst, nil
	case "escape":
		vars, err := refs(s.Vars)
		if err != nil {
			return nil, err
		}
		return &Escape{Vars: vars}, nil
	case "flush", "scope_exit":
		vars, err := refs(s.Vars)
		if err != nil {
			return nil, err
		}
		return &ScopeExit{Vars: vars}, nil
	case "call":
		result := value.UnknownRef()
		if s.Value != nil {
			ref, err := s.Value.Ref()
			if err != nil {
				return nil, err
			}
			result = ref
		}
		return &MethodCall{Name: s.Name, Args: s.Args, Pure: s.Pure, Result: result, Anchor: s.anchor()}, nil
	case "transfer", "return", "throw":
		spec := s.Transfer
		switch {
		case spec == nil && s.Op == "return":
			spec = &TransferSpec{Return: true}
		case spec == nil && s.Op == "throw" && s.Name != "":
			spec = &TransferSpec{Exception: s.Name}
		case spec == nil:
			return nil, errors.Wrap(ErrBadProgram, "missing transfer")
		}
		t, err := spec.Transfer()
		if err != nil {
			return nil, err
		}
		return &ControlTransfer{Transfer: t, Anchor: s.anchor()}, nil
	}
	return nil, errors.Wrapf(ErrBadProgram, "unknown op %q", s.Op)
}

func (s InstructionSpec) valueRef(v *ValueSpec) (value.Ref, error) {
	if v == nil {
		return value.Ref{}, errors.Wrapf(ErrBadProgram, "%s needs a value", s.Op)
	}
	return v.Ref()
}

func refs(specs []ValueSpec) ([]value.Ref, error) {
	out := make([]value.Ref, 0, len(specs))
	for _, s := range specs {
		r, err := s.Ref()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
