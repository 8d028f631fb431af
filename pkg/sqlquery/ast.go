package sqlquery

import "github.com/calvinalkan/formdb/pkg/record"

// Query is the parsed form of the supported SQL subset:
//
//	SELECT * FROM t [JOIN ...] [WHERE ...] [ORDER BY ...] [LIMIT n]
//
// There is no projection list (SELECT * only), no GROUP BY, and no
// subqueries.
type Query struct {
	From    TableRef
	Joins   []Join
	Where   Expr // nil when absent
	OrderBy []OrderKey
	Limit   *int // nil when absent
}

// TableRef names a table with an optional alias.
type TableRef struct {
	Name  string
	Alias string
}

// key returns the name used to qualify columns from this table.
func (t TableRef) key() string {
	if t.Alias != "" {
		return t.Alias
	}

	return t.Name
}

// JoinKind enumerates the supported join types.
type JoinKind uint8

// Join kinds.
const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinLeft:
		return "LEFT"
	case JoinRight:
		return "RIGHT"
	case JoinFull:
		return "FULL"
	case JoinCross:
		return "CROSS"
	default:
		return "INNER"
	}
}

// Join is one joined table with its condition: exactly one of On,
// Using, or Natural applies (CROSS joins carry none).
type Join struct {
	Kind    JoinKind
	Table   TableRef
	On      Expr
	Using   []string
	Natural bool
}

// OrderKey is one ORDER BY column.
type OrderKey struct {
	Column ColumnRef
	Desc   bool
}

// ColumnRef is a possibly table-qualified column. Inside joins, columns
// must be qualified with the table alias. The properties.<field> form
// arrives with Name set to the field and Props true.
type ColumnRef struct {
	Table string // alias or table name, empty when unqualified
	Name  string
	Props bool // referenced via properties.<name>
}

// Expr is a boolean predicate node.
type Expr interface{ exprNode() }

// LogicalExpr combines two predicates with AND/OR.
type LogicalExpr struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

// NotExpr negates a predicate.
type NotExpr struct {
	Inner Expr
}

// CompareExpr is a binary comparison between two operands.
// Op is one of = != <> < <= > >= LIKE.
type CompareExpr struct {
	Op    string
	Left  Operand
	Right Operand
}

// InExpr tests membership of a column in a literal list.
type InExpr struct {
	Left   Operand
	Values []record.Value
	Negate bool
}

// NullExpr tests a column for absence (IS NULL / IS NOT NULL).
type NullExpr struct {
	Left   Operand
	Negate bool
}

func (*LogicalExpr) exprNode() {}
func (*NotExpr) exprNode()     {}
func (*CompareExpr) exprNode() {}
func (*InExpr) exprNode()      {}
func (*NullExpr) exprNode()    {}

// Operand is either a column reference or a literal value.
type Operand struct {
	Column  *ColumnRef
	Literal *record.Value
}
