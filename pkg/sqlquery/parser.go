package sqlquery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/formdb/pkg/record"
)

// Parse turns query text into a [Query]. Errors are *[SyntaxError] with
// byte offsets into the input.
func Parse(src string) (*Query, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}

	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}

	return q, nil
}

type parser struct {
	tokens []Token
	idx    int
}

func (p *parser) peek() Token {
	return p.tokens[p.idx]
}

func (p *parser) advance() Token {
	tok := p.tokens[p.idx]
	if tok.Kind != TokenEOF {
		p.idx++
	}

	return tok
}

// errAt builds a syntax error anchored at tok.
func errAt(tok Token, format string, args ...any) error {
	return &SyntaxError{Message: fmt.Sprintf(format, args...), From: tok.From, To: tok.To}
}

func (p *parser) expectKeyword(word string) error {
	tok := p.advance()
	if !tok.keyword(word) {
		return errAt(tok, "expected %s, got %q", word, tok.Text)
	}

	return nil
}

func (p *parser) expectSymbol(sym string) error {
	tok := p.advance()
	if tok.Kind != TokenSymbol || tok.Text != sym {
		return errAt(tok, "expected %q, got %q", sym, tok.Text)
	}

	return nil
}

func (p *parser) parseQuery() (*Query, error) {
	err := p.expectKeyword("SELECT")
	if err != nil {
		return nil, err
	}

	err = p.expectSymbol("*")
	if err != nil {
		tok := p.peek()

		return nil, errAt(tok, "only SELECT * is supported")
	}

	err = p.expectKeyword("FROM")
	if err != nil {
		return nil, err
	}

	q := &Query{}

	q.From, err = p.parseTableRef()
	if err != nil {
		return nil, err
	}

	for {
		join, ok, joinErr := p.parseJoin()
		if joinErr != nil {
			return nil, joinErr
		}

		if !ok {
			break
		}

		q.Joins = append(q.Joins, join)
	}

	if p.peek().keyword("WHERE") {
		p.advance()

		q.Where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}

	if p.peek().keyword("ORDER") {
		p.advance()

		err = p.expectKeyword("BY")
		if err != nil {
			return nil, err
		}

		q.OrderBy, err = p.parseOrderKeys()
		if err != nil {
			return nil, err
		}
	}

	if p.peek().keyword("LIMIT") {
		p.advance()

		tok := p.advance()
		if tok.Kind != TokenNumber {
			return nil, errAt(tok, "LIMIT value must be a number")
		}

		n, convErr := strconv.Atoi(tok.Text)
		if convErr != nil {
			return nil, errAt(tok, "LIMIT value must be an integer")
		}

		if n < 0 {
			return nil, errAt(tok, "LIMIT value must be non-negative")
		}

		q.Limit = &n
	}

	// A single trailing statement terminator is tolerated.
	if tok := p.peek(); tok.Kind == TokenSymbol && tok.Text == ";" {
		p.advance()
	}

	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, errAt(tok, "unexpected trailing input %q", tok.Text)
	}

	return q, nil
}

func (p *parser) parseTableRef() (TableRef, error) {
	tok := p.advance()
	if tok.Kind != TokenIdent {
		return TableRef{}, errAt(tok, "expected table name, got %q", tok.Text)
	}

	ref := TableRef{Name: tok.Text}

	if p.peek().keyword("AS") {
		p.advance()

		alias := p.advance()
		if alias.Kind != TokenIdent {
			return TableRef{}, errAt(alias, "expected alias, got %q", alias.Text)
		}

		ref.Alias = alias.Text

		return ref, nil
	}

	// Bare alias, unless the next ident is a clause keyword.
	next := p.peek()
	if next.Kind == TokenIdent && !isClauseKeyword(next.Text) {
		p.advance()

		ref.Alias = next.Text
	}

	return ref, nil
}

// clauseKeywords terminate an implicit alias position.
var clauseKeywords = map[string]struct{}{
	"WHERE": {}, "ORDER": {}, "LIMIT": {}, "JOIN": {}, "INNER": {}, "LEFT": {},
	"RIGHT": {}, "FULL": {}, "CROSS": {}, "NATURAL": {}, "ON": {}, "USING": {},
	"AND": {}, "OR": {}, "NOT": {}, "AS": {}, "BY": {}, "ASC": {}, "DESC": {},
	"IS": {}, "IN": {}, "LIKE": {}, "NULL": {}, "OUTER": {},
}

func isClauseKeyword(word string) bool {
	_, ok := clauseKeywords[strings.ToUpper(word)]

	return ok
}

// parseJoin consumes one join clause if present.
func (p *parser) parseJoin() (Join, bool, error) {
	var join Join

	natural := false

	if p.peek().keyword("NATURAL") {
		p.advance()

		natural = true
	}

	switch {
	case p.peek().keyword("JOIN"):
		join.Kind = JoinInner
	case p.peek().keyword("INNER"):
		p.advance()

		join.Kind = JoinInner
	case p.peek().keyword("LEFT"):
		p.advance()

		join.Kind = JoinLeft
	case p.peek().keyword("RIGHT"):
		p.advance()

		join.Kind = JoinRight
	case p.peek().keyword("FULL"):
		p.advance()

		join.Kind = JoinFull
	case p.peek().keyword("CROSS"):
		p.advance()

		join.Kind = JoinCross
	default:
		if natural {
			return Join{}, false, errAt(p.peek(), "expected JOIN after NATURAL")
		}

		return Join{}, false, nil
	}

	if p.peek().keyword("OUTER") {
		p.advance()
	}

	err := p.expectKeyword("JOIN")
	if err != nil {
		return Join{}, false, err
	}

	join.Natural = natural

	join.Table, err = p.parseTableRef()
	if err != nil {
		return Join{}, false, err
	}

	if join.Kind == JoinCross || natural {
		return join, true, nil
	}

	switch {
	case p.peek().keyword("ON"):
		p.advance()

		join.On, err = p.parseExpr()
		if err != nil {
			return Join{}, false, err
		}
	case p.peek().keyword("USING"):
		p.advance()

		join.Using, err = p.parseUsingList()
		if err != nil {
			return Join{}, false, err
		}
	default:
		return Join{}, false, errAt(p.peek(), "expected ON or USING after %s JOIN", join.Kind)
	}

	return join, true, nil
}

func (p *parser) parseUsingList() ([]string, error) {
	err := p.expectSymbol("(")
	if err != nil {
		return nil, err
	}

	var cols []string

	for {
		tok := p.advance()
		if tok.Kind != TokenIdent {
			return nil, errAt(tok, "expected column name, got %q", tok.Text)
		}

		cols = append(cols, tok.Text)

		next := p.advance()
		if next.Kind == TokenSymbol && next.Text == "," {
			continue
		}

		if next.Kind == TokenSymbol && next.Text == ")" {
			return cols, nil
		}

		return nil, errAt(next, "expected ',' or ')', got %q", next.Text)
	}
}

func (p *parser) parseOrderKeys() ([]OrderKey, error) {
	var keys []OrderKey

	for {
		col, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}

		key := OrderKey{Column: col}

		if p.peek().keyword("ASC") {
			p.advance()
		} else if p.peek().keyword("DESC") {
			p.advance()

			key.Desc = true
		}

		keys = append(keys, key)

		if tok := p.peek(); tok.Kind == TokenSymbol && tok.Text == "," {
			p.advance()

			continue
		}

		return keys, nil
	}
}

// parseExpr parses OR-joined predicates (lowest precedence).
func (p *parser) parseExpr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().keyword("OR") {
		p.advance()

		right, andErr := p.parseAnd()
		if andErr != nil {
			return nil, andErr
		}

		left = &LogicalExpr{Op: "OR", Left: left, Right: right}
	}

	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.peek().keyword("AND") {
		p.advance()

		right, unaryErr := p.parseUnary()
		if unaryErr != nil {
			return nil, unaryErr
		}

		left = &LogicalExpr{Op: "AND", Left: left, Right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().keyword("NOT") {
		p.advance()

		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &NotExpr{Inner: inner}, nil
	}

	if tok := p.peek(); tok.Kind == TokenSymbol && tok.Text == "(" {
		p.advance()

		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}

		err = p.expectSymbol(")")
		if err != nil {
			return nil, err
		}

		return inner, nil
	}

	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	if p.peek().keyword("IS") {
		p.advance()

		negate := false

		if p.peek().keyword("NOT") {
			p.advance()

			negate = true
		}

		err = p.expectKeyword("NULL")
		if err != nil {
			return nil, err
		}

		return &NullExpr{Left: left, Negate: negate}, nil
	}

	negate := false

	if p.peek().keyword("NOT") {
		p.advance()

		negate = true
	}

	if p.peek().keyword("IN") {
		p.advance()

		values, inErr := p.parseLiteralList()
		if inErr != nil {
			return nil, inErr
		}

		return &InExpr{Left: left, Values: values, Negate: negate}, nil
	}

	if p.peek().keyword("LIKE") {
		p.advance()

		right, likeErr := p.parseOperand()
		if likeErr != nil {
			return nil, likeErr
		}

		cmp := Expr(&CompareExpr{Op: "LIKE", Left: left, Right: right})
		if negate {
			cmp = &NotExpr{Inner: cmp}
		}

		return cmp, nil
	}

	if negate {
		return nil, errAt(p.peek(), "expected IN or LIKE after NOT")
	}

	tok := p.advance()
	if tok.Kind != TokenSymbol || !isCompareOp(tok.Text) {
		return nil, errAt(tok, "expected comparison operator, got %q", tok.Text)
	}

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	return &CompareExpr{Op: tok.Text, Left: left, Right: right}, nil
}

func isCompareOp(op string) bool {
	switch op {
	case "=", "!=", "<>", "<", "<=", ">", ">=":
		return true
	default:
		return false
	}
}

func (p *parser) parseLiteralList() ([]record.Value, error) {
	err := p.expectSymbol("(")
	if err != nil {
		return nil, err
	}

	var values []record.Value

	for {
		lit, litErr := p.parseLiteral()
		if litErr != nil {
			return nil, litErr
		}

		values = append(values, lit)

		next := p.advance()
		if next.Kind == TokenSymbol && next.Text == "," {
			continue
		}

		if next.Kind == TokenSymbol && next.Text == ")" {
			return values, nil
		}

		return nil, errAt(next, "expected ',' or ')', got %q", next.Text)
	}
}

func (p *parser) parseLiteral() (record.Value, error) {
	tok := p.advance()

	switch {
	case tok.Kind == TokenString:
		return record.StringValue(tok.Text), nil
	case tok.Kind == TokenNumber:
		n, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			return record.Value{}, errAt(tok, "invalid number %q", tok.Text)
		}

		return record.NumberValue(n), nil
	case tok.keyword("TRUE"):
		return record.BoolValue(true), nil
	case tok.keyword("FALSE"):
		return record.BoolValue(false), nil
	default:
		return record.Value{}, errAt(tok, "expected literal, got %q", tok.Text)
	}
}

// parseOperand parses a literal or a (possibly qualified) column
// reference. properties.<field> addresses schema fields explicitly, with
// or without a leading table alias.
func (p *parser) parseOperand() (Operand, error) {
	tok := p.peek()

	if tok.Kind == TokenString || tok.Kind == TokenNumber ||
		tok.keyword("TRUE") || tok.keyword("FALSE") {
		lit, err := p.parseLiteral()
		if err != nil {
			return Operand{}, err
		}

		return Operand{Literal: &lit}, nil
	}

	col, err := p.parseColumnRef()
	if err != nil {
		return Operand{}, err
	}

	return Operand{Column: &col}, nil
}

func (p *parser) parseColumnRef() (ColumnRef, error) {
	tok := p.advance()
	if tok.Kind != TokenIdent {
		return ColumnRef{}, errAt(tok, "expected column, got %q", tok.Text)
	}

	parts := []string{tok.Text}

	for {
		dot := p.peek()
		if dot.Kind != TokenSymbol || dot.Text != "." {
			break
		}

		p.advance()

		next := p.advance()
		if next.Kind != TokenIdent {
			return ColumnRef{}, errAt(next, "expected column after '.', got %q", next.Text)
		}

		parts = append(parts, next.Text)
	}

	return columnRefFromParts(tok, parts)
}

// columnRefFromParts resolves dotted forms: col, table.col,
// properties.field, and table.properties.field.
func columnRefFromParts(tok Token, parts []string) (ColumnRef, error) {
	switch len(parts) {
	case 1:
		return ColumnRef{Name: parts[0]}, nil
	case 2:
		if strings.EqualFold(parts[0], "properties") {
			return ColumnRef{Name: parts[1], Props: true}, nil
		}

		return ColumnRef{Table: parts[0], Name: parts[1]}, nil
	case 3:
		if !strings.EqualFold(parts[1], "properties") {
			return ColumnRef{}, errAt(tok, "invalid column reference %q", strings.Join(parts, "."))
		}

		return ColumnRef{Table: parts[0], Name: parts[2], Props: true}, nil
	default:
		return ColumnRef{}, errAt(tok, "invalid column reference %q", strings.Join(parts, "."))
	}
}
