package domain

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/shopspring/decimal"
)

// formulaNode 受限算术语法树节点，只支持 + - * /、一元负号、数字与事实标识符
type formulaNode interface {
	eval(facts MemberFinancialFacts) (decimal.Decimal, error)
}

type literalNode struct{ value decimal.Decimal }

type factNode struct{ name FactName }

type negateNode struct{ operand formulaNode }

type arithmeticNode struct {
	op          byte
	left, right formulaNode
}

// evalError 求值期错误，由 formulaCalc 补全规则信息
type evalError struct {
	reason  string
	missing FactName
}

func (e *evalError) Error() string { return e.reason }

func (n literalNode) eval(MemberFinancialFacts) (decimal.Decimal, error) { return n.value, nil }

func (n factNode) eval(facts MemberFinancialFacts) (decimal.Decimal, error) {
	v, ok := facts.Lookup(n.name)
	if !ok {
		return decimal.Zero, &evalError{reason: fmt.Sprintf("fact %q is missing", n.name), missing: n.name}
	}
	return v, nil
}

func (n negateNode) eval(facts MemberFinancialFacts) (decimal.Decimal, error) {
	v, err := n.operand.eval(facts)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

func (n arithmeticNode) eval(facts MemberFinancialFacts) (decimal.Decimal, error) {
	l, err := n.left.eval(facts)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(facts)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	default:
		if r.IsZero() {
			return decimal.Zero, &evalError{reason: "division by zero"}
		}
		return l.Div(r), nil
	}
}

// compileFormula 解析公式并转换为受限语法树，任何超出算术范围的节点都被拒绝
func compileFormula(ruleID, source string) (formulaNode, error) {
	fail := func(reason string) error {
		return &FormulaEvaluationError{RuleID: ruleID, Formula: source, Reason: reason}
	}
	if strings.TrimSpace(source) == "" {
		return nil, fail("formula is empty")
	}
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, fail("parse error: " + err.Error())
	}
	root, reason := convertNode(tree.Node)
	if reason != "" {
		return nil, fail(reason)
	}
	return root, nil
}

func convertNode(node ast.Node) (formulaNode, string) {
	switch n := node.(type) {
	case *ast.IntegerNode:
		return literalNode{value: decimal.NewFromInt(int64(n.Value))}, ""
	case *ast.FloatNode:
		return literalNode{value: decimal.NewFromFloat(n.Value)}, ""
	case *ast.IdentifierNode:
		name, ok := ParseFactName(n.Value)
		if !ok {
			return nil, fmt.Sprintf("unknown identifier %q", n.Value)
		}
		return factNode{name: name}, ""
	case *ast.UnaryNode:
		operand, reason := convertNode(n.Node)
		if reason != "" {
			return nil, reason
		}
		switch n.Operator {
		case "-":
			return negateNode{operand: operand}, ""
		case "+":
			return operand, ""
		}
		return nil, fmt.Sprintf("operator %q is not allowed", n.Operator)
	case *ast.BinaryNode:
		if len(n.Operator) != 1 || !strings.Contains("+-*/", n.Operator) {
			return nil, fmt.Sprintf("operator %q is not allowed", n.Operator)
		}
		left, reason := convertNode(n.Left)
		if reason != "" {
			return nil, reason
		}
		right, reason := convertNode(n.Right)
		if reason != "" {
			return nil, reason
		}
		return arithmeticNode{op: n.Operator[0], left: left, right: right}, ""
	}
	return nil, fmt.Sprintf("expression %T is not allowed", node)
}
