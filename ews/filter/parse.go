// Copyright 2026 The Mailworks Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/overloads"
	"github.com/hashicorp/go-multierror"
	"github.com/mailworks/ews-go/ews/schema"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Parse translates a textual filter expression into an Expr tree, e.g.
//
//	subject.contains("invoice") && importance >= 2
//
// The supported grammar is the comparison, membership and text-match subset
// of CEL; field capability is checked later, at compile time.
func Parse(text string) (*Expr, error) {
	env, err := cel.NewEnv(cel.ClearMacros())
	if err != nil {
		return nil, err
	}

	parsed, issues := env.Parse(text)
	if issues != nil && len(issues.Errors()) > 0 {
		resultErr := fmt.Errorf("error parsing filter")
		for _, e := range issues.Errors() {
			resultErr = multierror.Append(resultErr, fmt.Errorf("%s (%d:%d)", e.Message, e.Location.Line(), e.Location.Column()))
		}
		return nil, resultErr
	}

	maybeExpr, err := visitParsed(parsed.Expr())
	if err != nil {
		return nil, err
	}

	result, ok := maybeExpr.(*Expr)
	if !ok {
		return nil, fmt.Errorf("expression did not result in a filter")
	}
	return result, nil
}

func visitParsed(expression *expr.Expr) (interface{}, error) {
	switch expression.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return expression.GetIdentExpr().Name, nil
	case *expr.Expr_ConstExpr:
		return visitConst(expression)
	case *expr.Expr_SelectExpr:
		return visitSelect(expression)
	case *expr.Expr_ListExpr:
		return visitList(expression)
	case *expr.Expr_CallExpr:
		return visitCall(expression)
	default:
		return nil, fmt.Errorf("unrecognized expression: %v", expression)
	}
}

func visitConst(expression *expr.Expr) (interface{}, error) {
	constantExpr := expression.GetConstExpr()

	switch constantExpr.ConstantKind.(type) {
	case *expr.Constant_BoolValue:
		return constantExpr.GetBoolValue(), nil
	case *expr.Constant_StringValue:
		return constantExpr.GetStringValue(), nil
	case *expr.Constant_Int64Value:
		return constantExpr.GetInt64Value(), nil
	case *expr.Constant_Uint64Value:
		return constantExpr.GetUint64Value(), nil
	case *expr.Constant_DoubleValue:
		return constantExpr.GetDoubleValue(), nil
	default:
		return nil, fmt.Errorf("unrecognized constant kind %T", constantExpr.ConstantKind)
	}
}

func visitSelect(expression *expr.Expr) (string, error) {
	selectExpr := expression.GetSelectExpr()
	operand, err := visitParsed(selectExpr.Operand)
	if err != nil {
		return "", err
	}
	name, err := assertString(operand)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", name, selectExpr.Field), nil
}

func visitList(expression *expr.Expr) ([]interface{}, error) {
	listExpr := expression.GetListExpr()
	elements := make([]interface{}, 0, len(listExpr.Elements))
	for _, element := range listExpr.Elements {
		value, err := visitParsed(element)
		if err != nil {
			return nil, err
		}
		elements = append(elements, value)
	}
	return elements, nil
}

func visitCall(expression *expr.Expr) (interface{}, error) {
	function := expression.GetCallExpr().Function
	switch function {
	case operators.LogicalAnd, operators.LogicalOr:
		return visitConnective(expression)
	case operators.LogicalNot:
		return visitNegation(expression)
	case operators.Equals,
		operators.NotEquals,
		operators.Greater,
		operators.GreaterEquals,
		operators.Less,
		operators.LessEquals,
		operators.In,
		operators.OldIn:
		return visitComparison(expression)
	case overloads.Contains, overloads.StartsWith:
		return visitTextMatch(expression)
	default:
		return nil, fmt.Errorf("unrecognized function: %s", function)
	}
}

func visitConnective(expression *expr.Expr) (interface{}, error) {
	args := expression.GetCallExpr().Args
	if len(args) != 2 {
		return nil, fmt.Errorf("unexpected number of arguments to binary operator")
	}

	lhs, err := assertExpr(visitParsed(args[0]))
	if err != nil {
		return nil, err
	}
	rhs, err := assertExpr(visitParsed(args[1]))
	if err != nil {
		return nil, err
	}

	if expression.GetCallExpr().Function == operators.LogicalAnd {
		return &Expr{kind: kindAnd, children: []*Expr{lhs, rhs}}, nil
	}
	return &Expr{kind: kindOr, children: []*Expr{lhs, rhs}}, nil
}

func visitNegation(expression *expr.Expr) (interface{}, error) {
	args := expression.GetCallExpr().Args
	if len(args) != 1 {
		return nil, fmt.Errorf("unexpected number of arguments to negation")
	}
	child, err := assertExpr(visitParsed(args[0]))
	if err != nil {
		return nil, err
	}
	return Not(child), nil
}

func visitComparison(expression *expr.Expr) (interface{}, error) {
	callExpr := expression.GetCallExpr()
	if len(callExpr.Args) != 2 {
		return nil, fmt.Errorf("unexpected number of arguments to binary operator")
	}

	lhs, err := visitParsed(callExpr.Args[0])
	if err != nil {
		return nil, err
	}
	field, err := assertString(lhs)
	if err != nil {
		return nil, err
	}
	value, err := visitParsed(callExpr.Args[1])
	if err != nil {
		return nil, err
	}

	var op schema.Operator
	switch callExpr.Function {
	case operators.Equals:
		op = schema.OpEquals
	case operators.NotEquals:
		op = schema.OpNot
	case operators.Greater:
		op = schema.OpGt
	case operators.GreaterEquals:
		op = schema.OpGte
	case operators.Less:
		op = schema.OpLt
	case operators.LessEquals:
		op = schema.OpLte
	case operators.In, operators.OldIn:
		op = schema.OpIn
	default:
		return nil, fmt.Errorf("unrecognized function %s", callExpr.Function)
	}

	return F(field, op, value), nil
}

func visitTextMatch(expression *expr.Expr) (interface{}, error) {
	callExpr := expression.GetCallExpr()

	parsedTarget, err := visitParsed(callExpr.Target)
	if err != nil {
		return nil, err
	}
	field, err := assertString(parsedTarget)
	if err != nil {
		return nil, err
	}

	if len(callExpr.Args) != 1 {
		return nil, fmt.Errorf("invalid number of arguments")
	}
	parsedArg, err := visitParsed(callExpr.Args[0])
	if err != nil {
		return nil, err
	}
	arg, err := assertString(parsedArg)
	if err != nil {
		return nil, err
	}

	switch callExpr.Function {
	case overloads.Contains:
		return F(field, schema.OpContains, arg), nil
	case overloads.StartsWith:
		return F(field, schema.OpStartsWith, arg), nil
	}
	return nil, fmt.Errorf("unrecognized function: %s", callExpr.Function)
}

func assertString(value interface{}) (string, error) {
	stringValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("expected %[1]v to have type string but was %[1]T", value)
	}
	return stringValue, nil
}

func assertExpr(value interface{}, err error) (*Expr, error) {
	if err != nil {
		return nil, err
	}
	e, ok := value.(*Expr)
	if !ok {
		return nil, fmt.Errorf("expected a filter expression but got %T", value)
	}
	return e, nil
}
