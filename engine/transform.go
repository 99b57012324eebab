package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// transformProgram validates a program against the allowed construct
// set and rewrites attribute writes through the __setmember__ guard.
// Anything the walk does not explicitly allow is rejected, so new
// language constructs stay blocked until someone decides otherwise.
func transformProgram(src string, permissive bool) (string, error) {
	prog, err := parser.ParseFile(nil, "program", src, 0)
	if err != nil {
		return "", fmt.Errorf("parse failed: %w", err)
	}
	t := &transformer{src: src, permissive: permissive}
	for _, stmt := range prog.Body {
		if err := t.visitStmt(stmt); err != nil {
			return "", err
		}
	}
	return t.render(0, len(src)), nil
}

// rewrite replaces the source span [start, end) with text.
type rewrite struct {
	start, end int
	text       string
}

type transformer struct {
	src        string
	permissive bool
	rewrites   []rewrite
}

func (t *transformer) off(idx file.Idx) int {
	return int(idx) - 1
}

func (t *transformer) span(node ast.Node) (int, int) {
	return t.off(node.Idx0()), t.off(node.Idx1())
}

func (t *transformer) lineAt(node ast.Node) int {
	off := t.off(node.Idx0())
	if off > len(t.src) {
		off = len(t.src)
	}
	return 1 + strings.Count(t.src[:off], "\n")
}

func (t *transformer) reject(node ast.Node, construct, reason string) error {
	return &SyntaxRejection{Line: t.lineAt(node), Construct: construct, Reason: reason}
}

func (t *transformer) add(start, end int, text string) {
	r := rewrite{start: start, end: end, text: text}
	at := sort.Search(len(t.rewrites), func(i int) bool {
		return t.rewrites[i].start >= r.start
	})
	t.rewrites = append(t.rewrites, rewrite{})
	copy(t.rewrites[at+1:], t.rewrites[at:])
	t.rewrites[at] = r
}

// render emits the source span with every rewrite inside it applied,
// consuming those rewrites. Rewrites are recorded children-first, so by
// the time a parent renders its own span the nested replacements are
// already folded into the text it captures.
func (t *transformer) render(start, end int) string {
	var sb strings.Builder
	var kept []rewrite
	pos := start
	for _, r := range t.rewrites {
		if r.start >= start && r.end <= end {
			sb.WriteString(t.src[pos:r.start])
			sb.WriteString(r.text)
			pos = r.end
			continue
		}
		kept = append(kept, r)
	}
	sb.WriteString(t.src[pos:end])
	t.rewrites = kept
	return sb.String()
}

func (t *transformer) visitStmt(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case nil:
		return nil
	case *ast.EmptyStatement:
		return nil
	case *ast.ExpressionStatement:
		return t.visitExpr(s.Expression)
	case *ast.VariableStatement:
		return t.visitBindings(s.List)
	case *ast.LexicalDeclaration:
		return t.visitBindings(s.List)
	case *ast.FunctionDeclaration:
		return t.visitFunction(s.Function)
	case *ast.ClassDeclaration:
		return t.visitClass(s.Class)
	case *ast.ReturnStatement:
		if s.Argument != nil {
			return t.visitExpr(s.Argument)
		}
		return nil
	case *ast.IfStatement:
		if err := t.visitExpr(s.Test); err != nil {
			return err
		}
		if err := t.visitStmt(s.Consequent); err != nil {
			return err
		}
		return t.visitStmt(s.Alternate)
	case *ast.BlockStatement:
		for _, inner := range s.List {
			if err := t.visitStmt(inner); err != nil {
				return err
			}
		}
		return nil
	case *ast.WhileStatement:
		if err := t.visitExpr(s.Test); err != nil {
			return err
		}
		return t.visitStmt(s.Body)
	case *ast.DoWhileStatement:
		if err := t.visitStmt(s.Body); err != nil {
			return err
		}
		return t.visitExpr(s.Test)
	case *ast.ForStatement:
		if err := t.visitForInit(s.Initializer); err != nil {
			return err
		}
		if s.Test != nil {
			if err := t.visitExpr(s.Test); err != nil {
				return err
			}
		}
		if s.Update != nil {
			if err := t.visitExpr(s.Update); err != nil {
				return err
			}
		}
		return t.visitStmt(s.Body)
	case *ast.ForInStatement:
		if err := t.visitForInto(s.Into); err != nil {
			return err
		}
		if err := t.visitExpr(s.Source); err != nil {
			return err
		}
		return t.visitStmt(s.Body)
	case *ast.ForOfStatement:
		if err := t.visitForInto(s.Into); err != nil {
			return err
		}
		if err := t.visitExpr(s.Source); err != nil {
			return err
		}
		return t.visitStmt(s.Body)
	case *ast.SwitchStatement:
		if err := t.visitExpr(s.Discriminant); err != nil {
			return err
		}
		for _, cs := range s.Body {
			if cs.Test != nil {
				if err := t.visitExpr(cs.Test); err != nil {
					return err
				}
			}
			for _, inner := range cs.Consequent {
				if err := t.visitStmt(inner); err != nil {
					return err
				}
			}
		}
		return nil
	case *ast.BranchStatement:
		if s.Label != nil {
			return t.reject(s, "labelled branch", "")
		}
		return nil
	case *ast.ThrowStatement:
		return t.visitExpr(s.Argument)
	case *ast.TryStatement:
		if err := t.visitStmt(s.Body); err != nil {
			return err
		}
		if s.Catch != nil {
			if s.Catch.Parameter != nil {
				if err := t.visitBindingTarget(s.Catch.Parameter); err != nil {
					return err
				}
			}
			if err := t.visitStmt(s.Catch.Body); err != nil {
				return err
			}
		}
		if s.Finally != nil {
			return t.visitStmt(s.Finally)
		}
		return nil
	default:
		return t.reject(stmt, fmt.Sprintf("statement %T", stmt), "")
	}
}

func (t *transformer) visitForInit(init ast.ForLoopInitializer) error {
	switch i := init.(type) {
	case nil:
		return nil
	case *ast.ForLoopInitializerExpression:
		return t.visitExpr(i.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		return t.visitBindings(i.List)
	case *ast.ForLoopInitializerLexicalDecl:
		return t.visitBindings(i.LexicalDeclaration.List)
	default:
		return &SyntaxRejection{Construct: fmt.Sprintf("loop initializer %T", init)}
	}
}

func (t *transformer) visitForInto(into ast.ForInto) error {
	switch i := into.(type) {
	case *ast.ForIntoVar:
		return t.visitBinding(i.Binding)
	case *ast.ForDeclaration:
		return t.visitBindingTarget(i.Target)
	case *ast.ForIntoExpression:
		return t.visitExpr(i.Expression)
	default:
		return &SyntaxRejection{Construct: fmt.Sprintf("loop target %T", into)}
	}
}

func (t *transformer) visitBindings(list []*ast.Binding) error {
	for _, b := range list {
		if err := t.visitBinding(b); err != nil {
			return err
		}
	}
	return nil
}

func (t *transformer) visitBinding(b *ast.Binding) error {
	if err := t.visitBindingTarget(b.Target); err != nil {
		return err
	}
	if b.Initializer != nil {
		return t.visitExpr(b.Initializer)
	}
	return nil
}

func (t *transformer) visitBindingTarget(target ast.BindingTarget) error {
	id, ok := target.(*ast.Identifier)
	if !ok {
		return t.reject(target, "destructuring binding", "")
	}
	return t.checkIdent(id)
}

// checkIdent blocks the identifiers that would let a program reach
// engine internals or dynamic evaluation.
func (t *transformer) checkIdent(id *ast.Identifier) error {
	name := id.Name.String()
	if name == "eval" || name == "Function" {
		return t.reject(id, fmt.Sprintf("identifier %q", name), "dynamic evaluation is disabled")
	}
	if strings.HasPrefix(name, "__") {
		return t.reject(id, fmt.Sprintf("identifier %q", name), "reserved name")
	}
	return nil
}

func (t *transformer) visitFunction(fn *ast.FunctionLiteral) error {
	if fn.Name != nil {
		if err := t.checkIdent(fn.Name); err != nil {
			return err
		}
	}
	if err := t.visitParams(fn.ParameterList); err != nil {
		return err
	}
	return t.visitStmt(fn.Body)
}

func (t *transformer) visitParams(params *ast.ParameterList) error {
	if params == nil {
		return nil
	}
	if params.Rest != nil {
		return t.reject(params.Rest, "rest parameter", "")
	}
	return t.visitBindings(params.List)
}

func (t *transformer) visitClass(cl *ast.ClassLiteral) error {
	if cl.Name != nil {
		if err := t.checkIdent(cl.Name); err != nil {
			return err
		}
	}
	if cl.SuperClass != nil {
		if err := t.visitExpr(cl.SuperClass); err != nil {
			return err
		}
	}
	for _, element := range cl.Body {
		switch el := element.(type) {
		case *ast.MethodDefinition:
			if el.Computed {
				return t.reject(el, "computed method name", "")
			}
			if err := t.visitFunction(el.Body); err != nil {
				return err
			}
		case *ast.FieldDefinition:
			if !t.permissive {
				return t.reject(el, "field declaration",
					"annotated field declarations require permissive declarations")
			}
			if el.Computed {
				return t.reject(el, "computed field name", "")
			}
			if el.Initializer != nil {
				if err := t.visitExpr(el.Initializer); err != nil {
					return err
				}
			}
		default:
			return t.reject(cl, fmt.Sprintf("class element %T", element), "")
		}
	}
	return nil
}

func (t *transformer) visitExpr(expr ast.Expression) error {
	switch e := expr.(type) {
	case nil:
		return nil
	case *ast.Identifier:
		return t.checkIdent(e)
	case *ast.NumberLiteral, *ast.StringLiteral, *ast.BooleanLiteral,
		*ast.NullLiteral, *ast.RegExpLiteral, *ast.ThisExpression:
		return nil
	case *ast.TemplateLiteral:
		if e.Tag != nil {
			return t.reject(e, "tagged template", "")
		}
		for _, inner := range e.Expressions {
			if err := t.visitExpr(inner); err != nil {
				return err
			}
		}
		return nil
	case *ast.ObjectLiteral:
		for _, prop := range e.Value {
			if err := t.visitProperty(prop); err != nil {
				return err
			}
		}
		return nil
	case *ast.ArrayLiteral:
		for _, item := range e.Value {
			if item == nil {
				continue
			}
			if err := t.visitExpr(item); err != nil {
				return err
			}
		}
		return nil
	case *ast.DotExpression:
		name := e.Identifier.Name.String()
		if protectedName(name) {
			return t.reject(e, fmt.Sprintf("access to attribute %q", name), "protected name")
		}
		return t.visitExpr(e.Left)
	case *ast.BracketExpression:
		if err := t.visitExpr(e.Left); err != nil {
			return err
		}
		return t.visitExpr(e.Member)
	case *ast.CallExpression:
		if err := t.visitExpr(e.Callee); err != nil {
			return err
		}
		for _, arg := range e.ArgumentList {
			if err := t.visitExpr(arg); err != nil {
				return err
			}
		}
		return nil
	case *ast.NewExpression:
		if err := t.visitExpr(e.Callee); err != nil {
			return err
		}
		for _, arg := range e.ArgumentList {
			if err := t.visitExpr(arg); err != nil {
				return err
			}
		}
		return nil
	case *ast.AssignExpression:
		return t.visitAssign(e)
	case *ast.BinaryExpression:
		if err := t.visitExpr(e.Left); err != nil {
			return err
		}
		return t.visitExpr(e.Right)
	case *ast.UnaryExpression:
		if e.Operator == token.DELETE {
			return t.reject(e, "delete operator", "")
		}
		return t.visitExpr(e.Operand)
	case *ast.ConditionalExpression:
		if err := t.visitExpr(e.Test); err != nil {
			return err
		}
		if err := t.visitExpr(e.Consequent); err != nil {
			return err
		}
		return t.visitExpr(e.Alternate)
	case *ast.FunctionLiteral:
		return t.visitFunction(e)
	case *ast.ArrowFunctionLiteral:
		if err := t.visitParams(e.ParameterList); err != nil {
			return err
		}
		return t.visitConciseBody(e.Body)
	case *ast.ClassLiteral:
		return t.visitClass(e)
	case *ast.SequenceExpression:
		for _, inner := range e.Sequence {
			if err := t.visitExpr(inner); err != nil {
				return err
			}
		}
		return nil
	case *ast.SpreadElement:
		return t.visitExpr(e.Expression)
	default:
		return t.reject(expr, fmt.Sprintf("expression %T", expr), "")
	}
}

// visitProperty validates one object literal entry. A literal
// __proto__ key sets the prototype of the new object, so protected
// names are rejected here just like attribute writes are. Computed
// keys define ordinary own properties and only need their expressions
// checked.
func (t *transformer) visitProperty(prop ast.Property) error {
	switch p := prop.(type) {
	case *ast.PropertyKeyed:
		if p.Computed {
			if err := t.visitExpr(p.Key); err != nil {
				return err
			}
		} else if key, ok := p.Key.(*ast.StringLiteral); ok {
			if name := key.Value.String(); protectedName(name) {
				return t.reject(p, fmt.Sprintf("object key %q", name), "protected name")
			}
		}
		return t.visitExpr(p.Value)
	case *ast.PropertyShort:
		if err := t.checkIdent(&p.Name); err != nil {
			return err
		}
		if p.Initializer != nil {
			return t.visitExpr(p.Initializer)
		}
		return nil
	case *ast.SpreadElement:
		return t.visitExpr(p.Expression)
	default:
		return t.reject(prop, fmt.Sprintf("object property %T", prop), "")
	}
}

func (t *transformer) visitConciseBody(body ast.ConciseBody) error {
	switch b := body.(type) {
	case *ast.BlockStatement:
		return t.visitStmt(b)
	case *ast.ExpressionBody:
		return t.visitExpr(b.Expression)
	default:
		return &SyntaxRejection{Construct: fmt.Sprintf("arrow body %T", body)}
	}
}

// visitAssign routes attribute writes through the guard function. Plain
// identifier assignment passes through untouched so session bindings
// keep native semantics.
func (t *transformer) visitAssign(e *ast.AssignExpression) error {
	switch target := e.Left.(type) {
	case *ast.Identifier:
		if err := t.checkIdent(target); err != nil {
			return err
		}
		return t.visitExpr(e.Right)
	case *ast.DotExpression:
		if e.Operator != token.ASSIGN {
			return t.reject(e, "compound assignment to an attribute", "")
		}
		name := target.Identifier.Name.String()
		if protectedName(name) {
			return t.reject(e, fmt.Sprintf("write to attribute %q", name), "protected name")
		}
		if err := t.visitExpr(target.Left); err != nil {
			return err
		}
		if err := t.visitExpr(e.Right); err != nil {
			return err
		}
		objStart, objEnd := t.span(target.Left)
		rightStart, rightEnd := t.span(e.Right)
		obj := t.render(objStart, objEnd)
		right := t.render(rightStart, rightEnd)
		start, end := t.span(e)
		t.add(start, end, fmt.Sprintf("__setmember__(%s, %q, %s)", obj, name, right))
		return nil
	case *ast.BracketExpression:
		if e.Operator != token.ASSIGN {
			return t.reject(e, "compound assignment to an element", "")
		}
		if err := t.visitExpr(target.Left); err != nil {
			return err
		}
		if err := t.visitExpr(target.Member); err != nil {
			return err
		}
		if err := t.visitExpr(e.Right); err != nil {
			return err
		}
		objStart, objEnd := t.span(target.Left)
		keyStart, keyEnd := t.span(target.Member)
		rightStart, rightEnd := t.span(e.Right)
		obj := t.render(objStart, objEnd)
		key := t.render(keyStart, keyEnd)
		right := t.render(rightStart, rightEnd)
		start, end := t.span(e)
		t.add(start, end, fmt.Sprintf("__setmember__(%s, %s, %s)", obj, key, right))
		return nil
	default:
		return t.reject(e, fmt.Sprintf("assignment target %T", e.Left), "")
	}
}
