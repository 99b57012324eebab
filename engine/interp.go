package engine

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
	"go.uber.org/zap"

	"github.com/isdmx/codeact/capability"
)

const interpretedMaxDepth = 256

// InterpretedSandbox evaluates programs by walking the parsed tree. It
// covers a documented language subset with plain values: numbers are
// float64, objects are maps, arrays are slices.
//
// Known gap: class declarations bind an inert stub. The walker records
// the declaration but never materializes the generated constructor, so
// instantiating a class raises a fault that points at the compiled
// strategy. Method and field bodies inside a class are not evaluated.
type InterpretedSandbox struct {
	*core
}

// NewInterpretedSandbox builds an interpreted-strategy sandbox.
func NewInterpretedSandbox(logger *zap.Logger, cfg Config, caps *capability.Set, opts ...Option) *InterpretedSandbox {
	s := &InterpretedSandbox{core: newCore(logger, cfg, caps, opts...)}
	s.log = s.log.With(zap.String("strategy", StrategyInterpreted))
	return s
}

// Execute implements Sandbox.
func (s *InterpretedSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	s.beginRun(&req)

	program := req.Program
	if req.Capture {
		program += captureTrailer
	}

	prog, err := parser.ParseFile(nil, "program", program, 0)
	if err != nil {
		s.log.Info("program failed to parse", zap.Error(err))
		return s.finishRun(fmt.Errorf("parse failed: %w", err)), nil
	}

	host := s.baseBuiltins()
	host["use"] = func(args ...any) (any, error) {
		name, err := argString("use", args, 0)
		if err != nil {
			return nil, err
		}
		return s.resolveModule(name)
	}
	for name, fn := range s.captureBindings(ctx) {
		host[name] = fn
	}

	ev := &evaluator{
		ctx:    ctx,
		src:    program,
		host:   host,
		global: &scope{global: s.bindings},
	}
	runErr := ev.run(prog)

	res := s.finishRun(runErr)
	s.log.Debug("execution finished",
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("artifact_captured", res.ArtifactCaptured),
		zap.Int("context_bindings", s.bindings.Len()))
	return res, nil
}

// ResetContext drops the session bindings.
func (s *InterpretedSandbox) ResetContext() {
	s.bindings.Reset()
	s.toolkits = nil
	s.log.Info("session context reset")
}

// scope is one level of the lexical chain. The root scope reads and
// writes the session context directly, which is what makes top-level
// bindings persist across executions.
type scope struct {
	parent *scope
	vars   map[string]any
	global *Context
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, vars: make(map[string]any)}
}

func (sc *scope) lookup(name string) (any, bool) {
	for s := sc; s != nil; s = s.parent {
		if s.global != nil {
			return s.global.Get(name)
		}
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (sc *scope) assign(name string, value any) bool {
	for s := sc; s != nil; s = s.parent {
		if s.global != nil {
			if _, ok := s.global.Get(name); ok {
				s.global.Set(name, value)
				return true
			}
			return false
		}
		if _, ok := s.vars[name]; ok {
			s.vars[name] = value
			return true
		}
	}
	return false
}

func (sc *scope) declare(name string, value any) {
	if sc.global != nil {
		sc.global.Set(name, value)
		return
	}
	sc.vars[name] = value
}

// Control flow signals. They travel the error path but never escape as
// user-visible faults except where noted.
type returnSignal struct{ value any }

func (returnSignal) Error() string { return "return outside function" }

type breakSignal struct{}

func (breakSignal) Error() string { return "break outside loop" }

type continueSignal struct{}

func (continueSignal) Error() string { return "continue outside loop" }

// thrownError carries a script-thrown value.
type thrownError struct {
	value any
}

func (e *thrownError) Error() string {
	return "uncaught exception: " + displayString(e.value)
}

// userFunction is a function literal closed over its defining scope.
type userFunction struct {
	name    string
	params  []string
	body    *ast.BlockStatement
	expr    ast.Expression
	closure *scope
}

func (f *userFunction) displayName() string {
	if f.name == "" {
		return "anonymous"
	}
	return f.name
}

// classStub stands in for a class declaration. The walker records the
// name so the program can refer to it, but the generated constructor is
// never materialized.
type classStub struct {
	name string
}

type evaluator struct {
	ctx    context.Context
	src    string
	host   map[string]any
	global *scope
	depth  int
	frames []string
}

func (ev *evaluator) lineAt(idx file.Idx) int {
	off := int(idx) - 1
	if off < 0 {
		off = 0
	}
	if off > len(ev.src) {
		off = len(ev.src)
	}
	return 1 + strings.Count(ev.src[:off], "\n")
}

func (ev *evaluator) run(prog *ast.Program) error {
	if err := ev.execStmts(ev.global, prog.Body); err != nil {
		switch err.(type) {
		case returnSignal, breakSignal, continueSignal:
			return faultf(0, "%s", err.Error())
		}
		return err
	}
	return nil
}

// execStmts hoists function declarations, then executes in order.
func (ev *evaluator) execStmts(sc *scope, list []ast.Statement) error {
	for _, stmt := range list {
		if fn, ok := stmt.(*ast.FunctionDeclaration); ok {
			decl, err := ev.makeFunction(sc, fn.Function)
			if err != nil {
				return err
			}
			sc.declare(decl.name, decl)
		}
	}
	for _, stmt := range list {
		if err := ev.execStmt(sc, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (ev *evaluator) execStmt(sc *scope, stmt ast.Statement) error {
	if err := ev.ctx.Err(); err != nil {
		return faultf(ev.lineAt(stmt.Idx0()), "execution canceled: %v", err)
	}

	switch s := stmt.(type) {
	case nil, *ast.EmptyStatement:
		return nil
	case *ast.ExpressionStatement:
		_, err := ev.evalExpr(sc, s.Expression)
		return err
	case *ast.VariableStatement:
		return ev.execBindings(sc, s.List)
	case *ast.LexicalDeclaration:
		return ev.execBindings(sc, s.List)
	case *ast.FunctionDeclaration:
		// hoisted by execStmts
		return nil
	case *ast.ClassDeclaration:
		name := "class"
		if s.Class.Name != nil {
			name = s.Class.Name.Name.String()
		}
		sc.declare(name, &classStub{name: name})
		return nil
	case *ast.ReturnStatement:
		var value any
		if s.Argument != nil {
			v, err := ev.evalExpr(sc, s.Argument)
			if err != nil {
				return err
			}
			value = v
		}
		return returnSignal{value: value}
	case *ast.ThrowStatement:
		v, err := ev.evalExpr(sc, s.Argument)
		if err != nil {
			return err
		}
		return &thrownError{value: v}
	case *ast.IfStatement:
		test, err := ev.evalExpr(sc, s.Test)
		if err != nil {
			return err
		}
		if truthy(test) {
			return ev.execStmt(sc, s.Consequent)
		}
		if s.Alternate != nil {
			return ev.execStmt(sc, s.Alternate)
		}
		return nil
	case *ast.BlockStatement:
		return ev.execStmts(newScope(sc), s.List)
	case *ast.WhileStatement:
		for {
			if err := ev.ctx.Err(); err != nil {
				return faultf(ev.lineAt(s.Idx0()), "execution canceled: %v", err)
			}
			test, err := ev.evalExpr(sc, s.Test)
			if err != nil {
				return err
			}
			if !truthy(test) {
				return nil
			}
			if err := ev.execLoopBody(sc, s.Body); err != nil {
				if _, isBreak := err.(breakSignal); isBreak {
					return nil
				}
				return err
			}
		}
	case *ast.DoWhileStatement:
		for {
			if err := ev.ctx.Err(); err != nil {
				return faultf(ev.lineAt(s.Idx0()), "execution canceled: %v", err)
			}
			if err := ev.execLoopBody(sc, s.Body); err != nil {
				if _, isBreak := err.(breakSignal); isBreak {
					return nil
				}
				return err
			}
			test, err := ev.evalExpr(sc, s.Test)
			if err != nil {
				return err
			}
			if !truthy(test) {
				return nil
			}
		}
	case *ast.ForStatement:
		return ev.execFor(sc, s)
	case *ast.ForOfStatement:
		return ev.execForOf(sc, s)
	case *ast.ForInStatement:
		return ev.execForIn(sc, s)
	case *ast.SwitchStatement:
		return ev.execSwitch(sc, s)
	case *ast.BranchStatement:
		if s.Label != nil {
			return faultf(ev.lineAt(s.Idx0()), "labelled branches are not supported")
		}
		if s.Token == token.BREAK {
			return breakSignal{}
		}
		return continueSignal{}
	case *ast.TryStatement:
		return ev.execTry(sc, s)
	default:
		return faultf(ev.lineAt(stmt.Idx0()),
			"statement %T is outside the interpreted subset", stmt)
	}
}

func (ev *evaluator) execBindings(sc *scope, list []*ast.Binding) error {
	for _, b := range list {
		id, ok := b.Target.(*ast.Identifier)
		if !ok {
			return faultf(ev.lineAt(b.Target.Idx0()), "destructuring bindings are not supported")
		}
		var value any
		if b.Initializer != nil {
			v, err := ev.evalExpr(sc, b.Initializer)
			if err != nil {
				return err
			}
			value = v
		}
		sc.declare(id.Name.String(), value)
	}
	return nil
}

func (ev *evaluator) execLoopBody(sc *scope, body ast.Statement) error {
	err := ev.execStmt(newScope(sc), body)
	if _, isContinue := err.(continueSignal); isContinue {
		return nil
	}
	return err
}

func (ev *evaluator) execFor(sc *scope, s *ast.ForStatement) error {
	loop := newScope(sc)
	switch init := s.Initializer.(type) {
	case nil:
	case *ast.ForLoopInitializerExpression:
		if _, err := ev.evalExpr(loop, init.Expression); err != nil {
			return err
		}
	case *ast.ForLoopInitializerVarDeclList:
		if err := ev.execBindings(loop, init.List); err != nil {
			return err
		}
	case *ast.ForLoopInitializerLexicalDecl:
		if err := ev.execBindings(loop, init.LexicalDeclaration.List); err != nil {
			return err
		}
	default:
		return faultf(ev.lineAt(s.Idx0()), "loop initializer %T is outside the interpreted subset", init)
	}
	for {
		if err := ev.ctx.Err(); err != nil {
			return faultf(ev.lineAt(s.Idx0()), "execution canceled: %v", err)
		}
		if s.Test != nil {
			test, err := ev.evalExpr(loop, s.Test)
			if err != nil {
				return err
			}
			if !truthy(test) {
				return nil
			}
		}
		if err := ev.execLoopBody(loop, s.Body); err != nil {
			if _, isBreak := err.(breakSignal); isBreak {
				return nil
			}
			return err
		}
		if s.Update != nil {
			if _, err := ev.evalExpr(loop, s.Update); err != nil {
				return err
			}
		}
	}
}

func (ev *evaluator) forTargetName(into ast.ForInto) (string, error) {
	var target ast.BindingTarget
	switch i := into.(type) {
	case *ast.ForIntoVar:
		target = i.Binding.Target
	case *ast.ForDeclaration:
		target = i.Target
	case *ast.ForIntoExpression:
		if id, ok := i.Expression.(*ast.Identifier); ok {
			return id.Name.String(), nil
		}
		return "", faultf(ev.lineAt(i.Expression.Idx0()), "loop target must be a plain name")
	default:
		return "", faultf(0, "loop target %T is outside the interpreted subset", into)
	}
	id, ok := target.(*ast.Identifier)
	if !ok {
		return "", faultf(ev.lineAt(target.Idx0()), "loop target must be a plain name")
	}
	return id.Name.String(), nil
}

func (ev *evaluator) execForOf(sc *scope, s *ast.ForOfStatement) error {
	name, err := ev.forTargetName(s.Into)
	if err != nil {
		return err
	}
	source, err := ev.evalExpr(sc, s.Source)
	if err != nil {
		return err
	}
	var items []any
	switch src := source.(type) {
	case []any:
		items = src
	case string:
		for _, r := range src {
			items = append(items, string(r))
		}
	default:
		return faultf(ev.lineAt(s.Source.Idx0()), "cannot iterate over %s", typeofString(source))
	}
	return ev.runIteration(sc, s.Body, name, items, s.Idx0())
}

func (ev *evaluator) execForIn(sc *scope, s *ast.ForInStatement) error {
	name, err := ev.forTargetName(s.Into)
	if err != nil {
		return err
	}
	source, err := ev.evalExpr(sc, s.Source)
	if err != nil {
		return err
	}
	obj, ok := source.(map[string]any)
	if !ok {
		return faultf(ev.lineAt(s.Source.Idx0()), "cannot enumerate %s", typeofString(source))
	}
	keys := make([]any, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	return ev.runIteration(sc, s.Body, name, keys, s.Idx0())
}

func (ev *evaluator) runIteration(sc *scope, body ast.Statement, name string, items []any, at file.Idx) error {
	for _, item := range items {
		if err := ev.ctx.Err(); err != nil {
			return faultf(ev.lineAt(at), "execution canceled: %v", err)
		}
		iter := newScope(sc)
		iter.declare(name, item)
		if err := ev.execLoopBody(iter, body); err != nil {
			if _, isBreak := err.(breakSignal); isBreak {
				return nil
			}
			return err
		}
	}
	return nil
}

func (ev *evaluator) execSwitch(sc *scope, s *ast.SwitchStatement) error {
	disc, err := ev.evalExpr(sc, s.Discriminant)
	if err != nil {
		return err
	}
	matched := false
	for _, cs := range s.Body {
		if !matched {
			if cs.Test == nil {
				continue
			}
			test, err := ev.evalExpr(sc, cs.Test)
			if err != nil {
				return err
			}
			if !strictEquals(disc, test) {
				continue
			}
			matched = true
		}
		if err := ev.execStmts(newScope(sc), cs.Consequent); err != nil {
			if _, isBreak := err.(breakSignal); isBreak {
				return nil
			}
			return err
		}
	}
	if !matched && s.Default >= 0 && s.Default < len(s.Body) {
		for _, cs := range s.Body[s.Default:] {
			if err := ev.execStmts(newScope(sc), cs.Consequent); err != nil {
				if _, isBreak := err.(breakSignal); isBreak {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

func (ev *evaluator) execTry(sc *scope, s *ast.TryStatement) error {
	err := ev.execStmt(newScope(sc), s.Body)
	switch err.(type) {
	case nil, returnSignal, breakSignal, continueSignal:
	default:
		if s.Catch != nil {
			catchScope := newScope(sc)
			if s.Catch.Parameter != nil {
				id, ok := s.Catch.Parameter.(*ast.Identifier)
				if !ok {
					return faultf(ev.lineAt(s.Catch.Parameter.Idx0()), "catch binding must be a plain name")
				}
				catchScope.declare(id.Name.String(), caughtValue(err))
			}
			err = ev.execStmts(catchScope, s.Catch.Body.List)
		}
	}
	if s.Finally != nil {
		if ferr := ev.execStmt(newScope(sc), s.Finally); ferr != nil {
			return ferr
		}
	}
	return err
}

// caughtValue is what a catch clause binds for a given fault.
func caughtValue(err error) any {
	if thrown, ok := err.(*thrownError); ok {
		return thrown.value
	}
	return err.Error()
}

func (ev *evaluator) evalExpr(sc *scope, expr ast.Expression) (any, error) {
	switch e := expr.(type) {
	case *ast.Identifier:
		name := e.Name.String()
		if v, ok := sc.lookup(name); ok {
			return v, nil
		}
		if v, ok := ev.host[name]; ok {
			return v, nil
		}
		if name == "undefined" {
			return nil, nil
		}
		return nil, faultf(ev.lineAt(e.Idx0()), "name %q is not defined", name)
	case *ast.NumberLiteral:
		n, ok := toNumber(e.Value)
		if !ok {
			return nil, faultf(ev.lineAt(e.Idx0()), "unreadable number literal")
		}
		return n, nil
	case *ast.StringLiteral:
		return e.Value.String(), nil
	case *ast.BooleanLiteral:
		return e.Value, nil
	case *ast.NullLiteral:
		return nil, nil
	case *ast.TemplateLiteral:
		return ev.evalTemplate(sc, e)
	case *ast.ObjectLiteral:
		return ev.evalObject(sc, e)
	case *ast.ArrayLiteral:
		items := make([]any, 0, len(e.Value))
		for _, item := range e.Value {
			if item == nil {
				items = append(items, nil)
				continue
			}
			v, err := ev.evalExpr(sc, item)
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case *ast.DotExpression:
		obj, err := ev.evalExpr(sc, e.Left)
		if err != nil {
			return nil, err
		}
		return ev.getMember(obj, e.Identifier.Name.String(), e.Idx0())
	case *ast.BracketExpression:
		obj, err := ev.evalExpr(sc, e.Left)
		if err != nil {
			return nil, err
		}
		key, err := ev.evalExpr(sc, e.Member)
		if err != nil {
			return nil, err
		}
		return ev.getIndex(obj, key, e.Idx0())
	case *ast.CallExpression:
		return ev.evalCall(sc, e)
	case *ast.NewExpression:
		callee, err := ev.evalExpr(sc, e.Callee)
		if err != nil {
			return nil, err
		}
		if stub, ok := callee.(*classStub); ok {
			return nil, faultf(ev.lineAt(e.Idx0()),
				"class %q is bound as a declaration stub; the interpreted strategy does not materialize generated constructors, so it cannot be instantiated. Use the compiled strategy for class-based programs", stub.name)
		}
		return nil, faultf(ev.lineAt(e.Idx0()), "new is only meaningful for class declarations, which the interpreted strategy does not materialize")
	case *ast.AssignExpression:
		return ev.evalAssign(sc, e)
	case *ast.BinaryExpression:
		return ev.evalBinary(sc, e)
	case *ast.UnaryExpression:
		return ev.evalUnary(sc, e)
	case *ast.ConditionalExpression:
		test, err := ev.evalExpr(sc, e.Test)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return ev.evalExpr(sc, e.Consequent)
		}
		return ev.evalExpr(sc, e.Alternate)
	case *ast.FunctionLiteral:
		return ev.makeFunction(sc, e)
	case *ast.ArrowFunctionLiteral:
		return ev.makeArrow(sc, e)
	case *ast.SequenceExpression:
		var last any
		for _, inner := range e.Sequence {
			v, err := ev.evalExpr(sc, inner)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	default:
		return nil, faultf(ev.lineAt(expr.Idx0()),
			"expression %T is outside the interpreted subset", expr)
	}
}

func (ev *evaluator) evalTemplate(sc *scope, e *ast.TemplateLiteral) (any, error) {
	if e.Tag != nil {
		return nil, faultf(ev.lineAt(e.Idx0()), "tagged templates are not supported")
	}
	var sb strings.Builder
	for i, element := range e.Elements {
		sb.WriteString(element.Parsed.String())
		if i < len(e.Expressions) {
			v, err := ev.evalExpr(sc, e.Expressions[i])
			if err != nil {
				return nil, err
			}
			sb.WriteString(displayString(v))
		}
	}
	return sb.String(), nil
}

func (ev *evaluator) evalObject(sc *scope, e *ast.ObjectLiteral) (any, error) {
	obj := make(map[string]any, len(e.Value))
	for _, prop := range e.Value {
		switch p := prop.(type) {
		case *ast.PropertyKeyed:
			if p.Computed {
				return nil, faultf(ev.lineAt(e.Idx0()), "computed property keys are not supported")
			}
			key, err := ev.propertyKey(p.Key)
			if err != nil {
				return nil, err
			}
			value, err := ev.evalExpr(sc, p.Value)
			if err != nil {
				return nil, err
			}
			obj[key] = value
		case *ast.PropertyShort:
			name := p.Name.Name.String()
			v, ok := sc.lookup(name)
			if !ok {
				return nil, faultf(ev.lineAt(p.Name.Idx0()), "name %q is not defined", name)
			}
			obj[name] = v
		default:
			return nil, faultf(ev.lineAt(e.Idx0()), "property %T is outside the interpreted subset", prop)
		}
	}
	return obj, nil
}

func (ev *evaluator) propertyKey(key ast.Expression) (string, error) {
	switch k := key.(type) {
	case *ast.StringLiteral:
		return k.Value.String(), nil
	case *ast.Identifier:
		return k.Name.String(), nil
	case *ast.NumberLiteral:
		n, _ := toNumber(k.Value)
		return formatNumber(n), nil
	default:
		return "", faultf(ev.lineAt(key.Idx0()), "property key %T is outside the interpreted subset", key)
	}
}

func (ev *evaluator) makeFunction(sc *scope, fl *ast.FunctionLiteral) (*userFunction, error) {
	params, err := ev.paramNames(fl.ParameterList)
	if err != nil {
		return nil, err
	}
	name := ""
	if fl.Name != nil {
		name = fl.Name.Name.String()
	}
	return &userFunction{name: name, params: params, body: fl.Body, closure: sc}, nil
}

func (ev *evaluator) makeArrow(sc *scope, af *ast.ArrowFunctionLiteral) (*userFunction, error) {
	params, err := ev.paramNames(af.ParameterList)
	if err != nil {
		return nil, err
	}
	fn := &userFunction{params: params, closure: sc}
	switch body := af.Body.(type) {
	case *ast.BlockStatement:
		fn.body = body
	case *ast.ExpressionBody:
		fn.expr = body.Expression
	default:
		return nil, faultf(ev.lineAt(af.Idx0()), "arrow body %T is outside the interpreted subset", af.Body)
	}
	return fn, nil
}

func (ev *evaluator) paramNames(params *ast.ParameterList) ([]string, error) {
	if params == nil {
		return nil, nil
	}
	if params.Rest != nil {
		return nil, faultf(ev.lineAt(params.Rest.Idx0()), "rest parameters are not supported")
	}
	names := make([]string, 0, len(params.List))
	for _, b := range params.List {
		id, ok := b.Target.(*ast.Identifier)
		if !ok {
			return nil, faultf(ev.lineAt(b.Target.Idx0()), "destructuring parameters are not supported")
		}
		if b.Initializer != nil {
			return nil, faultf(ev.lineAt(b.Target.Idx0()), "default parameter values are not supported")
		}
		names = append(names, id.Name.String())
	}
	return names, nil
}

func (ev *evaluator) evalCall(sc *scope, e *ast.CallExpression) (any, error) {
	var fn any
	switch callee := e.Callee.(type) {
	case *ast.DotExpression:
		obj, err := ev.evalExpr(sc, callee.Left)
		if err != nil {
			return nil, err
		}
		member, err := ev.getMember(obj, callee.Identifier.Name.String(), callee.Idx0())
		if err != nil {
			return nil, err
		}
		fn = member
	default:
		v, err := ev.evalExpr(sc, e.Callee)
		if err != nil {
			return nil, err
		}
		fn = v
	}

	args := make([]any, 0, len(e.ArgumentList))
	for _, arg := range e.ArgumentList {
		v, err := ev.evalExpr(sc, arg)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return ev.callValue(fn, args, e.Idx0())
}

func (ev *evaluator) callValue(fn any, args []any, at file.Idx) (any, error) {
	switch f := fn.(type) {
	case hostFunc:
		return f(args...)
	case func(args ...any) (any, error):
		return f(args...)
	case *userFunction:
		return ev.callUser(f, args, at)
	case *classStub:
		return nil, faultf(ev.lineAt(at),
			"class %q is bound as a declaration stub and cannot be called", f.name)
	default:
		return nil, faultf(ev.lineAt(at), "value of type %s is not callable", typeofString(fn))
	}
}

func (ev *evaluator) callUser(fn *userFunction, args []any, at file.Idx) (any, error) {
	if ev.depth >= interpretedMaxDepth {
		return nil, faultf(ev.lineAt(at), "call depth limit exceeded")
	}
	ev.depth++
	ev.frames = append(ev.frames, fn.displayName())
	defer func() {
		ev.depth--
		ev.frames = ev.frames[:len(ev.frames)-1]
	}()

	local := newScope(fn.closure)
	for i, param := range fn.params {
		if i < len(args) {
			local.declare(param, args[i])
		} else {
			local.declare(param, nil)
		}
	}

	if fn.expr != nil {
		return ev.evalExpr(local, fn.expr)
	}
	err := ev.execStmts(local, fn.body.List)
	if ret, ok := err.(returnSignal); ok {
		return ret.value, nil
	}
	if err != nil {
		if fault, ok := err.(*runtimeFault); ok && fault.stack == nil {
			fault.stack = append([]string(nil), ev.frames...)
		}
		return nil, err
	}
	return nil, nil
}

func (ev *evaluator) evalAssign(sc *scope, e *ast.AssignExpression) (any, error) {
	value, err := ev.evalExpr(sc, e.Right)
	if err != nil {
		return nil, err
	}

	if e.Operator != token.ASSIGN {
		current, err := ev.evalExpr(sc, e.Left)
		if err != nil {
			return nil, err
		}
		value, err = ev.applyBinary(e.Operator, current, value, e.Idx0())
		if err != nil {
			return nil, err
		}
	}

	switch target := e.Left.(type) {
	case *ast.Identifier:
		name := target.Name.String()
		if !sc.assign(name, value) {
			// undeclared assignment binds at the session level
			ev.global.declare(name, value)
		}
		return value, nil
	case *ast.DotExpression:
		obj, err := ev.evalExpr(sc, target.Left)
		if err != nil {
			return nil, err
		}
		if err := ev.setMember(obj, target.Identifier.Name.String(), value, target.Idx0()); err != nil {
			return nil, err
		}
		return value, nil
	case *ast.BracketExpression:
		obj, err := ev.evalExpr(sc, target.Left)
		if err != nil {
			return nil, err
		}
		key, err := ev.evalExpr(sc, target.Member)
		if err != nil {
			return nil, err
		}
		if err := ev.setIndex(obj, key, value, target.Idx0()); err != nil {
			return nil, err
		}
		return value, nil
	default:
		return nil, faultf(ev.lineAt(e.Idx0()), "assignment target %T is outside the interpreted subset", e.Left)
	}
}

func (ev *evaluator) getMember(obj any, name string, at file.Idx) (any, error) {
	switch o := obj.(type) {
	case *Module:
		sym, ok := o.Symbols[name]
		if !ok {
			return nil, faultf(ev.lineAt(at), "module %q has no symbol %q", o.Name, name)
		}
		return sym, nil
	case map[string]any:
		return o[name], nil
	case []any:
		if name == "length" {
			return float64(len(o)), nil
		}
		return nil, faultf(ev.lineAt(at), "lists have no attribute %q", name)
	case string:
		if name == "length" {
			return float64(len(o)), nil
		}
		return nil, faultf(ev.lineAt(at), "strings have no attribute %q", name)
	case *classStub:
		return nil, faultf(ev.lineAt(at),
			"class %q is bound as a declaration stub; its members are not materialized", o.name)
	case nil:
		return nil, faultf(ev.lineAt(at), "cannot read attribute %q of undefined", name)
	default:
		return nil, faultf(ev.lineAt(at), "cannot read attribute %q of %s", name, typeofString(obj))
	}
}

func (ev *evaluator) setMember(obj any, name string, value any, at file.Idx) error {
	if protectedName(name) {
		return &ProtectedWriteError{Name: name}
	}
	switch o := obj.(type) {
	case map[string]any:
		o[name] = value
		return nil
	case *Module:
		return faultf(ev.lineAt(at), "module symbols are read-only")
	case nil:
		return faultf(ev.lineAt(at), "cannot set attribute %q of undefined", name)
	default:
		return faultf(ev.lineAt(at), "cannot set attribute %q of %s", name, typeofString(obj))
	}
}

func (ev *evaluator) getIndex(obj, key any, at file.Idx) (any, error) {
	switch o := obj.(type) {
	case []any:
		idx, ok := toNumber(key)
		if !ok {
			return nil, faultf(ev.lineAt(at), "list index must be a number")
		}
		i := int(idx)
		if i < 0 || i >= len(o) {
			return nil, nil
		}
		return o[i], nil
	case map[string]any:
		return o[indexKey(key)], nil
	case string:
		idx, ok := toNumber(key)
		if !ok {
			return nil, faultf(ev.lineAt(at), "string index must be a number")
		}
		i := int(idx)
		if i < 0 || i >= len(o) {
			return nil, nil
		}
		return string(o[i]), nil
	case *Module:
		return ev.getMember(obj, indexKey(key), at)
	case nil:
		return nil, faultf(ev.lineAt(at), "cannot index undefined")
	default:
		return nil, faultf(ev.lineAt(at), "cannot index %s", typeofString(obj))
	}
}

func (ev *evaluator) setIndex(obj, key, value any, at file.Idx) error {
	switch o := obj.(type) {
	case []any:
		idx, ok := toNumber(key)
		if !ok {
			return faultf(ev.lineAt(at), "list index must be a number")
		}
		i := int(idx)
		if i < 0 || i >= len(o) {
			return faultf(ev.lineAt(at), "list index %d out of range", i)
		}
		o[i] = value
		return nil
	case map[string]any:
		return ev.setMember(obj, indexKey(key), value, at)
	case nil:
		return faultf(ev.lineAt(at), "cannot index undefined")
	default:
		return faultf(ev.lineAt(at), "cannot index %s", typeofString(obj))
	}
}

func indexKey(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	return displayString(key)
}

func (ev *evaluator) evalBinary(sc *scope, e *ast.BinaryExpression) (any, error) {
	left, err := ev.evalExpr(sc, e.Left)
	if err != nil {
		return nil, err
	}

	// short-circuit forms never evaluate the right side eagerly
	switch e.Operator {
	case token.LOGICAL_AND:
		if !truthy(left) {
			return left, nil
		}
		return ev.evalExpr(sc, e.Right)
	case token.LOGICAL_OR:
		if truthy(left) {
			return left, nil
		}
		return ev.evalExpr(sc, e.Right)
	}

	right, err := ev.evalExpr(sc, e.Right)
	if err != nil {
		return nil, err
	}
	return ev.applyBinary(e.Operator, left, right, e.Idx0())
}

func (ev *evaluator) applyBinary(op token.Token, left, right any, at file.Idx) (any, error) {
	switch op {
	case token.PLUS:
		if ls, ok := left.(string); ok {
			return ls + displayString(right), nil
		}
		if rs, ok := right.(string); ok {
			return displayString(left) + rs, nil
		}
		return ev.numericOp(op, left, right, at, func(a, b float64) float64 { return a + b })
	case token.MINUS:
		return ev.numericOp(op, left, right, at, func(a, b float64) float64 { return a - b })
	case token.MULTIPLY:
		return ev.numericOp(op, left, right, at, func(a, b float64) float64 { return a * b })
	case token.SLASH:
		return ev.numericOp(op, left, right, at, func(a, b float64) float64 { return a / b })
	case token.REMAINDER:
		return ev.numericOp(op, left, right, at, math.Mod)
	case token.LESS:
		return ev.compareOp(left, right, at, func(c int) bool { return c < 0 })
	case token.GREATER:
		return ev.compareOp(left, right, at, func(c int) bool { return c > 0 })
	case token.LESS_OR_EQUAL:
		return ev.compareOp(left, right, at, func(c int) bool { return c <= 0 })
	case token.GREATER_OR_EQUAL:
		return ev.compareOp(left, right, at, func(c int) bool { return c >= 0 })
	case token.EQUAL:
		return looseEquals(left, right), nil
	case token.NOT_EQUAL:
		return !looseEquals(left, right), nil
	case token.STRICT_EQUAL:
		return strictEquals(left, right), nil
	case token.STRICT_NOT_EQUAL:
		return !strictEquals(left, right), nil
	default:
		return nil, faultf(ev.lineAt(at), "operator %q is outside the interpreted subset", op.String())
	}
}

func (ev *evaluator) numericOp(op token.Token, left, right any, at file.Idx, fn func(a, b float64) float64) (any, error) {
	l, lok := toNumber(left)
	r, rok := toNumber(right)
	if !lok || !rok {
		return nil, faultf(ev.lineAt(at), "operator %q needs numeric operands, got %s and %s",
			op.String(), typeofString(left), typeofString(right))
	}
	return fn(l, r), nil
}

func (ev *evaluator) compareOp(left, right any, at file.Idx, fn func(c int) bool) (any, error) {
	if ls, lok := left.(string); lok {
		if rs, rok := right.(string); rok {
			return fn(strings.Compare(ls, rs)), nil
		}
	}
	l, lok := toNumber(left)
	r, rok := toNumber(right)
	if !lok || !rok {
		return nil, faultf(ev.lineAt(at), "values of type %s and %s are not comparable",
			typeofString(left), typeofString(right))
	}
	switch {
	case l < r:
		return fn(-1), nil
	case l > r:
		return fn(1), nil
	default:
		return fn(0), nil
	}
}

func strictEquals(left, right any) bool {
	switch l := left.(type) {
	case nil:
		return right == nil
	case float64:
		r, ok := right.(float64)
		return ok && l == r
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	default:
		return sameReference(left, right)
	}
}

func looseEquals(left, right any) bool {
	if strictEquals(left, right) {
		return true
	}
	if left == nil || right == nil {
		return false
	}
	// cross-type numeric coercion, string "1" == 1
	_, lIsStr := left.(string)
	_, rIsStr := right.(string)
	if lIsStr != rIsStr {
		l, lok := toNumber(left)
		r, rok := toNumber(right)
		return lok && rok && l == r
	}
	return false
}

// sameReference compares reference values by identity.
func sameReference(left, right any) bool {
	lv := reflect.ValueOf(left)
	rv := reflect.ValueOf(right)
	if lv.Kind() != rv.Kind() {
		return false
	}
	switch lv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Func:
		return lv.Pointer() == rv.Pointer()
	default:
		return false
	}
}

func (ev *evaluator) evalUnary(sc *scope, e *ast.UnaryExpression) (any, error) {
	if e.Operator == token.INCREMENT || e.Operator == token.DECREMENT {
		return ev.evalCrement(sc, e)
	}
	operand, err := ev.evalExpr(sc, e.Operand)
	if err != nil {
		return nil, err
	}
	switch e.Operator {
	case token.NOT:
		return !truthy(operand), nil
	case token.MINUS:
		n, ok := toNumber(operand)
		if !ok {
			return nil, faultf(ev.lineAt(e.Idx0()), "cannot negate %s", typeofString(operand))
		}
		return -n, nil
	case token.PLUS:
		n, ok := toNumber(operand)
		if !ok {
			return math.NaN(), nil
		}
		return n, nil
	case token.TYPEOF:
		return typeofString(operand), nil
	case token.VOID:
		return nil, nil
	default:
		return nil, faultf(ev.lineAt(e.Idx0()), "operator %q is outside the interpreted subset", e.Operator.String())
	}
}

func (ev *evaluator) evalCrement(sc *scope, e *ast.UnaryExpression) (any, error) {
	id, ok := e.Operand.(*ast.Identifier)
	if !ok {
		return nil, faultf(ev.lineAt(e.Idx0()), "increment targets must be plain names")
	}
	name := id.Name.String()
	current, found := sc.lookup(name)
	if !found {
		return nil, faultf(ev.lineAt(e.Idx0()), "name %q is not defined", name)
	}
	n, numOK := toNumber(current)
	if !numOK {
		return nil, faultf(ev.lineAt(e.Idx0()), "cannot increment %s", typeofString(current))
	}
	next := n + 1
	if e.Operator == token.DECREMENT {
		next = n - 1
	}
	sc.assign(name, next)
	if e.Postfix {
		return n, nil
	}
	return next, nil
}
