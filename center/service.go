package center

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"
)

// Handler implements one method. params are the positional JSON arguments
// sent by the caller; the result is JSON-encoded into the response.
type Handler func(ctx context.Context, params []json.RawMessage) (any, error)

// Methods maps wire names to handlers.
type Methods map[string]Handler

func (m Methods) clone() Methods {
	out := make(Methods, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Method is one entry of a service descriptor.
type Method struct {
	Kind    Kind
	Handler Handler
}

// Service describes a whole service by short method name. It is the explicit
// replacement for discovering methods on an object at runtime.
type Service map[string]Method

// Names returns the method names in sorted order.
func (s Service) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Func adapts an ordinary Go function into a Handler. Supported shapes:
//
//	func([ctx context.Context,] args...) [R] [error]
//
// Positional JSON arguments are decoded into the parameter types. Missing
// arguments become zero values and surplus arguments are ignored; a variadic
// final parameter collects the rest.
func Func(fn any) (Handler, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("center: %T is not a function", fn)
	}
	t := v.Type()

	withCtx := t.NumIn() > 0 && t.In(0) == contextType
	first := 0
	if withCtx {
		first = 1
	}

	var hasResult, hasErr bool
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			hasErr = true
		} else {
			hasResult = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("center: second result of %s must be error", t)
		}
		hasResult, hasErr = true, true
	default:
		return nil, fmt.Errorf("center: %s returns too many values", t)
	}

	return func(ctx context.Context, params []json.RawMessage) (any, error) {
		args := make([]reflect.Value, 0, t.NumIn())
		if withCtx {
			args = append(args, reflect.ValueOf(ctx))
		}
		for i := first; i < t.NumIn(); i++ {
			pi := i - first
			if t.IsVariadic() && i == t.NumIn()-1 {
				elem := t.In(i).Elem()
				for ; pi < len(params); pi++ {
					arg, err := decodeArg(params[pi], elem)
					if err != nil {
						return nil, fmt.Errorf("argument %d: %w", pi, err)
					}
					args = append(args, arg)
				}
				break
			}
			if pi >= len(params) {
				args = append(args, reflect.Zero(t.In(i)))
				continue
			}
			arg, err := decodeArg(params[pi], t.In(i))
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", pi, err)
			}
			args = append(args, arg)
		}

		out := v.Call(args)

		var result any
		if hasResult {
			result = out[0].Interface()
		}
		if hasErr {
			if errV := out[len(out)-1]; !errV.IsNil() {
				return nil, errV.Interface().(error)
			}
		}
		return result, nil
	}, nil
}

// MustFunc is Func for package-level registrations; it panics on bad signatures.
func MustFunc(fn any) Handler {
	h, err := Func(fn)
	if err != nil {
		panic(err)
	}
	return h
}

func decodeArg(raw json.RawMessage, typ reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(typ)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

// Reflect builds a Service from the exported methods of rcvr whose signatures
// Func accepts; other methods are skipped. Go method names are exposed with a
// lower-case first letter ("SayHello" → "sayHello", "OnJoin" → "onJoin") and
// classified with KindOf.
func Reflect(rcvr any) (Service, error) {
	val := reflect.ValueOf(rcvr)
	if !val.IsValid() {
		return nil, fmt.Errorf("center: nil service receiver")
	}
	typ := val.Type()

	svc := make(Service)
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if !m.IsExported() {
			continue
		}
		h, err := Func(val.Method(i).Interface())
		if err != nil {
			continue
		}
		name := lowerFirst(m.Name)
		svc[name] = Method{Kind: KindOf(name), Handler: h}
	}
	if len(svc) == 0 {
		return nil, fmt.Errorf("center: %s has no callable methods", typ)
	}
	return svc, nil
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}
