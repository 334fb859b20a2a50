package cdpdrive

import "reflect"

// handlerPtr returns a comparable identity for a Handler value, used to
// find a specific handler among those registered for an event type. This
// is the same reflect.Value.Pointer comparison idiom net/http and friends
// use for comparing func values, and shares their caveat: two handlers
// created from the same closure literal at different call sites can
// collide, and a handler wrapped in another closure before registration
// can no longer be found this way.
func handlerPtr(h Handler) uintptr {
	if h == nil {
		return 0
	}
	return reflect.ValueOf(h).Pointer()
}
